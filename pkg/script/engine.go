package script

import (
	"bytes"

	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/tx"
)

// TxContext carries the spending transaction for signature and locktime
// opcodes. Amount is the value of the output spent by input Index and
// PrevOuts, when set, holds every spent output in input order.
type TxContext struct {
	Tx       *tx.Transaction
	Index    int
	Amount   int64
	PrevOuts []tx.Output
	Hashes   *SigHashes
}

// hashes returns the cached midstates, computing them on first use.
// Callers sharing one SigHashes across goroutines must set Hashes up front.
func (c *TxContext) hashes() *SigHashes {
	if c.Hashes == nil {
		c.Hashes = NewSigHashes(c.Tx, c.PrevOuts)
	}
	return c.Hashes
}

// engine is the state of a single script evaluation.
type engine struct {
	flags      VerifyFlags
	sigVersion SigVersion
	ctx        *TxContext
	exec       *execData

	script      []byte
	dstack      stack
	astack      stack
	condStack   []int
	numOps      int
	lastCodeSep int
	nextOffset  int
	opIndex     uint32
}

func (vm *engine) isBranchExecuting() bool {
	return len(vm.condStack) == 0 || vm.condStack[len(vm.condStack)-1] == condTrue
}

// subScript returns the script from the last executed OP_CODESEPARATOR.
func (vm *engine) subScript() []byte {
	return vm.script[vm.lastCodeSep:]
}

// EvalScript executes script on top of stack and returns the resulting
// stack. ctx may be nil if the script has no signature or locktime opcodes.
// The input slice is not modified but items are shared.
func EvalScript(stack [][]byte, script []byte, flags VerifyFlags, sigVersion SigVersion, ctx *TxContext) ([][]byte, error) {
	var exec *execData
	if sigVersion == SigVersionTapscript {
		exec = &execData{codeSepPos: NoCodeSeparator, budget: ValidationWeightOffset}
	}
	initial := make([][]byte, len(stack))
	copy(initial, stack)
	return evalScript(initial, script, flags, sigVersion, ctx, exec)
}

// Execute runs a legacy script against an initial stack and succeeds when
// it leaves a true item on top.
func Execute(script []byte, stack [][]byte, flags VerifyFlags, ctx *TxContext) error {
	out, err := EvalScript(stack, script, flags, SigVersionBase, ctx)
	if err != nil {
		return err
	}
	if len(out) == 0 || !asBool(out[len(out)-1]) {
		return scriptError(ErrEvalFalse, "script evaluated to false")
	}
	return nil
}

func evalScript(initial [][]byte, script []byte, flags VerifyFlags, sigVersion SigVersion,
	ctx *TxContext, exec *execData) ([][]byte, error) {

	if (sigVersion == SigVersionBase || sigVersion == SigVersionWitnessV0) && len(script) > MaxScriptSize {
		return nil, scriptErrorf(ErrScriptSize,
			"script size %d is larger than max allowed size %d", len(script), MaxScriptSize)
	}

	vm := &engine{
		flags:      flags,
		sigVersion: sigVersion,
		ctx:        ctx,
		exec:       exec,
		script:     script,
	}
	minimal := flags.Has(VerifyMinimalData)
	vm.dstack = stack{items: initial, verifyMinimalData: minimal}
	vm.astack = stack{verifyMinimalData: minimal}

	t := newTokenizer(script)
	for t.Next() {
		if err := vm.step(t.op, t.data, t.ByteIndex()); err != nil {
			return nil, err
		}
	}
	if err := t.Err(); err != nil {
		return nil, err
	}
	if len(vm.condStack) != 0 {
		return nil, scriptError(ErrUnbalancedConditional, "end of script reached in conditional execution")
	}
	return vm.dstack.items, nil
}

// step executes a single opcode.
func (vm *engine) step(op *opcode, data []byte, next int) error {
	executing := vm.isBranchExecuting()

	if len(data) > MaxScriptElementSize {
		return scriptErrorf(ErrElementTooBig,
			"element size %d exceeds max allowed size %d", len(data), MaxScriptElementSize)
	}

	// Tapscript has no opcode limit and the disabled opcodes are OP_SUCCESS
	// there, caught before execution starts.
	if vm.sigVersion == SigVersionBase || vm.sigVersion == SigVersionWitnessV0 {
		if op.value > OP_16 {
			vm.numOps++
			if vm.numOps > MaxOpsPerScript {
				return scriptErrorf(ErrTooManyOperations,
					"exceeded max operation limit of %d", MaxOpsPerScript)
			}
		}
		if isDisabled(op.value) {
			return scriptErrorf(ErrDisabledOpcode, "attempt to execute disabled opcode %s", op.name)
		}
	}

	vm.nextOffset = next
	if executing || isConditional(op.value) {
		if executing && op.value <= OP_PUSHDATA4 && vm.flags.Has(VerifyMinimalData) {
			if err := checkMinimalDataPush(op, data); err != nil {
				return err
			}
		}
		if vm.dstack.Depth() < op.arity {
			return scriptErrorf(ErrInvalidStackOperation,
				"%s requires %d stack items, have %d", op.name, op.arity, vm.dstack.Depth())
		}
		if err := op.fn(op, data, vm); err != nil {
			return err
		}
	}

	if vm.dstack.Depth()+vm.astack.Depth() > MaxStackSize {
		return scriptErrorf(ErrStackOverflow,
			"combined stack size %d exceeds max allowed %d", vm.dstack.Depth()+vm.astack.Depth(), MaxStackSize)
	}
	vm.opIndex++
	return nil
}

// checkSig dispatches OP_CHECKSIG by signature version.
func (vm *engine) checkSig(sig, pubKey []byte) (bool, error) {
	switch vm.sigVersion {
	case SigVersionBase, SigVersionWitnessV0:
		if err := vm.checkSignatureEncoding(sig); err != nil {
			return false, err
		}
		if err := vm.checkPubKeyEncoding(pubKey); err != nil {
			return false, err
		}
		subScript := vm.subScript()
		if vm.sigVersion == SigVersionBase {
			subScript = findAndDelete(subScript, canonicalPush(sig))
		}
		ok := vm.verifyECDSA(sig, pubKey, subScript)
		if !ok && len(sig) > 0 && vm.flags.Has(VerifyNullFail) {
			return false, scriptError(ErrSigNullFail, "signature not empty on failed checksig")
		}
		return ok, nil

	case SigVersionTapscript:
		return vm.checkTapscriptSig(sig, pubKey)
	}
	return false, scriptErrorf(ErrInternal, "checksig under signature version %s", vm.sigVersion)
}

// verifyECDSA checks sig (with its trailing hash type) against the digest
// of subScript. Encoding checks are the caller's job.
func (vm *engine) verifyECDSA(sig, pubKey, subScript []byte) bool {
	if len(sig) == 0 || vm.ctx == nil {
		return false
	}
	hashType := SigHashType(sig[len(sig)-1])
	der := sig[:len(sig)-1]

	c := vm.ctx
	var hash [32]byte
	if vm.sigVersion == SigVersionWitnessV0 {
		hash = calcWitnessV0SigHash(c.Tx, c.Index, subScript, c.Amount, hashType, c.hashes())
	} else {
		hash = calcLegacySigHash(c.Tx, c.Index, subScript, hashType)
	}
	return crypto.VerifyECDSA(hash[:], der, pubKey)
}

// checkTapscriptSig implements the BIP342 signature opcode rules. An empty
// signature is a valid failing check. Every non-empty one spends budget.
func (vm *engine) checkTapscriptSig(sig, pubKey []byte) (bool, error) {
	if len(sig) > 0 {
		vm.exec.budget -= ValidationWeightPerSigOp
		if vm.exec.budget < 0 {
			return false, scriptError(ErrTapscriptValidationWeight, "tapscript validation weight exceeded")
		}
	}
	switch {
	case len(pubKey) == 0:
		return false, scriptError(ErrTaprootPubKeyEmpty, "tapscript public key is empty")
	case len(pubKey) == crypto.XOnlyPubKeySize:
		if len(sig) > 0 {
			if err := checkSchnorrSignature(sig, pubKey, vm.ctx, vm.exec); err != nil {
				return false, err
			}
		}
	default:
		if vm.flags.Has(VerifyDiscourageUpgradablePubKeyType) {
			return false, scriptErrorf(ErrDiscourageUpgradablePubKeyType,
				"public key of length %d reserved for upgrades", len(pubKey))
		}
	}
	return len(sig) > 0, nil
}

// checkSchnorrSignature verifies a 64 or 65 byte BIP340 signature against
// the taproot digest for exec.
func checkSchnorrSignature(sig, pubKey []byte, ctx *TxContext, exec *execData) error {
	if ctx == nil {
		return scriptError(ErrMissingTxContext, "schnorr signature check needs a transaction")
	}
	hashType := SigHashDefault
	switch len(sig) {
	case crypto.SchnorrSigSize:
	case crypto.SchnorrSigSize + 1:
		hashType = SigHashType(sig[crypto.SchnorrSigSize])
		if hashType == SigHashDefault {
			return scriptError(ErrSchnorrSigHashType, "explicit SIGHASH_DEFAULT byte is not allowed")
		}
		sig = sig[:crypto.SchnorrSigSize]
	default:
		return scriptErrorf(ErrSchnorrSigSize, "invalid schnorr signature length %d", len(sig))
	}

	hash, err := calcTaprootSigHash(ctx.Tx, ctx.Index, hashType, ctx.hashes(), ctx.PrevOuts, exec)
	if err != nil {
		return err
	}
	if !crypto.VerifySchnorr(hash[:], sig, pubKey) {
		return scriptError(ErrSchnorrSig, "invalid schnorr signature")
	}
	return nil
}

// VerifyScript checks that scriptSig and witness satisfy pkScript for the
// input described by ctx.
func VerifyScript(scriptSig, pkScript []byte, witness tx.Witness, flags VerifyFlags, ctx *TxContext) error {
	stack, err := evalScript(nil, scriptSig, flags, SigVersionBase, ctx, nil)
	if err != nil {
		return err
	}
	var p2shStack [][]byte
	if flags.Has(VerifyP2SH) {
		p2shStack = append([][]byte(nil), stack...)
	}

	stack, err = evalScript(stack, pkScript, flags, SigVersionBase, ctx, nil)
	if err != nil {
		return err
	}
	if len(stack) == 0 || !asBool(stack[len(stack)-1]) {
		return scriptError(ErrEvalFalse, "script evaluated to false")
	}

	hadWitness := false
	if flags.Has(VerifyWitness) {
		if version, program, ok := ExtractWitnessProgram(pkScript); ok {
			hadWitness = true
			if len(scriptSig) != 0 {
				return scriptError(ErrWitnessMalleated, "native witness program with non-empty signature script")
			}
			if err := verifyWitnessProgram(witness, version, program, flags, ctx, false); err != nil {
				return err
			}
			stack = stack[:1]
		}
	}

	if flags.Has(VerifyP2SH) && IsPayToScriptHash(pkScript) {
		if !IsPushOnly(scriptSig) {
			return scriptError(ErrSigPushOnly, "pay-to-script-hash signature script is not push only")
		}
		// p2shStack cannot be empty: HASH160 on an empty stack fails above.
		stack = p2shStack
		redeemScript := stack[len(stack)-1]
		stack, err = evalScript(stack[:len(stack)-1], redeemScript, flags, SigVersionBase, ctx, nil)
		if err != nil {
			return err
		}
		if len(stack) == 0 || !asBool(stack[len(stack)-1]) {
			return scriptError(ErrEvalFalse, "redeem script evaluated to false")
		}

		if flags.Has(VerifyWitness) {
			if version, program, ok := ExtractWitnessProgram(redeemScript); ok {
				hadWitness = true
				if !bytes.Equal(scriptSig, canonicalPush(redeemScript)) {
					return scriptError(ErrWitnessMalleatedP2SH,
						"signature script for witness nested p2sh is not a single canonical push")
				}
				if err := verifyWitnessProgram(witness, version, program, flags, ctx, true); err != nil {
					return err
				}
				stack = stack[:1]
			}
		}
	}

	if flags.Has(VerifyCleanStack) && len(stack) != 1 {
		return scriptErrorf(ErrCleanStack, "stack must contain exactly one item, has %d", len(stack))
	}
	if flags.Has(VerifyWitness) && !hadWitness && len(witness) > 0 {
		return scriptError(ErrWitnessUnexpected, "non-witness input carries witness data")
	}
	return nil
}

// verifyWitnessProgram evaluates a version/program pair with its witness.
func verifyWitnessProgram(witness tx.Witness, version int, program []byte, flags VerifyFlags,
	ctx *TxContext, isP2SH bool) error {

	switch {
	case version == 0 && len(program) == 32:
		if len(witness) == 0 {
			return scriptError(ErrWitnessProgramWitnessEmpty, "witness program witness is empty")
		}
		witnessScript := witness[len(witness)-1]
		h := crypto.Sha256(witnessScript)
		if !bytes.Equal(h[:], program) {
			return scriptError(ErrWitnessProgramMismatch, "witness script hash does not match program")
		}
		stack := append([][]byte(nil), witness[:len(witness)-1]...)
		return executeWitnessScript(stack, witnessScript, flags, SigVersionWitnessV0, ctx, nil)

	case version == 0 && len(program) == 20:
		if len(witness) != 2 {
			return scriptErrorf(ErrWitnessProgramMismatch,
				"pay-to-witness-pubkey-hash needs 2 witness items, have %d", len(witness))
		}
		stack := append([][]byte(nil), witness...)
		return executeWitnessScript(stack, PayToPubKeyHashScript(program), flags, SigVersionWitnessV0, ctx, nil)

	case version == 0:
		return scriptErrorf(ErrWitnessProgramWrongLength,
			"witness v0 program must be 20 or 32 bytes, got %d", len(program))

	case version == 1 && len(program) == 32 && !isP2SH:
		if !flags.Has(VerifyTaproot) {
			return nil
		}
		return verifyTaproot(witness, program, flags, ctx)
	}

	if flags.Has(VerifyDiscourageUpgradableWitnessProgram) {
		return scriptErrorf(ErrDiscourageUpgradableWitnessProgram,
			"witness version %d reserved for upgrades", version)
	}
	return nil
}

// verifyTaproot handles key-path and script-path spends of a v1 output.
func verifyTaproot(witness tx.Witness, program []byte, flags VerifyFlags, ctx *TxContext) error {
	if len(witness) == 0 {
		return scriptError(ErrWitnessProgramWitnessEmpty, "taproot witness is empty")
	}
	exec := &execData{annex: witness.Annex(), codeSepPos: NoCodeSeparator}
	stack := witness.Stack()

	if len(stack) == 1 {
		return checkSchnorrSignature(stack[0], program, ctx, exec)
	}

	control := stack[len(stack)-1]
	leafScript := stack[len(stack)-2]
	if !tx.IsControlBlock(control) {
		return scriptErrorf(ErrTaprootWrongControlSize, "invalid control block size %d", len(control))
	}
	leafVersion := control[0] & TaprootLeafMask
	exec.scriptPath = true
	exec.tapleafHash = TapLeafHash(leafVersion, leafScript)
	if err := verifyCommitment(control, program, exec.tapleafHash); err != nil {
		return err
	}

	if leafVersion != TapscriptLeafVersion {
		if flags.Has(VerifyDiscourageUpgradableTaprootVersion) {
			return scriptErrorf(ErrDiscourageUpgradableTaprootVersion,
				"leaf version 0x%02x reserved for upgrades", leafVersion)
		}
		return nil
	}

	exec.budget = int64(witness.SerializeSize()) + ValidationWeightOffset
	rest := append([][]byte(nil), stack[:len(stack)-2]...)
	return executeWitnessScript(rest, leafScript, flags, SigVersionTapscript, ctx, exec)
}

// executeWitnessScript runs a witness script and applies the implicit
// clean stack rule.
func executeWitnessScript(stack [][]byte, script []byte, flags VerifyFlags, sigVersion SigVersion,
	ctx *TxContext, exec *execData) error {

	if sigVersion == SigVersionTapscript {
		t := newTokenizer(script)
		for t.Next() {
			if isOpSuccess(t.op.value) {
				if flags.Has(VerifyDiscourageOpSuccess) {
					return scriptErrorf(ErrDiscourageOpSuccess, "%s reserved for upgrades", t.op.name)
				}
				return nil
			}
		}
		if err := t.Err(); err != nil {
			return scriptError(ErrBadOpcode, err.Error())
		}
		if len(stack) > MaxStackSize {
			return scriptErrorf(ErrStackOverflow,
				"initial stack size %d exceeds max allowed %d", len(stack), MaxStackSize)
		}
	}

	for _, item := range stack {
		if len(item) > MaxScriptElementSize {
			return scriptErrorf(ErrElementTooBig,
				"witness element size %d exceeds max allowed size %d", len(item), MaxScriptElementSize)
		}
	}

	out, err := evalScript(stack, script, flags, sigVersion, ctx, exec)
	if err != nil {
		return err
	}
	if len(out) != 1 {
		return scriptErrorf(ErrCleanStack, "witness script left %d stack items, want 1", len(out))
	}
	if !asBool(out[0]) {
		return scriptError(ErrEvalFalse, "witness script evaluated to false")
	}
	return nil
}
