package script

import (
	"bytes"

	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/tx"
)

// Conditional execution states kept on the condition stack.
const (
	condFalse = 0
	condTrue  = 1
	condSkip  = 2
)

func opcodeInvalid(op *opcode, data []byte, vm *engine) error {
	return scriptErrorf(ErrBadOpcode, "attempt to execute invalid opcode %s", op.name)
}

func opcodeDisabled(op *opcode, data []byte, vm *engine) error {
	return scriptErrorf(ErrDisabledOpcode, "attempt to execute disabled opcode %s", op.name)
}

func opcodeReserved(op *opcode, data []byte, vm *engine) error {
	return scriptErrorf(ErrReservedOpcode, "attempt to execute reserved opcode %s", op.name)
}

func opcodeFalse(op *opcode, data []byte, vm *engine) error {
	vm.dstack.PushByteArray(nil)
	return nil
}

func opcodePushData(op *opcode, data []byte, vm *engine) error {
	vm.dstack.PushByteArray(data)
	return nil
}

func opcode1Negate(op *opcode, data []byte, vm *engine) error {
	vm.dstack.PushInt(scriptNum(-1))
	return nil
}

func opcodeN(op *opcode, data []byte, vm *engine) error {
	vm.dstack.PushInt(scriptNum(op.value - (OP_1 - 1)))
	return nil
}

func opcodeNop(op *opcode, data []byte, vm *engine) error {
	if op.value != OP_NOP && vm.flags.Has(VerifyDiscourageUpgradableNops) {
		return scriptErrorf(ErrDiscourageUpgradableNOPs,
			"%s reserved for soft-fork upgrades", op.name)
	}
	return nil
}

// popIfBool pops the OP_IF/OP_NOTIF argument. Tapscript, and segwit v0
// under VerifyMinimalIf, require it to be empty or exactly 0x01.
func popIfBool(vm *engine) (bool, error) {
	minimal := vm.sigVersion == SigVersionTapscript ||
		(vm.sigVersion == SigVersionWitnessV0 && vm.flags.Has(VerifyMinimalIf))
	if !minimal {
		return vm.dstack.PopBool()
	}
	so, err := vm.dstack.PopByteArray()
	if err != nil {
		return false, err
	}
	if len(so) > 1 || (len(so) == 1 && so[0] != 1) {
		code := ErrMinimalIf
		if vm.sigVersion == SigVersionTapscript {
			code = ErrTapscriptMinimalIf
		}
		return false, scriptErrorf(code, "conditional argument %x is not minimal", so)
	}
	return asBool(so), nil
}

func opcodeIf(op *opcode, data []byte, vm *engine) error {
	return evalIf(op, vm, false)
}

func opcodeNotIf(op *opcode, data []byte, vm *engine) error {
	return evalIf(op, vm, true)
}

func evalIf(op *opcode, vm *engine, negate bool) error {
	cond := condSkip
	if vm.isBranchExecuting() {
		if vm.dstack.Depth() < 1 {
			return scriptErrorf(ErrUnbalancedConditional, "%s with empty stack", op.name)
		}
		ok, err := popIfBool(vm)
		if err != nil {
			return err
		}
		if ok != negate {
			cond = condTrue
		} else {
			cond = condFalse
		}
	}
	vm.condStack = append(vm.condStack, cond)
	return nil
}

func opcodeElse(op *opcode, data []byte, vm *engine) error {
	if len(vm.condStack) == 0 {
		return scriptError(ErrUnbalancedConditional, "OP_ELSE without matching OP_IF")
	}
	top := len(vm.condStack) - 1
	switch vm.condStack[top] {
	case condTrue:
		vm.condStack[top] = condFalse
	case condFalse:
		vm.condStack[top] = condTrue
	}
	return nil
}

func opcodeEndif(op *opcode, data []byte, vm *engine) error {
	if len(vm.condStack) == 0 {
		return scriptError(ErrUnbalancedConditional, "OP_ENDIF without matching OP_IF")
	}
	vm.condStack = vm.condStack[:len(vm.condStack)-1]
	return nil
}

// abstractVerify pops the top item and fails with c when it is false.
func abstractVerify(op *opcode, vm *engine, c ErrorCode) error {
	ok, err := vm.dstack.PopBool()
	if err != nil {
		return err
	}
	if !ok {
		return scriptErrorf(c, "%s failed", op.name)
	}
	return nil
}

func opcodeVerify(op *opcode, data []byte, vm *engine) error {
	return abstractVerify(op, vm, ErrVerify)
}

func opcodeReturn(op *opcode, data []byte, vm *engine) error {
	return scriptError(ErrEarlyReturn, "script returned early")
}

func verifyLockTime(txLockTime, threshold, lockTime int64) error {
	if !((txLockTime < threshold && lockTime < threshold) ||
		(txLockTime >= threshold && lockTime >= threshold)) {
		return scriptErrorf(ErrUnsatisfiedLockTime,
			"mismatched locktime types: tx %d, script %d", txLockTime, lockTime)
	}
	if lockTime > txLockTime {
		return scriptErrorf(ErrUnsatisfiedLockTime,
			"locktime requirement not satisfied: script %d > tx %d", lockTime, txLockTime)
	}
	return nil
}

func opcodeCheckLockTimeVerify(op *opcode, data []byte, vm *engine) error {
	if !vm.flags.Has(VerifyCheckLockTimeVerify) {
		return opcodeNop(op, data, vm)
	}
	lockTime, err := vm.dstack.PeekInt(0, lockTimeNumLen)
	if err != nil {
		return err
	}
	if lockTime < 0 {
		return scriptErrorf(ErrNegativeLockTime, "negative lock time %d", lockTime)
	}
	if vm.ctx == nil {
		return scriptError(ErrMissingTxContext, "OP_CHECKLOCKTIMEVERIFY needs a transaction")
	}
	t := vm.ctx.Tx
	if err := verifyLockTime(int64(t.LockTime), int64(tx.LockTimeThreshold), int64(lockTime)); err != nil {
		return err
	}
	// A final sequence disables the transaction's lock time.
	if t.Inputs[vm.ctx.Index].Sequence == tx.SequenceFinal {
		return scriptError(ErrUnsatisfiedLockTime, "transaction input is finalized")
	}
	return nil
}

func opcodeCheckSequenceVerify(op *opcode, data []byte, vm *engine) error {
	if !vm.flags.Has(VerifyCheckSequenceVerify) {
		return opcodeNop(op, data, vm)
	}
	stackSeq, err := vm.dstack.PeekInt(0, lockTimeNumLen)
	if err != nil {
		return err
	}
	if stackSeq < 0 {
		return scriptErrorf(ErrNegativeLockTime, "negative sequence %d", stackSeq)
	}
	seq := int64(stackSeq)
	if seq&int64(tx.SequenceLockTimeDisabled) != 0 {
		return nil
	}
	if vm.ctx == nil {
		return scriptError(ErrMissingTxContext, "OP_CHECKSEQUENCEVERIFY needs a transaction")
	}
	t := vm.ctx.Tx
	if uint32(t.Version) < 2 {
		return scriptErrorf(ErrUnsatisfiedLockTime, "invalid transaction version %d", t.Version)
	}
	txSeq := int64(t.Inputs[vm.ctx.Index].Sequence)
	if txSeq&int64(tx.SequenceLockTimeDisabled) != 0 {
		return scriptErrorf(ErrUnsatisfiedLockTime, "transaction sequence has disable bit set: %x", txSeq)
	}
	mask := int64(tx.SequenceLockTimeIsSeconds | tx.SequenceLockTimeMask)
	return verifyLockTime(txSeq&mask, int64(tx.SequenceLockTimeIsSeconds), seq&mask)
}

func opcodeToAltStack(op *opcode, data []byte, vm *engine) error {
	so, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	vm.astack.PushByteArray(so)
	return nil
}

func opcodeFromAltStack(op *opcode, data []byte, vm *engine) error {
	so, err := vm.astack.PopByteArray()
	if err != nil {
		return scriptError(ErrInvalidAltStackOperation, "OP_FROMALTSTACK with empty alt stack")
	}
	vm.dstack.PushByteArray(so)
	return nil
}

func opcode2Drop(op *opcode, data []byte, vm *engine) error { return vm.dstack.DropN(2) }
func opcode2Dup(op *opcode, data []byte, vm *engine) error  { return vm.dstack.DupN(2) }
func opcode3Dup(op *opcode, data []byte, vm *engine) error  { return vm.dstack.DupN(3) }
func opcode2Over(op *opcode, data []byte, vm *engine) error { return vm.dstack.OverN(2) }
func opcode2Rot(op *opcode, data []byte, vm *engine) error  { return vm.dstack.RotN(2) }
func opcode2Swap(op *opcode, data []byte, vm *engine) error { return vm.dstack.SwapN(2) }
func opcodeDrop(op *opcode, data []byte, vm *engine) error  { return vm.dstack.DropN(1) }
func opcodeDup(op *opcode, data []byte, vm *engine) error   { return vm.dstack.DupN(1) }
func opcodeNip(op *opcode, data []byte, vm *engine) error   { return vm.dstack.NipN(1) }
func opcodeOver(op *opcode, data []byte, vm *engine) error  { return vm.dstack.OverN(1) }
func opcodeRot(op *opcode, data []byte, vm *engine) error   { return vm.dstack.RotN(1) }
func opcodeSwap(op *opcode, data []byte, vm *engine) error  { return vm.dstack.SwapN(1) }
func opcodeTuck(op *opcode, data []byte, vm *engine) error  { return vm.dstack.Tuck() }

func opcodeIfDup(op *opcode, data []byte, vm *engine) error {
	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	if asBool(so) {
		vm.dstack.PushByteArray(so)
	}
	return nil
}

func opcodeDepth(op *opcode, data []byte, vm *engine) error {
	vm.dstack.PushInt(scriptNum(vm.dstack.Depth()))
	return nil
}

// popDepthArg pops an index for PICK/ROLL and checks it against the
// remaining stack.
func popDepthArg(op *opcode, vm *engine) (int, error) {
	n, err := vm.dstack.PopInt()
	if err != nil {
		return 0, err
	}
	if n < 0 || int64(n) >= int64(vm.dstack.Depth()) {
		return 0, scriptErrorf(ErrInvalidStackOperation,
			"%s index %d out of range for stack size %d", op.name, n, vm.dstack.Depth())
	}
	return int(n.Int32()), nil
}

func opcodePick(op *opcode, data []byte, vm *engine) error {
	n, err := popDepthArg(op, vm)
	if err != nil {
		return err
	}
	return vm.dstack.PickN(n)
}

func opcodeRoll(op *opcode, data []byte, vm *engine) error {
	n, err := popDepthArg(op, vm)
	if err != nil {
		return err
	}
	return vm.dstack.RollN(n)
}

func opcodeSize(op *opcode, data []byte, vm *engine) error {
	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	vm.dstack.PushInt(scriptNum(len(so)))
	return nil
}

func opcodeEqual(op *opcode, data []byte, vm *engine) error {
	a, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	b, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	vm.dstack.PushBool(bytes.Equal(a, b))
	return nil
}

func opcodeEqualVerify(op *opcode, data []byte, vm *engine) error {
	if err := opcodeEqual(op, data, vm); err != nil {
		return err
	}
	return abstractVerify(op, vm, ErrEqualVerify)
}

func opcodeUnaryNum(op *opcode, data []byte, vm *engine) error {
	n, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	switch op.value {
	case OP_1ADD:
		n++
	case OP_1SUB:
		n--
	case OP_NEGATE:
		n = -n
	case OP_ABS:
		if n < 0 {
			n = -n
		}
	case OP_NOT:
		if n == 0 {
			n = 1
		} else {
			n = 0
		}
	case OP_0NOTEQUAL:
		if n != 0 {
			n = 1
		}
	}
	vm.dstack.PushInt(n)
	return nil
}

func boolNum(v bool) scriptNum {
	if v {
		return 1
	}
	return 0
}

func opcodeBinaryNum(op *opcode, data []byte, vm *engine) error {
	b, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	a, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	var r scriptNum
	switch op.value {
	case OP_ADD:
		r = a + b
	case OP_SUB:
		r = a - b
	case OP_BOOLAND:
		r = boolNum(a != 0 && b != 0)
	case OP_BOOLOR:
		r = boolNum(a != 0 || b != 0)
	case OP_NUMEQUAL, OP_NUMEQUALVERIFY:
		r = boolNum(a == b)
	case OP_NUMNOTEQUAL:
		r = boolNum(a != b)
	case OP_LESSTHAN:
		r = boolNum(a < b)
	case OP_GREATERTHAN:
		r = boolNum(a > b)
	case OP_LESSTHANOREQUAL:
		r = boolNum(a <= b)
	case OP_GREATERTHANOREQUAL:
		r = boolNum(a >= b)
	case OP_MIN:
		r = min(a, b)
	case OP_MAX:
		r = max(a, b)
	}
	vm.dstack.PushInt(r)
	return nil
}

func opcodeNumEqualVerify(op *opcode, data []byte, vm *engine) error {
	if err := opcodeBinaryNum(op, data, vm); err != nil {
		return err
	}
	return abstractVerify(op, vm, ErrNumEqualVerify)
}

func opcodeWithin(op *opcode, data []byte, vm *engine) error {
	maxVal, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	minVal, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	x, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	vm.dstack.PushBool(minVal <= x && x < maxVal)
	return nil
}

func opcodeHash(op *opcode, data []byte, vm *engine) error {
	so, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	switch op.value {
	case OP_RIPEMD160:
		vm.dstack.PushByteArray(crypto.Ripemd160(so))
	case OP_SHA1:
		vm.dstack.PushByteArray(crypto.Sha1(so))
	case OP_SHA256:
		h := crypto.Sha256(so)
		vm.dstack.PushByteArray(h[:])
	case OP_HASH160:
		vm.dstack.PushByteArray(crypto.Hash160(so))
	case OP_HASH256:
		h := crypto.DoubleSha256(so)
		vm.dstack.PushByteArray(h[:])
	}
	return nil
}

func opcodeCodeSeparator(op *opcode, data []byte, vm *engine) error {
	vm.lastCodeSep = vm.nextOffset
	if vm.exec != nil {
		vm.exec.codeSepPos = vm.opIndex
	}
	return nil
}

func opcodeCheckSig(op *opcode, data []byte, vm *engine) error {
	pubKey, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	sig, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	ok, err := vm.checkSig(sig, pubKey)
	if err != nil {
		return err
	}
	vm.dstack.PushBool(ok)
	return nil
}

func opcodeCheckSigVerify(op *opcode, data []byte, vm *engine) error {
	if err := opcodeCheckSig(op, data, vm); err != nil {
		return err
	}
	return abstractVerify(op, vm, ErrCheckSigVerify)
}

func opcodeCheckSigAdd(op *opcode, data []byte, vm *engine) error {
	if vm.sigVersion != SigVersionTapscript {
		return opcodeInvalid(op, data, vm)
	}
	pubKey, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	n, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	sig, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	ok, err := vm.checkTapscriptSig(sig, pubKey)
	if err != nil {
		return err
	}
	if ok {
		n++
	}
	vm.dstack.PushInt(n)
	return nil
}

func opcodeCheckMultiSig(op *opcode, data []byte, vm *engine) error {
	if vm.sigVersion == SigVersionTapscript {
		return scriptErrorf(ErrTapscriptCheckMultiSig, "%s is disabled in tapscript", op.name)
	}

	nKeys, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	numPubKeys := int(nKeys.Int32())
	if numPubKeys < 0 || numPubKeys > MaxPubKeysPerMultiSig {
		return scriptErrorf(ErrInvalidPubKeyCount,
			"number of pubkeys %d is out of range [0, %d]", numPubKeys, MaxPubKeysPerMultiSig)
	}
	vm.numOps += numPubKeys
	if vm.numOps > MaxOpsPerScript {
		return scriptErrorf(ErrTooManyOperations, "exceeded max operation limit of %d", MaxOpsPerScript)
	}

	// Popping yields the last pushed key first, so matching walks keys and
	// signatures from the top down.
	pubKeys := make([][]byte, 0, numPubKeys)
	for i := 0; i < numPubKeys; i++ {
		pk, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		pubKeys = append(pubKeys, pk)
	}

	nSigs, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	numSigs := int(nSigs.Int32())
	if numSigs < 0 || numSigs > numPubKeys {
		return scriptErrorf(ErrInvalidSignatureCount,
			"number of signatures %d is out of range [0, %d]", numSigs, numPubKeys)
	}
	sigs := make([][]byte, 0, numSigs)
	for i := 0; i < numSigs; i++ {
		sig, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		sigs = append(sigs, sig)
	}

	dummy, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	subScript := vm.subScript()
	if vm.sigVersion == SigVersionBase {
		for _, sig := range sigs {
			subScript = findAndDelete(subScript, canonicalPush(sig))
		}
	}

	success := true
	keyIdx, sigIdx := 0, 0
	for success && numSigs-sigIdx > 0 {
		sig := sigs[sigIdx]
		pubKey := pubKeys[keyIdx]

		if err := vm.checkSignatureEncoding(sig); err != nil {
			return err
		}
		if err := vm.checkPubKeyEncoding(pubKey); err != nil {
			return err
		}
		if vm.verifyECDSA(sig, pubKey, subScript) {
			sigIdx++
		}
		keyIdx++
		if numSigs-sigIdx > numPubKeys-keyIdx {
			success = false
		}
	}

	if !success && vm.flags.Has(VerifyNullFail) {
		for _, sig := range sigs {
			if len(sig) > 0 {
				return scriptError(ErrSigNullFail, "not all signatures empty on failed checkmultisig")
			}
		}
	}
	if vm.flags.Has(VerifyNullDummy) && len(dummy) != 0 {
		return scriptErrorf(ErrSigNullDummy, "multisig dummy argument has length %d instead of 0", len(dummy))
	}

	vm.dstack.PushBool(success)
	return nil
}

func opcodeCheckMultiSigVerify(op *opcode, data []byte, vm *engine) error {
	if err := opcodeCheckMultiSig(op, data, vm); err != nil {
		return err
	}
	return abstractVerify(op, vm, ErrCheckMultiSigVerify)
}
