package script

import (
	"encoding/binary"

	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// SigHashType selects which parts of a transaction a signature commits to.
type SigHashType uint32

// Signature hash types.
const (
	SigHashDefault      SigHashType = 0x00
	SigHashAll          SigHashType = 0x01
	SigHashNone         SigHashType = 0x02
	SigHashSingle       SigHashType = 0x03
	SigHashAnyOneCanPay SigHashType = 0x80

	sigHashMask = 0x1f
)

// SigVersion selects the signature digest algorithm and the rules applied
// while executing a script.
type SigVersion uint8

// Signature digest variants.
const (
	SigVersionBase SigVersion = iota
	SigVersionWitnessV0
	SigVersionTaproot
	SigVersionTapscript
)

// String returns the variant name.
func (v SigVersion) String() string {
	switch v {
	case SigVersionBase:
		return "legacy"
	case SigVersionWitnessV0:
		return "witness_v0"
	case SigVersionTaproot:
		return "taproot"
	case SigVersionTapscript:
		return "tapscript"
	}
	return "unknown"
}

// NoCodeSeparator is the codeseparator position when none was executed.
const NoCodeSeparator uint32 = 0xffffffff

// taprootSighashEpoch prefixes every taproot signature message.
const taprootSighashEpoch = 0x00

// SigHashes holds the per-transaction midstates shared by every input's
// segwit v0 and taproot digests.
type SigHashes struct {
	HashPrevOutsV0 types.Hash
	HashSequenceV0 types.Hash
	HashOutputsV0  types.Hash

	HashPrevOuts      types.Hash
	HashAmounts       types.Hash
	HashScriptPubKeys types.Hash
	HashSequence      types.Hash
	HashOutputs       types.Hash

	hasPrevOuts bool
}

// NewSigHashes computes the midstates for t. prevOuts must hold the spent
// outputs in input order for taproot digests. It may be nil when only
// legacy and segwit v0 digests are needed.
func NewSigHashes(t *tx.Transaction, prevOuts []tx.Output) *SigHashes {
	var prevBuf, seqBuf, outBuf []byte
	for i := range t.Inputs {
		prevBuf = tx.AppendOutPoint(prevBuf, &t.Inputs[i])
		seqBuf = binary.LittleEndian.AppendUint32(seqBuf, t.Inputs[i].Sequence)
	}
	for i := range t.Outputs {
		outBuf = t.Outputs[i].AppendTo(outBuf)
	}

	h := &SigHashes{
		HashPrevOuts: crypto.Sha256(prevBuf),
		HashSequence: crypto.Sha256(seqBuf),
		HashOutputs:  crypto.Sha256(outBuf),
	}
	h.HashPrevOutsV0 = crypto.Sha256(h.HashPrevOuts[:])
	h.HashSequenceV0 = crypto.Sha256(h.HashSequence[:])
	h.HashOutputsV0 = crypto.Sha256(h.HashOutputs[:])

	if len(prevOuts) == len(t.Inputs) {
		var amtBuf, spkBuf []byte
		for i := range prevOuts {
			amtBuf = binary.LittleEndian.AppendUint64(amtBuf, uint64(prevOuts[i].Value))
			spkBuf = tx.AppendVarBytes(spkBuf, prevOuts[i].Script)
		}
		h.HashAmounts = crypto.Sha256(amtBuf)
		h.HashScriptPubKeys = crypto.Sha256(spkBuf)
		h.hasPrevOuts = true
	}
	return h
}

// execData is the taproot execution context committed to by signatures.
type execData struct {
	annex       []byte
	scriptPath  bool
	tapleafHash types.Hash
	codeSepPos  uint32
	budget      int64
}

// sigHashOne is the digest returned for SIGHASH_SINGLE without a matching
// output. Signing it is a long-standing consensus quirk.
var sigHashOne = types.Hash{0x01}

// SignatureHash computes the digest a signature for input idx commits to.
//
// For SigVersionBase and SigVersionWitnessV0, scriptCode is the script being
// executed from the last OP_CODESEPARATOR and amount is the spent value. For
// SigVersionTaproot and SigVersionTapscript both are ignored: the annex,
// spend type and tapleaf come from the input's witness and the values from
// prevOuts, which must cover every input. codeSepPos is the opcode position
// of the last executed OP_CODESEPARATOR, or NoCodeSeparator.
//
// The taproot spend type follows Witness.SpendType, so a witness whose
// control block has the wrong size gets the key-path digest. VerifyScript
// rejects that witness before any signature is checked.
func SignatureHash(t *tx.Transaction, idx int, scriptCode []byte, amount int64, hashType SigHashType,
	version SigVersion, prevOuts []tx.Output, codeSepPos uint32) (types.Hash, error) {

	if idx < 0 || idx >= len(t.Inputs) {
		return types.Hash{}, scriptErrorf(ErrInternal, "input index %d out of range for %d inputs", idx, len(t.Inputs))
	}
	switch version {
	case SigVersionBase:
		return calcLegacySigHash(t, idx, scriptCode, hashType), nil

	case SigVersionWitnessV0:
		return calcWitnessV0SigHash(t, idx, scriptCode, amount, hashType, NewSigHashes(t, nil)), nil

	case SigVersionTaproot, SigVersionTapscript:
		w := t.Inputs[idx].Witness
		exec := &execData{annex: w.Annex(), codeSepPos: codeSepPos}
		if leaf := w.Tapleaf(); leaf != nil {
			exec.scriptPath = true
			exec.tapleafHash = TapLeafHash(w.ControlBlock()[0]&TaprootLeafMask, leaf)
		}
		return calcTaprootSigHash(t, idx, hashType, NewSigHashes(t, prevOuts), prevOuts, exec)
	}
	return types.Hash{}, scriptErrorf(ErrInternal, "unknown signature version %d", version)
}

// calcLegacySigHash implements the original transaction digest: a modified
// copy of the transaction serialized with the hash type appended.
func calcLegacySigHash(t *tx.Transaction, idx int, scriptCode []byte, hashType SigHashType) types.Hash {
	base := hashType & sigHashMask
	if idx >= len(t.Inputs) || (base == SigHashSingle && idx >= len(t.Outputs)) {
		return sigHashOne
	}
	scriptCode = removeOpcode(scriptCode, OP_CODESEPARATOR)
	acp := hashType&SigHashAnyOneCanPay != 0

	buf := make([]byte, 0, t.BaseSize()+len(scriptCode)+4)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(t.Version))

	if acp {
		in := &t.Inputs[idx]
		buf = tx.AppendVarInt(buf, 1)
		buf = tx.AppendOutPoint(buf, in)
		buf = tx.AppendVarBytes(buf, scriptCode)
		buf = binary.LittleEndian.AppendUint32(buf, in.Sequence)
	} else {
		buf = tx.AppendVarInt(buf, uint64(len(t.Inputs)))
		for i := range t.Inputs {
			in := &t.Inputs[i]
			buf = tx.AppendOutPoint(buf, in)
			if i == idx {
				buf = tx.AppendVarBytes(buf, scriptCode)
			} else {
				buf = tx.AppendVarInt(buf, 0)
			}
			seq := in.Sequence
			if i != idx && (base == SigHashNone || base == SigHashSingle) {
				seq = 0
			}
			buf = binary.LittleEndian.AppendUint32(buf, seq)
		}
	}

	switch base {
	case SigHashNone:
		buf = tx.AppendVarInt(buf, 0)
	case SigHashSingle:
		buf = tx.AppendVarInt(buf, uint64(idx+1))
		for i := 0; i < idx; i++ {
			buf = binary.LittleEndian.AppendUint64(buf, 0xffffffffffffffff)
			buf = tx.AppendVarInt(buf, 0)
		}
		buf = t.Outputs[idx].AppendTo(buf)
	default:
		buf = tx.AppendVarInt(buf, uint64(len(t.Outputs)))
		for i := range t.Outputs {
			buf = t.Outputs[i].AppendTo(buf)
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, t.LockTime)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(hashType))
	return crypto.DoubleSha256(buf)
}

// calcWitnessV0SigHash implements the BIP143 digest.
func calcWitnessV0SigHash(t *tx.Transaction, idx int, scriptCode []byte, amount int64,
	hashType SigHashType, hashes *SigHashes) types.Hash {

	base := hashType & sigHashMask
	acp := hashType&SigHashAnyOneCanPay != 0
	var zero types.Hash

	buf := make([]byte, 0, 156+len(scriptCode))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(t.Version))

	if acp {
		buf = append(buf, zero[:]...)
	} else {
		buf = append(buf, hashes.HashPrevOutsV0[:]...)
	}
	if acp || base == SigHashSingle || base == SigHashNone {
		buf = append(buf, zero[:]...)
	} else {
		buf = append(buf, hashes.HashSequenceV0[:]...)
	}

	in := &t.Inputs[idx]
	buf = tx.AppendOutPoint(buf, in)
	buf = tx.AppendVarBytes(buf, scriptCode)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(amount))
	buf = binary.LittleEndian.AppendUint32(buf, in.Sequence)

	switch {
	case base != SigHashSingle && base != SigHashNone:
		buf = append(buf, hashes.HashOutputsV0[:]...)
	case base == SigHashSingle && idx < len(t.Outputs):
		h := crypto.DoubleSha256(t.Outputs[idx].Serialize())
		buf = append(buf, h[:]...)
	default:
		buf = append(buf, zero[:]...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, t.LockTime)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(hashType))
	return crypto.DoubleSha256(buf)
}

// isValidTaprootHashType reports whether ht is one of 0x00-0x03, 0x81-0x83.
func isValidTaprootHashType(ht SigHashType) bool {
	return ht <= SigHashSingle || (ht >= 0x81 && ht <= 0x83)
}

// calcTaprootSigHash implements the BIP341 signature message, extended by
// BIP342 for script-path spends, hashed under the TapSighash tag.
func calcTaprootSigHash(t *tx.Transaction, idx int, hashType SigHashType, hashes *SigHashes,
	prevOuts []tx.Output, exec *execData) (types.Hash, error) {

	if !isValidTaprootHashType(hashType) {
		return types.Hash{}, scriptErrorf(ErrSchnorrSigHashType, "invalid taproot sighash type 0x%02x", uint32(hashType))
	}
	if len(prevOuts) != len(t.Inputs) || !hashes.hasPrevOuts {
		return types.Hash{}, scriptErrorf(ErrMissingTxContext,
			"taproot digest needs %d spent outputs, have %d", len(t.Inputs), len(prevOuts))
	}

	outType := hashType & 0x03
	if hashType == SigHashDefault {
		outType = SigHashAll
	}
	acp := hashType&SigHashAnyOneCanPay != 0

	msg := make([]byte, 0, 256)
	msg = append(msg, taprootSighashEpoch, byte(hashType))
	msg = binary.LittleEndian.AppendUint32(msg, uint32(t.Version))
	msg = binary.LittleEndian.AppendUint32(msg, t.LockTime)

	if !acp {
		msg = append(msg, hashes.HashPrevOuts[:]...)
		msg = append(msg, hashes.HashAmounts[:]...)
		msg = append(msg, hashes.HashScriptPubKeys[:]...)
		msg = append(msg, hashes.HashSequence[:]...)
	}
	if outType != SigHashNone && outType != SigHashSingle {
		msg = append(msg, hashes.HashOutputs[:]...)
	}

	var spendType byte
	if exec.scriptPath {
		spendType |= 2
	}
	if exec.annex != nil {
		spendType |= 1
	}
	msg = append(msg, spendType)

	if acp {
		in := &t.Inputs[idx]
		msg = tx.AppendOutPoint(msg, in)
		msg = binary.LittleEndian.AppendUint64(msg, uint64(prevOuts[idx].Value))
		msg = tx.AppendVarBytes(msg, prevOuts[idx].Script)
		msg = binary.LittleEndian.AppendUint32(msg, in.Sequence)
	} else {
		msg = binary.LittleEndian.AppendUint32(msg, uint32(idx))
	}

	if exec.annex != nil {
		h := crypto.Sha256(tx.AppendVarBytes(nil, exec.annex))
		msg = append(msg, h[:]...)
	}

	if outType == SigHashSingle {
		if idx >= len(t.Outputs) {
			return types.Hash{}, scriptErrorf(ErrSchnorrSigHashType,
				"SIGHASH_SINGLE input %d has no matching output", idx)
		}
		h := crypto.Sha256(t.Outputs[idx].Serialize())
		msg = append(msg, h[:]...)
	}

	if exec.scriptPath {
		msg = append(msg, exec.tapleafHash[:]...)
		msg = append(msg, 0x00) // key_version
		msg = binary.LittleEndian.AppendUint32(msg, exec.codeSepPos)
	}

	return crypto.TaggedHash(crypto.TagTapSighash, msg), nil
}
