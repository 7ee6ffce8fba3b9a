package script

import (
	"bytes"
	"encoding/binary"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Public key encodings.
const (
	pubKeyCompressedLen   = 33
	pubKeyUncompressedLen = 65
)

// isValidSignatureEncoding reports whether sig, including its trailing
// hash type byte, is strict DER:
//
//	0x30 <total len> 0x02 <len R> <R> 0x02 <len S> <S> <hashtype>
//
// with R and S minimally encoded positive integers.
func isValidSignatureEncoding(sig []byte) bool {
	if len(sig) < 9 || len(sig) > 73 {
		return false
	}
	if sig[0] != 0x30 || int(sig[1]) != len(sig)-3 {
		return false
	}
	lenR := int(sig[3])
	if 5+lenR >= len(sig) {
		return false
	}
	lenS := int(sig[5+lenR])
	if lenR+lenS+7 != len(sig) {
		return false
	}

	if sig[2] != 0x02 || lenR == 0 || sig[4]&0x80 != 0 {
		return false
	}
	if lenR > 1 && sig[4] == 0x00 && sig[5]&0x80 == 0 {
		return false
	}

	if sig[lenR+4] != 0x02 || lenS == 0 || sig[lenR+6]&0x80 != 0 {
		return false
	}
	if lenS > 1 && sig[lenR+6] == 0x00 && sig[lenR+7]&0x80 == 0 {
		return false
	}
	return true
}

// isLowS reports whether the S value of a strictly encoded signature is at
// most half the curve order.
func isLowS(sig []byte) bool {
	lenR := int(sig[3])
	lenS := int(sig[5+lenR])
	s := bytes.TrimLeft(sig[6+lenR:6+lenR+lenS], "\x00")
	if len(s) > 32 {
		return false
	}
	var n secp256k1.ModNScalar
	if overflow := n.SetByteSlice(s); overflow {
		return false
	}
	return !n.IsOverHalfOrder()
}

func isDefinedHashType(sig []byte) bool {
	ht := SigHashType(sig[len(sig)-1]) &^ SigHashAnyOneCanPay
	return ht >= SigHashAll && ht <= SigHashSingle
}

func isCompressedPubKey(pk []byte) bool {
	return len(pk) == pubKeyCompressedLen && (pk[0] == 0x02 || pk[0] == 0x03)
}

func isCompressedOrUncompressedPubKey(pk []byte) bool {
	if len(pk) == pubKeyUncompressedLen {
		return pk[0] == 0x04
	}
	return isCompressedPubKey(pk)
}

// checkSignatureEncoding applies the ECDSA encoding rules selected by the
// flags. An empty signature always passes.
func (vm *engine) checkSignatureEncoding(sig []byte) error {
	if len(sig) == 0 {
		return nil
	}
	if vm.flags&(VerifyDERSig|VerifyLowS|VerifyStrictEncoding) != 0 && !isValidSignatureEncoding(sig) {
		return scriptError(ErrSigDER, "signature is not strict DER")
	}
	if vm.flags.Has(VerifyLowS) && !isLowS(sig) {
		return scriptError(ErrSigHighS, "signature has high S value")
	}
	if vm.flags.Has(VerifyStrictEncoding) && !isDefinedHashType(sig) {
		return scriptErrorf(ErrSigHashType, "undefined signature hash type 0x%02x", sig[len(sig)-1])
	}
	return nil
}

func (vm *engine) checkPubKeyEncoding(pubKey []byte) error {
	if vm.flags.Has(VerifyStrictEncoding) && !isCompressedOrUncompressedPubKey(pubKey) {
		return scriptError(ErrPubKeyType, "unsupported public key encoding")
	}
	if vm.flags.Has(VerifyWitnessPubKeyType) && vm.sigVersion == SigVersionWitnessV0 && !isCompressedPubKey(pubKey) {
		return scriptError(ErrWitnessPubKeyType, "segwit v0 public key must be compressed")
	}
	return nil
}

// canonicalPush returns the shortest push of data that does not use the
// small integer opcodes. This is the form matched by FindAndDelete and
// required for nested witness scriptSigs.
func canonicalPush(data []byte) []byte {
	n := len(data)
	var buf []byte
	switch {
	case n < OP_PUSHDATA1:
		buf = append(make([]byte, 0, 1+n), byte(n))
	case n <= 0xff:
		buf = append(make([]byte, 0, 2+n), OP_PUSHDATA1, byte(n))
	case n <= 0xffff:
		buf = binary.LittleEndian.AppendUint16(append(make([]byte, 0, 3+n), OP_PUSHDATA2), uint16(n))
	default:
		buf = binary.LittleEndian.AppendUint32(append(make([]byte, 0, 5+n), OP_PUSHDATA4), uint32(n))
	}
	return append(buf, data...)
}

// findAndDelete removes every occurrence of pattern that starts on an
// opcode boundary. Matches are found byte-wise, so consecutive copies are
// all removed. Returns script unchanged when nothing matched.
func findAndDelete(script, pattern []byte) []byte {
	if len(pattern) == 0 {
		return script
	}
	var result []byte
	found := false
	pc, pc2 := 0, 0
	for {
		result = append(result, script[pc2:pc]...)
		for len(script)-pc >= len(pattern) && bytes.Equal(script[pc:pc+len(pattern)], pattern) {
			pc += len(pattern)
			found = true
		}
		pc2 = pc
		if pc >= len(script) {
			break
		}
		_, _, next, err := parseOpAt(script, pc)
		if err != nil {
			break
		}
		pc = next
	}
	if !found {
		return script
	}
	return append(result, script[pc2:]...)
}

// removeOpcode strips every occurrence of the opcode op.
func removeOpcode(script []byte, op byte) []byte {
	var result []byte
	removed := false
	start, pc := 0, 0
	for pc < len(script) {
		o, _, next, err := parseOpAt(script, pc)
		if err != nil {
			break
		}
		if o.value == op {
			result = append(result, script[start:pc]...)
			start = next
			removed = true
		}
		pc = next
	}
	if !removed {
		return script
	}
	return append(result, script[start:]...)
}

// checkMinimalDataPush enforces the smallest possible push for data.
func checkMinimalDataPush(op *opcode, data []byte) error {
	n := len(data)
	v := op.value
	var ok bool
	switch {
	case n == 0:
		ok = v == OP_0
	case n == 1 && data[0] >= 1 && data[0] <= 16:
		ok = v == OP_1+data[0]-1
	case n == 1 && data[0] == 0x81:
		ok = v == OP_1NEGATE
	case n <= 75:
		ok = int(v) == n
	case n <= 255:
		ok = v == OP_PUSHDATA1
	case n <= 65535:
		ok = v == OP_PUSHDATA2
	default:
		ok = true
	}
	if !ok {
		return scriptErrorf(ErrMinimalData, "data push of %d bytes with %s is not minimal", n, op.name)
	}
	return nil
}
