package script

import (
	"errors"
	"fmt"
)

// MaxDataCarrierSize is the largest relayed OP_RETURN payload.
const MaxDataCarrierSize = 80

// ScriptClass is a standard output template.
type ScriptClass byte

// Output templates.
const (
	NonStandardTy ScriptClass = iota
	PubKeyTy
	PubKeyHashTy
	ScriptHashTy
	MultiSigTy
	NullDataTy
	WitnessV0PubKeyHashTy
	WitnessV0ScriptHashTy
	WitnessV1TaprootTy
	WitnessUnknownTy
)

var scriptClassNames = [...]string{
	NonStandardTy:         "nonstandard",
	PubKeyTy:              "pubkey",
	PubKeyHashTy:          "pubkeyhash",
	ScriptHashTy:          "scripthash",
	MultiSigTy:            "multisig",
	NullDataTy:            "nulldata",
	WitnessV0PubKeyHashTy: "witness_v0_keyhash",
	WitnessV0ScriptHashTy: "witness_v0_scripthash",
	WitnessV1TaprootTy:    "witness_v1_taproot",
	WitnessUnknownTy:      "witness_unknown",
}

func (c ScriptClass) String() string {
	if int(c) < len(scriptClassNames) {
		return scriptClassNames[c]
	}
	return "invalid"
}

// ErrTooManyKeys is returned by MultiSigScript for more than 20 keys.
var ErrTooManyKeys = errors.New("too many multisig keys")

// IsPayToScriptHash reports whether s is OP_HASH160 <20 bytes> OP_EQUAL.
func IsPayToScriptHash(s []byte) bool {
	return len(s) == 23 && s[0] == OP_HASH160 && s[1] == OP_DATA_20 && s[22] == OP_EQUAL
}

// IsPayToTaproot reports whether s is a witness v1 program of 32 bytes.
func IsPayToTaproot(s []byte) bool {
	return len(s) == 34 && s[0] == OP_1 && s[1] == OP_DATA_32
}

// ExtractWitnessProgram returns the version and program of a witness
// output: a version opcode followed by one direct push of 2 to 40 bytes.
func ExtractWitnessProgram(s []byte) (int, []byte, bool) {
	if len(s) < 4 || len(s) > 42 {
		return 0, nil, false
	}
	if s[0] != OP_0 && (s[0] < OP_1 || s[0] > OP_16) {
		return 0, nil, false
	}
	if int(s[1])+2 != len(s) {
		return 0, nil, false
	}
	version := 0
	if s[0] != OP_0 {
		version = int(s[0]) - OP_1 + 1
	}
	return version, s[2:], true
}

// IsPushOnly reports whether s parses and holds only push opcodes,
// including OP_1NEGATE, OP_RESERVED and OP_1-OP_16.
func IsPushOnly(s []byte) bool {
	t := newTokenizer(s)
	for t.Next() {
		if t.op.value > OP_16 {
			return false
		}
	}
	return t.Err() == nil
}

// IsUnspendable reports whether an output can never be spent.
func IsUnspendable(s []byte) bool {
	return (len(s) > 0 && s[0] == OP_RETURN) || len(s) > MaxScriptSize
}

// smallInt decodes OP_0 and OP_1-OP_16.
func smallInt(v byte) (int, bool) {
	if v == OP_0 {
		return 0, true
	}
	if v >= OP_1 && v <= OP_16 {
		return int(v) - OP_1 + 1, true
	}
	return 0, false
}

// extractMultiSig parses m <keys...> n OP_CHECKMULTISIG.
func extractMultiSig(s []byte) (int, [][]byte, bool) {
	var ops []*opcode
	var pushes [][]byte
	t := newTokenizer(s)
	for t.Next() {
		ops = append(ops, t.op)
		pushes = append(pushes, t.data)
	}
	if t.Err() != nil || len(ops) < 4 || ops[len(ops)-1].value != OP_CHECKMULTISIG {
		return 0, nil, false
	}
	m, ok := smallInt(ops[0].value)
	if !ok || m < 1 {
		return 0, nil, false
	}
	n, ok := smallInt(ops[len(ops)-2].value)
	if !ok || n < m || n != len(ops)-3 {
		return 0, nil, false
	}
	keys := pushes[1 : len(pushes)-2]
	for _, k := range keys {
		if !isCompressedOrUncompressedPubKey(k) {
			return 0, nil, false
		}
	}
	return m, keys, true
}

// ClassifyScript returns the template s matches.
func ClassifyScript(s []byte) ScriptClass {
	if version, program, ok := ExtractWitnessProgram(s); ok {
		switch {
		case version == 0 && len(program) == 20:
			return WitnessV0PubKeyHashTy
		case version == 0 && len(program) == 32:
			return WitnessV0ScriptHashTy
		case version == 1 && len(program) == 32:
			return WitnessV1TaprootTy
		case version != 0:
			return WitnessUnknownTy
		}
		return NonStandardTy
	}
	switch {
	case IsPayToScriptHash(s):
		return ScriptHashTy
	case len(s) == 25 && s[0] == OP_DUP && s[1] == OP_HASH160 && s[2] == OP_DATA_20 &&
		s[23] == OP_EQUALVERIFY && s[24] == OP_CHECKSIG:
		return PubKeyHashTy
	case (len(s) == 35 && s[0] == OP_DATA_33 || len(s) == 67 && s[0] == OP_DATA_65) &&
		s[len(s)-1] == OP_CHECKSIG && isCompressedOrUncompressedPubKey(s[1:len(s)-1]):
		return PubKeyTy
	case len(s) > 0 && s[0] == OP_RETURN && IsPushOnly(s[1:]):
		return NullDataTy
	}
	if _, _, ok := extractMultiSig(s); ok {
		return MultiSigTy
	}
	return NonStandardTy
}

// MultiSigParams returns the required and total key counts of a bare
// multisig script.
func MultiSigParams(s []byte) (m, n int, ok bool) {
	m, keys, ok := extractMultiSig(s)
	return m, len(keys), ok
}

// PayToPubKeyHashScript returns OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY OP_CHECKSIG.
func PayToPubKeyHashScript(hash []byte) []byte {
	s := make([]byte, 0, 25)
	s = append(s, OP_DUP, OP_HASH160, OP_DATA_20)
	s = append(s, hash...)
	return append(s, OP_EQUALVERIFY, OP_CHECKSIG)
}

// PayToScriptHashScript returns OP_HASH160 <hash> OP_EQUAL.
func PayToScriptHashScript(hash []byte) []byte {
	s := make([]byte, 0, 23)
	s = append(s, OP_HASH160, OP_DATA_20)
	s = append(s, hash...)
	return append(s, OP_EQUAL)
}

// PayToWitnessPubKeyHashScript returns OP_0 <20-byte hash>.
func PayToWitnessPubKeyHashScript(hash []byte) []byte {
	return append([]byte{OP_0, OP_DATA_20}, hash...)
}

// PayToWitnessScriptHashScript returns OP_0 <32-byte hash>.
func PayToWitnessScriptHashScript(hash []byte) []byte {
	return append([]byte{OP_0, OP_DATA_32}, hash...)
}

// PayToPubKeyScript returns <pubkey> OP_CHECKSIG.
func PayToPubKeyScript(pubKey []byte) ([]byte, error) {
	return NewScriptBuilder().AddData(pubKey).AddOp(OP_CHECKSIG).Script()
}

// MultiSigScript returns m <keys...> n OP_CHECKMULTISIG.
func MultiSigScript(m int, pubKeys ...[]byte) ([]byte, error) {
	if len(pubKeys) > MaxPubKeysPerMultiSig {
		return nil, fmt.Errorf("%w: %d", ErrTooManyKeys, len(pubKeys))
	}
	if m < 1 || m > len(pubKeys) {
		return nil, fmt.Errorf("multisig requires 1 <= m <= %d, got %d", len(pubKeys), m)
	}
	b := NewScriptBuilder().AddInt64(int64(m))
	for _, pk := range pubKeys {
		b.AddData(pk)
	}
	return b.AddInt64(int64(len(pubKeys))).AddOp(OP_CHECKMULTISIG).Script()
}

// NullDataScript returns OP_RETURN <data>.
func NullDataScript(data []byte) ([]byte, error) {
	if len(data) > MaxDataCarrierSize {
		return nil, fmt.Errorf("data carrier of %d bytes exceeds %d", len(data), MaxDataCarrierSize)
	}
	return NewScriptBuilder().AddOp(OP_RETURN).AddData(data).Script()
}

// PushedData returns the items a push-only script leaves on the stack, in
// push order. ok is false if s does not parse or is not push-only.
func PushedData(s []byte) (items [][]byte, ok bool) {
	t := newTokenizer(s)
	for t.Next() {
		op := t.op.value
		switch {
		case op == OP_1NEGATE:
			items = append(items, []byte{0x81})
		case op >= OP_1 && op <= OP_16:
			items = append(items, []byte{op - OP_1 + 1})
		case op <= OP_PUSHDATA4:
			items = append(items, t.data)
		default:
			return nil, false
		}
	}
	if t.Err() != nil {
		return nil, false
	}
	return items, true
}
