package script

import "github.com/Klingon-tech/tapnode/pkg/tx"

// CountSigOps counts the signature operations in s. CHECKSIG counts one.
// CHECKMULTISIG counts MaxPubKeysPerMultiSig unless accurate is set and it
// is preceded by a small-int key count. Counting stops at a parse error.
func CountSigOps(s []byte, accurate bool) int {
	var n int
	var prev byte = OP_INVALIDOPCODE
	t := newTokenizer(s)
	for t.Next() {
		switch t.op.value {
		case OP_CHECKSIG, OP_CHECKSIGVERIFY:
			n++
		case OP_CHECKMULTISIG, OP_CHECKMULTISIGVERIFY:
			if k, ok := smallInt(prev); accurate && ok && prev != OP_0 {
				n += k
			} else {
				n += MaxPubKeysPerMultiSig
			}
		}
		prev = t.op.value
	}
	return n
}

// CountP2SHSigOps counts the accurate signature operations of the redeem
// script when pkScript is pay-to-script-hash. It returns 0 when scriptSig
// is not push-only.
func CountP2SHSigOps(scriptSig, pkScript []byte) int {
	if !IsPayToScriptHash(pkScript) || !IsPushOnly(scriptSig) {
		return 0
	}
	var last []byte
	t := newTokenizer(scriptSig)
	for t.Next() {
		last = t.data
	}
	return CountSigOps(last, true)
}

// CountWitnessSigOps counts the signature operations of a segwit v0
// spend, including one nested in P2SH. Taproot spends count zero.
func CountWitnessSigOps(scriptSig, pkScript []byte, witness tx.Witness) int {
	program := pkScript
	if IsPayToScriptHash(pkScript) && IsPushOnly(scriptSig) {
		t := newTokenizer(scriptSig)
		for t.Next() {
			program = t.data
		}
	}
	version, prog, ok := ExtractWitnessProgram(program)
	if !ok || version != 0 {
		return 0
	}
	switch len(prog) {
	case 20:
		return 1
	case 32:
		if len(witness) > 0 {
			return CountSigOps(witness[len(witness)-1], true)
		}
	}
	return 0
}
