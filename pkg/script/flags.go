package script

import "strings"

// VerifyFlags selects which rules the interpreter enforces.
//
// The first eight bits are stable and their order never changes. Policy
// bits are appended after VerifyTaproot.
type VerifyFlags uint32

const (
	// VerifyP2SH evaluates BIP16 pay-to-script-hash redeem scripts.
	VerifyP2SH VerifyFlags = 1 << iota

	// VerifyDERSig requires strict DER signature encoding (BIP66).
	VerifyDERSig

	// VerifyCheckLockTimeVerify enables OP_CHECKLOCKTIMEVERIFY (BIP65).
	VerifyCheckLockTimeVerify

	// VerifyCheckSequenceVerify enables OP_CHECKSEQUENCEVERIFY (BIP112).
	VerifyCheckSequenceVerify

	// VerifyWitness evaluates segregated witness programs (BIP141/143).
	VerifyWitness

	// VerifyNullDummy requires the extra CHECKMULTISIG stack item to be empty.
	VerifyNullDummy

	// VerifyDiscourageUpgradableNops rejects execution of NOP1 and NOP4-NOP10.
	VerifyDiscourageUpgradableNops

	// VerifyTaproot evaluates witness v1 programs (BIP341/342).
	VerifyTaproot

	// VerifyStrictEncoding requires defined sighash types and well-formed
	// public keys for ECDSA checks.
	VerifyStrictEncoding

	// VerifyLowS requires ECDSA S values in the lower half of the order.
	VerifyLowS

	// VerifyMinimalData requires minimal pushes and minimal number encoding.
	VerifyMinimalData

	// VerifyCleanStack requires exactly one item on the stack after a legacy
	// or P2SH evaluation.
	VerifyCleanStack

	// VerifyMinimalIf requires OP_IF arguments to be empty or 0x01 in
	// segwit v0 scripts. Tapscript always enforces it.
	VerifyMinimalIf

	// VerifyNullFail requires failing signature checks to use empty
	// signatures.
	VerifyNullFail

	// VerifyWitnessPubKeyType requires compressed keys in segwit v0.
	VerifyWitnessPubKeyType

	// VerifyDiscourageUpgradableWitnessProgram rejects unknown witness
	// versions.
	VerifyDiscourageUpgradableWitnessProgram

	// VerifyDiscourageUpgradableTaprootVersion rejects unknown leaf versions.
	VerifyDiscourageUpgradableTaprootVersion

	// VerifyDiscourageOpSuccess rejects tapscripts that contain OP_SUCCESSx.
	VerifyDiscourageOpSuccess

	// VerifyDiscourageUpgradablePubKeyType rejects tapscript public keys
	// that are neither empty nor 32 bytes.
	VerifyDiscourageUpgradablePubKeyType
)

// VerifyNone enforces only the rules that predate any soft fork.
const VerifyNone VerifyFlags = 0

// MandatoryFlags are enforced for every block once all deployments are
// active.
const MandatoryFlags = VerifyP2SH |
	VerifyDERSig |
	VerifyCheckLockTimeVerify |
	VerifyCheckSequenceVerify |
	VerifyWitness |
	VerifyNullDummy |
	VerifyTaproot

// StandardFlags are used for relay and mempool acceptance. A transaction
// that fails only because of the extra bits is non-standard, not invalid.
const StandardFlags = MandatoryFlags |
	VerifyDiscourageUpgradableNops |
	VerifyStrictEncoding |
	VerifyLowS |
	VerifyMinimalData |
	VerifyCleanStack |
	VerifyMinimalIf |
	VerifyNullFail |
	VerifyWitnessPubKeyType |
	VerifyDiscourageUpgradableWitnessProgram |
	VerifyDiscourageUpgradableTaprootVersion |
	VerifyDiscourageOpSuccess |
	VerifyDiscourageUpgradablePubKeyType

var flagNames = []string{
	"P2SH",
	"DERSIG",
	"CHECKLOCKTIMEVERIFY",
	"CHECKSEQUENCEVERIFY",
	"WITNESS",
	"NULLDUMMY",
	"DISCOURAGE_UPGRADABLE_NOPS",
	"TAPROOT",
	"STRICTENC",
	"LOW_S",
	"MINIMALDATA",
	"CLEANSTACK",
	"MINIMALIF",
	"NULLFAIL",
	"WITNESS_PUBKEYTYPE",
	"DISCOURAGE_UPGRADABLE_WITNESS_PROGRAM",
	"DISCOURAGE_UPGRADABLE_TAPROOT_VERSION",
	"DISCOURAGE_OP_SUCCESS",
	"DISCOURAGE_UPGRADABLE_PUBKEYTYPE",
}

// Has reports whether every bit in flag is set.
func (f VerifyFlags) Has(flag VerifyFlags) bool {
	return f&flag == flag
}

// String returns the set flag names joined by commas, or "NONE".
func (f VerifyFlags) String() string {
	if f == 0 {
		return "NONE"
	}
	var names []string
	for i, name := range flagNames {
		if f&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}

// ParseFlags converts a comma separated list of flag names back into flags.
// Unknown names are reported as ok=false.
func ParseFlags(s string) (VerifyFlags, bool) {
	var f VerifyFlags
	if s == "" || s == "NONE" {
		return 0, true
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		found := false
		for i, name := range flagNames {
			if name == part {
				f |= 1 << uint(i)
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return f, true
}
