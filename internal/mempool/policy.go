package mempool

import (
	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	btcmempool "github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
)

// Standardness limits.
const (
	MaxStandardVersion     = 2
	MaxStandardTxWeight    = 400_000
	MaxStandardScriptSig   = 1650
	MaxStandardP2SHSigOps  = 15
	MaxStandardMultiSigKey = 3

	MaxP2WSHStackItems    = 100
	MaxP2WSHStackItemSize = 80
	MaxP2WSHScriptSize    = 3600
	MaxP2WPKHSigSize      = 73
	MaxP2WPKHPubKeySize   = 65
	MaxTapscriptItemSize  = 80
)

// Reasons returned by CheckStandard.
const (
	ReasonVersion       = "version"
	ReasonTxSize        = "tx-size"
	ReasonScriptSigSize = "scriptsig-size"
	ReasonNotPushOnly   = "scriptsig-not-pushonly"
	ReasonScriptPubKey  = "scriptpubkey"
	ReasonBareMultiSig  = "bare-multisig"
	ReasonDust          = "dust"
	ReasonMultiOpReturn = "multi-op-return"
)

// Policy defines the local transaction relay rules. Policy rules can vary
// per node and are never applied to mined blocks.
type Policy struct {
	MaxTxWeight        int  // Maximum transaction weight.
	PermitBareMultiSig bool // Relay outputs with bare multisig scripts.
	MaxDataCarrierSize int  // Largest OP_RETURN payload in bytes.
}

// DefaultPolicy returns a policy with sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxTxWeight:        MaxStandardTxWeight,
		PermitBareMultiSig: true,
		MaxDataCarrierSize: script.MaxDataCarrierSize,
	}
}

// CheckStandard checks t against the default policy.
func CheckStandard(t *tx.Transaction) (bool, string) {
	return DefaultPolicy().CheckStandard(t)
}

// CheckStandard runs the context-free standardness checks: version, size,
// push-only scriptSigs, whitelisted output templates, dust and at most one
// OP_RETURN output. On failure it returns the reason.
func (p *Policy) CheckStandard(t *tx.Transaction) (bool, string) {
	if t.Version < 1 || t.Version > MaxStandardVersion {
		return false, ReasonVersion
	}
	if p.MaxTxWeight > 0 && t.Weight() > p.MaxTxWeight {
		return false, ReasonTxSize
	}
	for i := range t.Inputs {
		s := t.Inputs[i].Script
		if len(s) > MaxStandardScriptSig {
			return false, ReasonScriptSigSize
		}
		if !script.IsPushOnly(s) {
			return false, ReasonNotPushOnly
		}
	}

	var nulldata int
	for i := range t.Outputs {
		out := &t.Outputs[i]
		switch script.ClassifyScript(out.Script) {
		case script.NonStandardTy:
			return false, ReasonScriptPubKey
		case script.MultiSigTy:
			m, n, _ := script.MultiSigParams(out.Script)
			if n < 1 || n > MaxStandardMultiSigKey || m < 1 || m > n {
				return false, ReasonScriptPubKey
			}
			if !p.PermitBareMultiSig {
				return false, ReasonBareMultiSig
			}
		case script.NullDataTy:
			if len(out.Script) > p.MaxDataCarrierSize+3 {
				return false, ReasonScriptPubKey
			}
			nulldata++
			continue
		}
		if isDust(out) {
			return false, ReasonDust
		}
	}
	if nulldata > 1 {
		return false, ReasonMultiOpReturn
	}
	return true, ""
}

// isDust reports whether spending out would cost more than a third of its
// value at the default relay fee.
func isDust(out *tx.Output) bool {
	threshold := btcmempool.GetDustThreshold(&wire.TxOut{Value: out.Value, PkScript: out.Script})
	return out.Value < threshold
}

// HasStandardInputs reports whether every coin t spends has a standard
// template and every P2SH redeem script stays within the sigop limit.
// A missing coin makes the inputs non-standard.
func HasStandardInputs(t *tx.Transaction, view utxo.Source) bool {
	if t.IsCoinbase() {
		return true
	}
	for i := range t.Inputs {
		in := &t.Inputs[i]
		c, err := view.Get(in.PrevOut)
		if err != nil || c == nil {
			return false
		}
		switch script.ClassifyScript(c.Script) {
		case script.NonStandardTy, script.WitnessUnknownTy:
			return false
		case script.ScriptHashTy:
			redeem, ok := lastPush(in.Script)
			if !ok || script.CountSigOps(redeem, true) > MaxStandardP2SHSigOps {
				return false
			}
		}
	}
	return true
}

// HasStandardWitness reports whether the witness of every input is within
// the relay limits for its program type. Inputs without a witness are
// skipped. Witnesses for unknown program versions are non-standard, as is
// any taproot annex.
func HasStandardWitness(t *tx.Transaction, view utxo.Source) bool {
	if t.IsCoinbase() {
		return true
	}
	for i := range t.Inputs {
		in := &t.Inputs[i]
		w := in.Witness
		if len(w) == 0 {
			continue
		}
		c, err := view.Get(in.PrevOut)
		if err != nil || c == nil {
			continue
		}

		prev := c.Script
		nested := false
		if script.IsPayToScriptHash(prev) {
			redeem, ok := lastPush(in.Script)
			if !ok {
				return false
			}
			prev = redeem
			nested = true
		}
		version, program, ok := script.ExtractWitnessProgram(prev)
		if !ok {
			return false
		}

		switch {
		case version == 0 && len(program) == 20:
			if len(w) != 2 || len(w[0]) > MaxP2WPKHSigSize || len(w[1]) > MaxP2WPKHPubKeySize {
				return false
			}
		case version == 0 && len(program) == 32:
			if len(w)-1 > MaxP2WSHStackItems || len(w[len(w)-1]) > MaxP2WSHScriptSize {
				return false
			}
			for _, item := range w[:len(w)-1] {
				if len(item) > MaxP2WSHStackItemSize {
					return false
				}
			}
		case version == 1 && len(program) == 32 && !nested:
			if w.Annex() != nil {
				return false
			}
			if w.SpendType()&tx.SpendTypeScript == 0 {
				continue
			}
			stack := w.Stack()
			if w.ControlBlock()[0]&script.TaprootLeafMask != script.TapscriptLeafVersion {
				continue
			}
			for _, item := range stack[:len(stack)-2] {
				if len(item) > MaxTapscriptItemSize {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

// lastPush returns the final data push of a push-only script.
func lastPush(s []byte) ([]byte, bool) {
	pushes, ok := script.PushedData(s)
	if !ok || len(pushes) == 0 {
		return nil, false
	}
	return pushes[len(pushes)-1], true
}
