package tx

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// MaxBlockWeight bounds both blocks and, by extension, single transactions.
const MaxBlockWeight = 4000000

// Coinbase script length bounds.
const (
	MinCoinbaseScriptLen = 2
	MaxCoinbaseScriptLen = 100
)

// Validation errors.
var (
	ErrNoInputs          = errors.New("transaction has no inputs")
	ErrNoOutputs         = errors.New("transaction has no outputs")
	ErrTooLarge          = errors.New("transaction exceeds block weight")
	ErrOutputRange       = errors.New("output value out of range")
	ErrOutputOverflow    = errors.New("output values exceed money range")
	ErrDuplicateInput    = errors.New("duplicate input")
	ErrBadCoinbaseLength = errors.New("coinbase script length out of range")
	ErrNullPrevOut       = errors.New("non-coinbase input spends null outpoint")
)

// CheckSanity performs context-free structural checks. It does not look at
// coins or scripts.
func (tx *Transaction) CheckSanity() error {
	if len(tx.Inputs) == 0 {
		return ruleerr.Wrap(ruleerr.Structural, ErrNoInputs)
	}
	if len(tx.Outputs) == 0 {
		return ruleerr.Wrap(ruleerr.Structural, ErrNoOutputs)
	}
	if tx.BaseSize()*WitnessScaleFactor > MaxBlockWeight {
		return ruleerr.Errorf(ruleerr.ResourceLimit, "%w: base size %d", ErrTooLarge, tx.BaseSize())
	}

	var total int64
	for i, out := range tx.Outputs {
		if out.Value < 0 || out.Value > MaxMoney {
			return ruleerr.Errorf(ruleerr.ConsensusRule, "output %d: %w: %d", i, ErrOutputRange, out.Value)
		}
		total += out.Value
		if total > MaxMoney {
			return ruleerr.Errorf(ruleerr.ConsensusRule, "output %d: %w", i, ErrOutputOverflow)
		}
	}

	seen := make(map[types.Outpoint]struct{}, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if _, dup := seen[in.PrevOut]; dup {
			return ruleerr.Errorf(ruleerr.ConsensusRule, "input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = struct{}{}
	}

	if tx.IsCoinbase() {
		n := len(tx.Inputs[0].Script)
		if n < MinCoinbaseScriptLen || n > MaxCoinbaseScriptLen {
			return ruleerr.Errorf(ruleerr.Structural, "%w: %d bytes", ErrBadCoinbaseLength, n)
		}
		return nil
	}
	for i, in := range tx.Inputs {
		if in.PrevOut.IsNull() {
			return ruleerr.Wrap(ruleerr.Structural, fmt.Errorf("input %d: %w", i, ErrNullPrevOut))
		}
	}
	return nil
}
