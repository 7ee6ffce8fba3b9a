package tx

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

func TestCheckSanity_Valid(t *testing.T) {
	if err := testTx().CheckSanity(); err != nil {
		t.Fatalf("CheckSanity() error: %v", err)
	}
}

func TestCheckSanity_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Transaction)
		want   error
		kind   ruleerr.Kind
	}{
		{"no inputs", func(tx *Transaction) { tx.Inputs = nil }, ErrNoInputs, ruleerr.Structural},
		{"no outputs", func(tx *Transaction) { tx.Outputs = nil }, ErrNoOutputs, ruleerr.Structural},
		{"negative output", func(tx *Transaction) { tx.Outputs[0].Value = -1 }, ErrOutputRange, ruleerr.ConsensusRule},
		{"output sum overflow", func(tx *Transaction) {
			tx.Outputs = []Output{{Value: MaxMoney}, {Value: 1}}
		}, ErrOutputOverflow, ruleerr.ConsensusRule},
		{"duplicate input", func(tx *Transaction) {
			tx.Inputs = append(tx.Inputs, tx.Inputs[0])
		}, ErrDuplicateInput, ruleerr.ConsensusRule},
		{"null prevout", func(tx *Transaction) {
			tx.Inputs = append(tx.Inputs, Input{PrevOut: types.Outpoint{Index: types.NullIndex}})
		}, ErrNullPrevOut, ruleerr.Structural},
		{"coinbase script too short", func(tx *Transaction) {
			tx.Inputs = []Input{{PrevOut: types.Outpoint{Index: types.NullIndex}, Script: []byte{0x01}}}
		}, ErrBadCoinbaseLength, ruleerr.Structural},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := testTx()
			tt.mutate(tx)
			err := tx.CheckSanity()
			if !errors.Is(err, tt.want) {
				t.Fatalf("CheckSanity() = %v, want %v", err, tt.want)
			}
			if ruleerr.KindOf(err) != tt.kind {
				t.Errorf("kind = %v, want %v", ruleerr.KindOf(err), tt.kind)
			}
		})
	}
}
