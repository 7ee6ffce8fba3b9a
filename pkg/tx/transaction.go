// Package tx defines transaction types, canonical serialization and
// context-free validation.
package tx

import (
	"encoding/hex"
	"encoding/json"

	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Sequence and locktime constants.
const (
	// SequenceFinal disables locktime and relative locktime for an input.
	SequenceFinal uint32 = 0xffffffff

	// SequenceLockTimeDisabled is set when BIP68 does not apply to an input.
	SequenceLockTimeDisabled uint32 = 1 << 31

	// SequenceLockTimeIsSeconds selects a time-based relative lock.
	SequenceLockTimeIsSeconds uint32 = 1 << 22

	// SequenceLockTimeMask extracts the relative lock value.
	SequenceLockTimeMask uint32 = 0x0000ffff

	// LockTimeThreshold separates block heights from unix timestamps.
	LockTimeThreshold uint32 = 500000000
)

// Monetary limits.
const (
	// CoinValue is the number of base units in one coin.
	CoinValue int64 = 100000000

	// MaxMoney is the largest value any output or sum of outputs may carry.
	MaxMoney int64 = 21000000 * CoinValue
)

// Transaction represents a transaction.
type Transaction struct {
	Version  int32    `json:"version"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	LockTime uint32   `json:"locktime"`
}

// Input references a coin being spent.
type Input struct {
	PrevOut  types.Outpoint
	Script   []byte
	Sequence uint32
	Witness  Witness
}

// inputJSON is the JSON representation of Input with hex-encoded byte fields.
type inputJSON struct {
	PrevOut  types.Outpoint `json:"prevout"`
	Script   string         `json:"script"`
	Sequence uint32         `json:"sequence"`
	Witness  []string       `json:"witness,omitempty"`
}

// MarshalJSON encodes the input with hex-encoded script and witness items.
func (in Input) MarshalJSON() ([]byte, error) {
	j := inputJSON{
		PrevOut:  in.PrevOut,
		Script:   hex.EncodeToString(in.Script),
		Sequence: in.Sequence,
	}
	for _, item := range in.Witness {
		j.Witness = append(j.Witness, hex.EncodeToString(item))
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an input with hex-encoded script and witness items.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	script, err := hex.DecodeString(j.Script)
	if err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	in.Script = script
	in.Sequence = j.Sequence
	in.Witness = nil
	for _, s := range j.Witness {
		b, err := hex.DecodeString(s)
		if err != nil {
			return err
		}
		in.Witness = append(in.Witness, b)
	}
	return nil
}

// Output defines a new coin.
type Output struct {
	Value  int64
	Script []byte
}

type outputJSON struct {
	Value  int64  `json:"value"`
	Script string `json:"script"`
}

// MarshalJSON encodes the output with a hex-encoded script.
func (out Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputJSON{Value: out.Value, Script: hex.EncodeToString(out.Script)})
}

// UnmarshalJSON decodes an output with a hex-encoded script.
func (out *Output) UnmarshalJSON(data []byte) error {
	var j outputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	script, err := hex.DecodeString(j.Script)
	if err != nil {
		return err
	}
	out.Value = j.Value
	out.Script = script
	return nil
}

// Hash computes the transaction ID: double SHA-256 of the serialization
// without witness data.
func (tx *Transaction) Hash() types.Hash {
	return crypto.DoubleSha256(tx.SerializeNoWitness())
}

// WitnessHash computes the wtxid. It equals Hash for transactions without
// witness data.
func (tx *Transaction) WitnessHash() types.Hash {
	if !tx.HasWitness() {
		return tx.Hash()
	}
	return crypto.DoubleSha256(tx.Serialize())
}

// IsCoinbase reports whether the transaction has exactly one input and that
// input spends the null outpoint.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PrevOut.IsNull()
}

// HasWitness reports whether any input carries witness items.
func (tx *Transaction) HasWitness() bool {
	for i := range tx.Inputs {
		if len(tx.Inputs[i].Witness) > 0 {
			return true
		}
	}
	return false
}

// TotalOutputValue returns the sum of all output values.
// Returns ErrOutputOverflow if the sum leaves the money range.
func (tx *Transaction) TotalOutputValue() (int64, error) {
	var total int64
	for _, out := range tx.Outputs {
		if out.Value < 0 || out.Value > MaxMoney {
			return 0, ErrOutputRange
		}
		total += out.Value
		if total > MaxMoney {
			return 0, ErrOutputOverflow
		}
	}
	return total, nil
}

// IsFinal reports whether the transaction may be included in a block at
// height with the given block time.
func (tx *Transaction) IsFinal(height uint32, blockTime int64) bool {
	if tx.LockTime == 0 {
		return true
	}
	limit := int64(height)
	if tx.LockTime >= LockTimeThreshold {
		limit = blockTime
	}
	if int64(tx.LockTime) < limit {
		return true
	}
	for _, in := range tx.Inputs {
		if in.Sequence != SequenceFinal {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the transaction.
func (tx *Transaction) Copy() *Transaction {
	c := &Transaction{
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Inputs:   make([]Input, len(tx.Inputs)),
		Outputs:  make([]Output, len(tx.Outputs)),
	}
	for i, in := range tx.Inputs {
		c.Inputs[i] = Input{
			PrevOut:  in.PrevOut,
			Script:   append([]byte(nil), in.Script...),
			Sequence: in.Sequence,
			Witness:  in.Witness.Copy(),
		}
	}
	for i, out := range tx.Outputs {
		c.Outputs[i] = Output{Value: out.Value, Script: append([]byte(nil), out.Script...)}
	}
	return c
}
