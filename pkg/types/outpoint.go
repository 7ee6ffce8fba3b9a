package types

import "fmt"

// NullIndex is the output index carried by a coinbase input.
const NullIndex = 0xffffffff

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsNull reports whether the outpoint is the coinbase marker
// (zero txid, index 0xffffffff).
func (o Outpoint) IsNull() bool {
	return o.TxID.IsZero() && o.Index == NullIndex
}

// String returns "txid:index" with the txid in display order.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}
