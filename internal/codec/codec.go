// Package codec converts between Bitcoin wire encoding and the internal
// transaction and block types.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// ErrTrailingBytes is returned when input continues past the decoded value.
var ErrTrailingBytes = errors.New("trailing bytes after message")

// DecodeTx parses a serialized transaction, with or without witness data.
func DecodeTx(b []byte) (*tx.Transaction, error) {
	var m wire.MsgTx
	r := bytes.NewReader(b)
	if err := m.Deserialize(r); err != nil {
		return nil, ruleerr.Errorf(ruleerr.Structural, "decode tx: %w", err)
	}
	if r.Len() != 0 {
		return nil, ruleerr.Errorf(ruleerr.Structural, "decode tx: %w: %d", ErrTrailingBytes, r.Len())
	}
	return FromWireTx(&m), nil
}

// DecodeBlock parses a serialized block.
func DecodeBlock(b []byte) (*block.Block, error) {
	var m wire.MsgBlock
	r := bytes.NewReader(b)
	if err := m.Deserialize(r); err != nil {
		return nil, ruleerr.Errorf(ruleerr.Structural, "decode block: %w", err)
	}
	if r.Len() != 0 {
		return nil, ruleerr.Errorf(ruleerr.Structural, "decode block: %w: %d", ErrTrailingBytes, r.Len())
	}
	return FromWireBlock(&m), nil
}

// EncodeTx serializes t in wire format, including witness data when any
// input carries it.
func EncodeTx(t *tx.Transaction) ([]byte, error) {
	var buf bytes.Buffer
	if err := ToWireTx(t).Serialize(&buf); err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBlock serializes b in wire format.
func EncodeBlock(b *block.Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := ToWireBlock(b).Serialize(&buf); err != nil {
		return nil, fmt.Errorf("encode block: %w", err)
	}
	return buf.Bytes(), nil
}

// FromWireTx converts a wire transaction. Byte slices are shared with m.
func FromWireTx(m *wire.MsgTx) *tx.Transaction {
	t := &tx.Transaction{
		Version:  m.Version,
		Inputs:   make([]tx.Input, len(m.TxIn)),
		Outputs:  make([]tx.Output, len(m.TxOut)),
		LockTime: m.LockTime,
	}
	for i, in := range m.TxIn {
		t.Inputs[i] = tx.Input{
			PrevOut: types.Outpoint{
				TxID:  types.Hash(in.PreviousOutPoint.Hash),
				Index: in.PreviousOutPoint.Index,
			},
			Script:   in.SignatureScript,
			Sequence: in.Sequence,
		}
		if len(in.Witness) > 0 {
			t.Inputs[i].Witness = tx.Witness(in.Witness)
		}
	}
	for i, out := range m.TxOut {
		t.Outputs[i] = tx.Output{Value: out.Value, Script: out.PkScript}
	}
	return t
}

// ToWireTx converts t to its wire form. Byte slices are shared with t.
func ToWireTx(t *tx.Transaction) *wire.MsgTx {
	m := &wire.MsgTx{
		Version:  t.Version,
		TxIn:     make([]*wire.TxIn, len(t.Inputs)),
		TxOut:    make([]*wire.TxOut, len(t.Outputs)),
		LockTime: t.LockTime,
	}
	for i := range t.Inputs {
		in := &t.Inputs[i]
		m.TxIn[i] = &wire.TxIn{
			PreviousOutPoint: wire.OutPoint{
				Hash:  chainhash.Hash(in.PrevOut.TxID),
				Index: in.PrevOut.Index,
			},
			SignatureScript: in.Script,
			Witness:         wire.TxWitness(in.Witness),
			Sequence:        in.Sequence,
		}
	}
	for i := range t.Outputs {
		m.TxOut[i] = &wire.TxOut{Value: t.Outputs[i].Value, PkScript: t.Outputs[i].Script}
	}
	return m
}

// FromWireHeader converts a wire header.
func FromWireHeader(h *wire.BlockHeader) *block.Header {
	return &block.Header{
		Version:    h.Version,
		PrevHash:   types.Hash(h.PrevBlock),
		MerkleRoot: types.Hash(h.MerkleRoot),
		Timestamp:  uint32(h.Timestamp.Unix()),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}
}

// ToWireHeader converts h to its wire form.
func ToWireHeader(h *block.Header) wire.BlockHeader {
	return wire.BlockHeader{
		Version:    h.Version,
		PrevBlock:  chainhash.Hash(h.PrevHash),
		MerkleRoot: chainhash.Hash(h.MerkleRoot),
		Timestamp:  time.Unix(int64(h.Timestamp), 0),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}
}

// FromWireBlock converts a wire block.
func FromWireBlock(m *wire.MsgBlock) *block.Block {
	txs := make([]*tx.Transaction, len(m.Transactions))
	for i, t := range m.Transactions {
		txs[i] = FromWireTx(t)
	}
	return block.NewBlock(FromWireHeader(&m.Header), txs)
}

// ToWireBlock converts b to its wire form.
func ToWireBlock(b *block.Block) *wire.MsgBlock {
	m := &wire.MsgBlock{
		Header:       ToWireHeader(b.Header),
		Transactions: make([]*wire.MsgTx, len(b.Transactions)),
	}
	for i, t := range b.Transactions {
		m.Transactions[i] = ToWireTx(t)
	}
	return m
}
