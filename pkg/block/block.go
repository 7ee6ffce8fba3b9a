// Package block defines block types and context-free block validation.
package block

import (
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Block represents a block in the chain.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock creates a new block with the given header and transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// Hash returns the block header hash.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

// Weight returns the block weight: 3 * base size + total size.
func (b *Block) Weight() int {
	base := HeaderSize + tx.VarIntSize(uint64(len(b.Transactions)))
	total := base
	for _, t := range b.Transactions {
		base += t.BaseSize()
		total += t.TotalSize()
	}
	return base*(tx.WitnessScaleFactor-1) + total
}

// Serialize returns the wire form of the block with witness data.
func (b *Block) Serialize() []byte {
	buf := b.Header.Serialize()
	buf = tx.AppendVarInt(buf, uint64(len(b.Transactions)))
	for _, t := range b.Transactions {
		buf = append(buf, t.Serialize()...)
	}
	return buf
}

// TxHashes returns the txid of every transaction in order.
func (b *Block) TxHashes() []types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return hashes
}
