package block

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Block limits.
const (
	MaxBlockWeight     = tx.MaxBlockWeight
	MaxBlockSigOpsCost = 80000
)

// Validation errors.
var (
	ErrNilHeader           = errors.New("block has nil header")
	ErrNoTransactions      = errors.New("block has no transactions")
	ErrBadMerkleRoot       = errors.New("merkle root mismatch")
	ErrMutatedMerkle       = errors.New("merkle tree contains duplicate transactions")
	ErrNoCoinbase          = errors.New("first transaction must be coinbase")
	ErrMultipleCoinbase    = errors.New("multiple coinbase transactions in block")
	ErrBlockTooLarge       = errors.New("block weight exceeds limit")
	ErrTooManySigOps       = errors.New("block sigop cost exceeds limit")
	ErrDuplicateTx         = errors.New("duplicate transaction in block")
	ErrDuplicateBlockInput = errors.New("duplicate input across transactions in block")
	ErrBadWitnessNonce     = errors.New("coinbase witness nonce must be a single 32-byte item")
	ErrBadWitnessCommit    = errors.New("witness commitment mismatch")
	ErrUnexpectedWitness   = errors.New("block has witness data but no commitment")
)

// CheckSanity performs the context-free block checks: structure, merkle
// root, weight and legacy sigops. It does not look at coins, scripts or
// the parent block.
func (b *Block) CheckSanity() error {
	if b.Header == nil {
		return ruleerr.Wrap(ruleerr.Structural, ErrNilHeader)
	}
	if len(b.Transactions) == 0 {
		return ruleerr.Wrap(ruleerr.Structural, ErrNoTransactions)
	}

	if !b.Transactions[0].IsCoinbase() {
		return ruleerr.Wrap(ruleerr.ConsensusRule, ErrNoCoinbase)
	}
	for i, t := range b.Transactions[1:] {
		if t.IsCoinbase() {
			return ruleerr.Errorf(ruleerr.ConsensusRule, "tx %d: %w", i+1, ErrMultipleCoinbase)
		}
	}

	txHashes := b.TxHashes()
	root, mutated := computeMerkleRoot(txHashes)
	if b.Header.MerkleRoot != root {
		return ruleerr.Errorf(ruleerr.ConsensusRule, "%w: header=%s computed=%s",
			ErrBadMerkleRoot, b.Header.MerkleRoot, root)
	}
	if mutated {
		return ruleerr.Wrap(ruleerr.ConsensusRule, ErrMutatedMerkle)
	}

	if w := b.Weight(); w > MaxBlockWeight {
		return ruleerr.Errorf(ruleerr.ResourceLimit, "%w: %d, max %d", ErrBlockTooLarge, w, MaxBlockWeight)
	}

	for i, t := range b.Transactions {
		if err := t.CheckSanity(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	seenTx := make(map[types.Hash]int, len(txHashes))
	for i, h := range txHashes {
		if prev, dup := seenTx[h]; dup {
			return ruleerr.Errorf(ruleerr.ConsensusRule, "tx %d: %w: same as tx %d", i, ErrDuplicateTx, prev)
		}
		seenTx[h] = i
	}

	// Per-tx duplicates are caught by tx.CheckSanity.
	spent := make(map[types.Outpoint]int)
	for i, t := range b.Transactions[1:] {
		for _, in := range t.Inputs {
			if prev, dup := spent[in.PrevOut]; dup {
				return ruleerr.Errorf(ruleerr.ConsensusRule, "tx %d: %w: outpoint %s also spent in tx %d",
					i+1, ErrDuplicateBlockInput, in.PrevOut, prev)
			}
			spent[in.PrevOut] = i + 1
		}
	}

	if cost := b.LegacySigOpCost(); cost > MaxBlockSigOpsCost {
		return ruleerr.Errorf(ruleerr.ResourceLimit, "%w: %d", ErrTooManySigOps, cost)
	}
	return nil
}

// LegacySigOpCost counts inaccurate sigops in every scriptSig and
// scriptPubKey, scaled by the witness factor.
func (b *Block) LegacySigOpCost() int {
	var n int
	for _, t := range b.Transactions {
		n += TxLegacySigOps(t)
	}
	return n * tx.WitnessScaleFactor
}

// TxLegacySigOps counts inaccurate sigops in t's scripts.
func TxLegacySigOps(t *tx.Transaction) int {
	var n int
	for _, in := range t.Inputs {
		n += script.CountSigOps(in.Script, false)
	}
	for _, out := range t.Outputs {
		n += script.CountSigOps(out.Script, false)
	}
	return n
}

// CheckWitnessCommitment enforces the segwit coinbase commitment. A block
// without a commitment may not carry witness data. With one, the coinbase
// witness must be a single 32-byte nonce and the committed hash must match.
func (b *Block) CheckWitnessCommitment() error {
	commitment, ok := b.CoinbaseCommitment()
	if !ok {
		for i, t := range b.Transactions {
			if t.HasWitness() {
				return ruleerr.Errorf(ruleerr.ConsensusRule, "tx %d: %w", i, ErrUnexpectedWitness)
			}
		}
		return nil
	}

	w := b.Transactions[0].Inputs[0].Witness
	if len(w) != 1 || len(w[0]) != 32 {
		return ruleerr.Wrap(ruleerr.ConsensusRule, ErrBadWitnessNonce)
	}
	want := WitnessCommitment(b.WitnessMerkleRoot(), w[0])
	if string(want[:]) != string(commitment) {
		return ruleerr.Errorf(ruleerr.ConsensusRule, "%w: computed %x", ErrBadWitnessCommit, want[:])
	}
	return nil
}
