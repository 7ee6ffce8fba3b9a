// Package miner assembles blocks from the mempool and seals them. The
// network proof-of-work limit makes sealing instant only on regtest.
package miner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/tapnode/internal/chain"
	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// DefaultMaxBlockTxs bounds the transactions taken from the mempool.
const DefaultMaxBlockTxs = 4000

// coinbaseReserve is the weight kept free for the coinbase transaction.
const coinbaseReserve = 4000

// ErrNoPayout is returned when the miner has no output script.
var ErrNoPayout = errors.New("miner payout script is empty")

// ChainState provides read-only access to the current chain state.
type ChainState interface {
	State() chain.State
	NextBits() uint32
	Params() *consensus.Params
}

// MempoolSelector selects transactions for block inclusion.
type MempoolSelector interface {
	SelectForBlock(limit int) []*tx.Transaction
	GetFee(txHash types.Hash) int64
}

// Miner produces new blocks.
type Miner struct {
	chain       ChainState
	pool        MempoolSelector
	payTo       []byte
	maxBlockTxs int
	now         func() time.Time
	extraNonce  atomic.Uint64
}

// New creates a block producer paying the coinbase to payTo. pool may be
// nil to mine empty blocks.
func New(chain ChainState, pool MempoolSelector, payTo []byte) *Miner {
	return &Miner{
		chain:       chain,
		pool:        pool,
		payTo:       payTo,
		maxBlockTxs: DefaultMaxBlockTxs,
		now:         time.Now,
	}
}

// ProduceBlock builds and seals a block extending the current tip. The
// coinbase claims the subsidy plus the fees of the selected transactions.
// The block is NOT applied to the chain; the caller must process it.
func (m *Miner) ProduceBlock(ctx context.Context) (*block.Block, error) {
	if len(m.payTo) == 0 {
		return nil, ErrNoPayout
	}
	params := m.chain.Params()
	state := m.chain.State()
	height := state.Height + 1

	selected, fees := m.selectTxs()

	coinbase := BuildCoinbase(height, consensus.CalcBlockSubsidy(height, params)+fees,
		m.payTo, m.extraNonce.Add(1))
	txs := make([]*tx.Transaction, 0, 1+len(selected))
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	// Past the median time and never before the parent.
	timestamp := m.now().Unix()
	if timestamp <= state.MedianTimePast {
		timestamp = state.MedianTimePast + 1
	}
	if timestamp < int64(state.TipTimestamp) {
		timestamp = int64(state.TipTimestamp)
	}

	blk := block.NewBlock(&block.Header{
		Version:   4,
		PrevHash:  state.TipHash,
		Timestamp: uint32(timestamp),
		Bits:      m.chain.NextBits(),
	}, txs)

	if hasWitness(selected) {
		var nonce [32]byte
		coinbase.Inputs[0].Witness = tx.Witness{nonce[:]}
		coinbase.Outputs = append(coinbase.Outputs, tx.Output{Script: blk.CommitmentScript(nonce[:])})
	}
	blk.Header.MerkleRoot = block.ComputeMerkleRoot(blk.TxHashes())

	if err := consensus.NewPoW(params).SealWithCancel(ctx, blk); err != nil {
		return nil, fmt.Errorf("seal block: %w", err)
	}
	return blk, nil
}

// selectTxs takes mempool transactions, parents first, until the block
// weight budget is spent. The selection is cut at the first transaction
// that does not fit so no child is kept without its parent.
func (m *Miner) selectTxs() ([]*tx.Transaction, int64) {
	if m.pool == nil {
		return nil, 0
	}
	candidates := m.pool.SelectForBlock(m.maxBlockTxs)
	weight := block.HeaderSize*4 + coinbaseReserve
	var fees int64
	for i, t := range candidates {
		weight += t.Weight()
		if weight > block.MaxBlockWeight {
			return candidates[:i], fees
		}
		fees += m.pool.GetFee(t.Hash())
	}
	return candidates, fees
}

func hasWitness(txs []*tx.Transaction) bool {
	for _, t := range txs {
		if t.HasWitness() {
			return true
		}
	}
	return false
}

// BuildCoinbase creates a coinbase transaction paying value to payTo. The
// input script commits to height (BIP34) followed by extraNonce so that
// repeated templates at one height hash differently.
func BuildCoinbase(height uint32, value int64, payTo []byte, extraNonce uint64) *tx.Transaction {
	extra := make([]byte, 8)
	binary.LittleEndian.PutUint64(extra, extraNonce)

	return &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut:  types.Outpoint{Index: types.NullIndex},
			Script:   consensus.CoinbaseHeightScript(height, extra),
			Sequence: tx.SequenceFinal,
		}},
		Outputs: []tx.Output{{
			Value:  value,
			Script: payTo,
		}},
	}
}
