// Package mempool manages pending transactions waiting for block inclusion.
package mempool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Klingon-tech/tapnode/internal/chain"
	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/internal/log"
	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in mempool")
	ErrConflict      = errors.New("transaction conflicts with existing mempool entry")
	ErrPoolFull      = errors.New("mempool is full")
	ErrFeeTooLow     = errors.New("transaction fee below minimum")
	ErrNonStandard   = errors.New("non-standard transaction")
	ErrCoinbase      = errors.New("coinbase transaction not accepted")
)

// DefaultMaxSize is the transaction count limit used when none is given.
const DefaultMaxSize = 5000

// ChainState is the chain view the pool validates against.
type ChainState interface {
	Coins() *utxo.Store
	State() chain.State
	Params() *consensus.Params
}

// entry wraps a transaction with its fee and metadata.
type entry struct {
	tx      *tx.Transaction
	txHash  types.Hash
	fee     int64
	feeRate float64 // fee per virtual byte.
}

// Pool holds unconfirmed transactions. Every entry passed the standard
// policy and script verification under the standard flags against the
// confirmed coin set plus the outputs of other entries.
type Pool struct {
	mu         sync.RWMutex
	txs        map[types.Hash]*entry         // txHash -> entry
	spends     map[types.Outpoint]types.Hash // outpoint -> txHash (conflict index)
	maxSize    int
	minFeeRate int64 // Minimum fee rate in base units per virtual byte (0 = no minimum).
	policy     *Policy
	chain      ChainState

	// deferred holds transactions from disconnected blocks whose parents
	// are not yet back in the pool.
	deferred []*tx.Transaction
}

// New creates a new mempool over the given chain. A nil policy uses
// DefaultPolicy.
func New(cs ChainState, policy *Policy, maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Pool{
		txs:     make(map[types.Hash]*entry),
		spends:  make(map[types.Outpoint]types.Hash),
		maxSize: maxSize,
		policy:  policy,
		chain:   cs,
	}
}

// SetMinFeeRate sets the minimum fee rate (base units per virtual byte) for transaction acceptance.
func (p *Pool) SetMinFeeRate(rate int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minFeeRate = rate
}

// MinFeeRate returns the current minimum fee rate (base units per virtual byte).
func (p *Pool) MinFeeRate() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minFeeRate
}

// Add validates and adds a transaction to the mempool.
// Returns the computed fee. Rejects duplicates and double-spend conflicts.
func (p *Pool) Add(ctx context.Context, transaction *tx.Transaction) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fee, err := p.addLocked(ctx, transaction)
	if err != nil {
		log.Mempool.Debug().
			Err(err).
			Str("tx", transaction.Hash().String()).
			Str("kind", ruleerr.KindOf(err).String()).
			Msg("Transaction rejected")
	}
	return fee, err
}

func (p *Pool) addLocked(ctx context.Context, transaction *tx.Transaction) (int64, error) {
	txHash := transaction.Hash()

	// Reject duplicates.
	if _, exists := p.txs[txHash]; exists {
		return 0, ruleerr.Errorf(ruleerr.Policy, "%w: %s", ErrAlreadyExists, txHash)
	}
	if transaction.IsCoinbase() {
		return 0, ruleerr.Wrap(ruleerr.Policy, ErrCoinbase)
	}
	if err := transaction.CheckSanity(); err != nil {
		return 0, err
	}

	// Check for double-spend conflicts.
	for _, in := range transaction.Inputs {
		if conflictHash, exists := p.spends[in.PrevOut]; exists {
			return 0, ruleerr.Errorf(ruleerr.Policy, "%w: input %s already spent by %s",
				ErrConflict, in.PrevOut, conflictHash)
		}
	}

	if ok, reason := p.policy.CheckStandard(transaction); !ok {
		return 0, ruleerr.Errorf(ruleerr.Policy, "%w: %s", ErrNonStandard, reason)
	}

	st := p.chain.State()
	params := p.chain.Params()
	nextHeight := st.Height + 1
	if !transaction.IsFinal(nextHeight, st.MedianTimePast) {
		return 0, ruleerr.Errorf(ruleerr.Policy, "%w: %w", ErrNonStandard, consensus.ErrNonFinal)
	}

	view := &poolSource{pool: p, base: p.chain.Coins(), height: nextHeight}
	coins, err := consensus.ResolveInputs(transaction, view)
	if err != nil {
		return 0, err
	}
	fee, err := consensus.CheckTxInputs(transaction, coins, nextHeight, params.CoinbaseMatures)
	if err != nil {
		return 0, err
	}
	if !HasStandardInputs(transaction, view) {
		return 0, ruleerr.Errorf(ruleerr.Policy, "%w: nonstandard inputs", ErrNonStandard)
	}
	if !HasStandardWitness(transaction, view) {
		return 0, ruleerr.Errorf(ruleerr.Policy, "%w: nonstandard witness", ErrNonStandard)
	}
	if err := verifyStandard(ctx, transaction, view); err != nil {
		return 0, err
	}

	vsize := transaction.VirtualSize()
	var feeRate float64
	if vsize > 0 {
		feeRate = float64(fee) / float64(vsize)
	}

	// Enforce minimum fee rate.
	if p.minFeeRate > 0 {
		requiredFee := p.minFeeRate * int64(vsize)
		if fee < requiredFee {
			return 0, ruleerr.Errorf(ruleerr.Policy, "%w: got %d, need %d (%d vbytes × %d rate)",
				ErrFeeTooLow, fee, requiredFee, vsize, p.minFeeRate)
		}
	}

	// Check pool capacity: evict the lowest fee-rate entry if the new tx pays more.
	if len(p.txs) >= p.maxSize {
		lowestHash, lowestRate := p.findLowestFeeRate()
		if feeRate <= lowestRate {
			return 0, ruleerr.Wrap(ruleerr.Policy, ErrPoolFull)
		}
		p.removeWithDescendants(lowestHash)
	}

	e := &entry{
		tx:      transaction,
		txHash:  txHash,
		fee:     fee,
		feeRate: feeRate,
	}

	// Add to pool and conflict index.
	p.txs[txHash] = e
	for _, in := range transaction.Inputs {
		p.spends[in.PrevOut] = txHash
	}
	return fee, nil
}

// verifyStandard runs the input scripts under the standard flags. A
// transaction that fails them but passes the mandatory flags is
// non-standard rather than invalid.
func verifyStandard(ctx context.Context, t *tx.Transaction, view utxo.Source) error {
	err := consensus.Verify(ctx, t, view, script.StandardFlags)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if merr := consensus.Verify(ctx, t, view, script.MandatoryFlags); merr != nil {
		return merr
	}
	return ruleerr.Errorf(ruleerr.Policy, "%w: %w", ErrNonStandard, err)
}

// poolSource resolves coins from pool entries first, then the chain.
type poolSource struct {
	pool   *Pool
	base   utxo.Source
	height uint32
}

func (s *poolSource) Get(op types.Outpoint) (*utxo.Coin, error) {
	if e, ok := s.pool.txs[op.TxID]; ok {
		if int(op.Index) >= len(e.tx.Outputs) {
			return nil, utxo.ErrNotFound
		}
		return utxo.NewCoin(e.tx.Outputs[op.Index], s.height, false), nil
	}
	return s.base.Get(op)
}

// Remove removes a transaction from the mempool by hash.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	// Clean up spend index.
	for _, in := range e.tx.Inputs {
		if p.spends[in.PrevOut] == txHash {
			delete(p.spends, in.PrevOut)
		}
	}
	delete(p.txs, txHash)
}

// removeWithDescendants removes txHash and every entry spending its
// outputs, transitively.
func (p *Pool) removeWithDescendants(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	p.removeLocked(txHash)
	for i := range e.tx.Outputs {
		op := types.Outpoint{TxID: txHash, Index: uint32(i)}
		if child, ok := p.spends[op]; ok {
			p.removeWithDescendants(child)
		}
	}
}

// RemoveConfirmed removes the transactions of a connected block and any
// entry that double-spends one of their inputs, with its descendants.
func (p *Pool) RemoveConfirmed(transactions []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeConfirmedLocked(transactions)
}

func (p *Pool) removeConfirmedLocked(transactions []*tx.Transaction) {
	for _, t := range transactions {
		p.removeLocked(t.Hash())
	}
	for _, t := range transactions {
		if t.IsCoinbase() {
			continue
		}
		for _, in := range t.Inputs {
			if conflict, ok := p.spends[in.PrevOut]; ok {
				p.removeWithDescendants(conflict)
			}
		}
	}
}

// Has checks if a transaction exists in the mempool.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[txHash]
	return exists
}

// Get retrieves a transaction from the mempool.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.tx
}

// GetFee returns the fee for a transaction in the mempool (0 if not found).
func (p *Pool) GetFee(txHash types.Hash) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return 0
	}
	return e.fee
}

// Count returns the number of transactions in the mempool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Hashes returns the hashes of all transactions in the mempool.
func (p *Pool) Hashes() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hashes := make([]types.Hash, 0, len(p.txs))
	for h := range p.txs {
		hashes = append(hashes, h)
	}
	return hashes
}

// findLowestFeeRate returns the hash and fee rate of the lowest fee-rate entry.
// Must be called with p.mu held.
func (p *Pool) findLowestFeeRate() (types.Hash, float64) {
	var lowestHash types.Hash
	lowestRate := math.MaxFloat64
	for h, e := range p.txs {
		if e.feeRate < lowestRate {
			lowestRate = e.feeRate
			lowestHash = h
		}
	}
	return lowestHash, lowestRate
}

// SelectForBlock returns transactions ordered by fee rate (highest first),
// up to the given limit. A transaction is only selected after every pool
// parent it spends.
func (p *Pool) SelectForBlock(limit int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}

	// Sort by fee rate descending.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].feeRate != entries[j].feeRate {
			return entries[i].feeRate > entries[j].feeRate
		}
		return entries[i].txHash.String() < entries[j].txHash.String()
	})

	selected := make(map[types.Hash]bool, len(entries))
	var result []*tx.Transaction
	for len(result) < limit {
		progress := false
		for _, e := range entries {
			if selected[e.txHash] || !p.parentsSelected(e.tx, selected) {
				continue
			}
			selected[e.txHash] = true
			result = append(result, e.tx)
			progress = true
			break
		}
		if !progress {
			break
		}
	}
	return result
}

func (p *Pool) parentsSelected(t *tx.Transaction, selected map[types.Hash]bool) bool {
	for _, in := range t.Inputs {
		if _, inPool := p.txs[in.PrevOut.TxID]; inPool && !selected[in.PrevOut.TxID] {
			return false
		}
	}
	return true
}

// String describes the pool for logs.
func (p *Pool) String() string {
	return fmt.Sprintf("mempool(%d txs)", p.Count())
}
