// Package chain implements the blockchain state machine. It owns the
// block index, the best-chain pointer and the durable coin set, and
// commits every connect, disconnect and reorganization atomically.
package chain

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/internal/log"
	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Config configures a Chain.
type Config struct {
	Params *consensus.Params
	DB     storage.DB
	// Workers bounds parallel input script checks. 0 uses GOMAXPROCS.
	Workers int
	// Metrics is optional.
	Metrics *Metrics
	// Now returns the wall clock used for the future timestamp limit.
	// Defaults to time.Now.
	Now func() time.Time
}

// Chain represents a blockchain instance with state, storage, and consensus.
type Chain struct {
	mu        sync.Mutex // Protects all state mutations (ProcessBlock, Reorganize).
	params    *consensus.Params
	blocks    *BlockStore
	coins     *utxo.Store
	index     *blockIndex
	validator *consensus.Validator
	verifier  *consensus.Verifier
	metrics   *Metrics
	now       func() time.Time

	genesisHash types.Hash // Hash of the genesis block (immutable).

	notifier
}

// New opens the chain stored in cfg.DB, writing the network genesis block
// first if the store is empty.
func New(cfg Config) (*Chain, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("storage db is nil")
	}
	if cfg.Params == nil || cfg.Params.Genesis == nil {
		return nil, fmt.Errorf("network params are nil")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	blocks := NewBlockStore(cfg.DB)
	c := &Chain{
		params:      cfg.Params,
		blocks:      blocks,
		coins:       utxo.NewStore(blocks.CoinDB()),
		index:       newBlockIndex(),
		validator:   consensus.NewValidator(consensus.NewPoW(cfg.Params)),
		verifier:    consensus.NewVerifier(cfg.Workers),
		metrics:     cfg.Metrics,
		now:         now,
		genesisHash: cfg.Params.Genesis.Hash(),
	}

	tipHash, ok, err := blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}
	if !ok {
		if err := c.initGenesis(); err != nil {
			return nil, err
		}
		tipHash = c.genesisHash
	}
	if err := c.index.load(blocks, tipHash); err != nil {
		return nil, err
	}
	if got, _ := blocks.HashAtHeight(0); got != c.genesisHash {
		return nil, fmt.Errorf("store genesis %s does not match %s network genesis %s",
			got, cfg.Params.Name, c.genesisHash)
	}

	tip := c.index.tip()
	c.metrics.setTip(tip.Height)
	log.Chain.Info().
		Str("network", cfg.Params.Name).
		Str("tip", tip.Hash.String()).
		Uint32("height", tip.Height).
		Msg("Chain loaded")
	return c, nil
}

// initGenesis writes the genesis block as the tip of a fresh store. Its
// coinbase output is not spendable and is not added to the coin set.
func (c *Chain) initGenesis() error {
	gen := c.params.Genesis
	e := newEntry(gen.Header, nil)
	b := c.blocks.newBatch()
	if err := b.putBlock(gen); err != nil {
		return fmt.Errorf("store genesis: %w", err)
	}
	if err := b.putEntry(e, statusStored); err != nil {
		return fmt.Errorf("store genesis entry: %w", err)
	}
	if err := b.setHeight(0, e.Hash); err != nil {
		return fmt.Errorf("store genesis height: %w", err)
	}
	if err := b.setTip(e.Hash); err != nil {
		return fmt.Errorf("store genesis tip: %w", err)
	}
	return b.commit()
}

// Params returns the network parameters.
func (c *Chain) Params() *consensus.Params {
	return c.params
}

// State returns a snapshot of the chain tip.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return stateOf(c.index.tip(), c.params)
}

func stateOf(tip *Entry, p *consensus.Params) State {
	return State{
		Height:         tip.Height,
		TipHash:        tip.Hash,
		Work:           new(big.Int).Set(tip.Work),
		MedianTimePast: tip.MedianTimePast(p.MedianTimeSpan),
		TipTimestamp:   tip.Header.Timestamp,
	}
}

// Tip returns the best-chain tip entry.
func (c *Chain) Tip() *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.tip()
}

// Height returns the current chain height.
func (c *Chain) Height() uint32 {
	return c.Tip().Height
}

// TipHash returns the hash of the current tip block.
func (c *Chain) TipHash() types.Hash {
	return c.Tip().Hash
}

// GenesisHash returns the hash of the genesis block.
func (c *Chain) GenesisHash() types.Hash {
	return c.genesisHash
}

// Entry returns the index entry for hash, or nil if unknown.
func (c *Chain) Entry(hash types.Hash) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.lookup(hash)
}

// HasBlock reports whether the block is stored, on any branch.
func (c *Chain) HasBlock(hash types.Hash) bool {
	return c.Entry(hash) != nil
}

// BlockLocator returns best-chain hashes from the tip back to genesis.
// The first ten are consecutive, after which the step doubles.
func (c *Chain) BlockLocator() []types.Hash {
	tip := c.Tip()
	var locator []types.Hash
	step := uint32(1)
	for e := tip; e != nil; {
		locator = append(locator, e.Hash)
		if e.Height == 0 {
			break
		}
		if len(locator) >= 10 {
			step *= 2
		}
		if e.Height < step {
			e = e.Ancestor(0)
		} else {
			e = e.Ancestor(e.Height - step)
		}
	}
	return locator
}

// GetBlock retrieves a block by hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves the best-chain block at height.
func (c *Chain) GetBlockByHeight(height uint32) (*block.Block, error) {
	c.mu.Lock()
	if int(height) >= len(c.index.active) {
		c.mu.Unlock()
		return nil, fmt.Errorf("height %d: %w", height, storage.ErrNotFound)
	}
	hash := c.index.active[height].Hash
	c.mu.Unlock()
	return c.blocks.GetBlock(hash)
}

// Coins returns the durable coin set. Reads may observe a commit in
// progress only at batch granularity.
func (c *Chain) Coins() *utxo.Store {
	return c.coins
}

// UTXOCommitment returns the digest of the full coin set.
func (c *Chain) UTXOCommitment() (types.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return utxo.Commitment(c.coins)
}

// NextBits returns the bits required for a block extending the tip.
func (c *Chain) NextBits() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return nextBits(c.params, c.index.tip())
}
