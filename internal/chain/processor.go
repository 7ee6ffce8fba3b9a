package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/internal/log"
	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
)

// Block processing errors.
var (
	ErrBlockKnown      = errors.New("block already known")
	ErrKnownInvalid    = errors.New("block previously rejected")
	ErrPrevNotFound    = errors.New("previous block not found")
	ErrInvalidAncestor = errors.New("block descends from an invalid block")
)

// ProcessBlock validates a block and adds it to the chain. A block
// extending the tip is connected. A block on a branch with more
// cumulative work than the active chain triggers a reorganization. Any
// other valid block is stored as a side branch.
//
// Blocks are processed one at a time. Cancelling ctx abandons the
// validation without changing chain state.
func (c *Chain) ProcessBlock(ctx context.Context, blk *block.Block) error {
	c.mu.Lock()
	events, err := c.processBlock(ctx, blk)
	c.mu.Unlock()

	c.metrics.observe(events, err)
	c.publish(events)
	return err
}

func (c *Chain) processBlock(ctx context.Context, blk *block.Block) ([]Event, error) {
	if blk == nil || blk.Header == nil {
		return nil, ruleerr.Wrap(ruleerr.Structural, block.ErrNilHeader)
	}
	hash := blk.Hash()
	if c.index.isInvalid(hash) {
		return nil, ruleerr.Errorf(ruleerr.ConsensusRule, "%w: %s", ErrKnownInvalid, hash)
	}
	if e := c.index.lookup(hash); e != nil {
		// A stored block whose connect was abandoned is retried.
		if c.index.contains(e) || e.Work.Cmp(c.index.tip().Work) <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrBlockKnown, hash)
		}
		return c.activate(ctx, e, blk)
	}

	parent := c.index.lookup(blk.Header.PrevHash)
	if parent == nil {
		return nil, fmt.Errorf("%w: %s", ErrPrevNotFound, blk.Header.PrevHash)
	}
	if c.index.isInvalid(parent.Hash) {
		c.index.markInvalid(hash)
		return nil, ruleerr.Errorf(ruleerr.ConsensusRule, "%w: parent %s", ErrInvalidAncestor, parent.Hash)
	}

	e, err := c.acceptBlock(blk, parent)
	if err != nil {
		return nil, err
	}

	return c.activate(ctx, e, blk)
}

// activate connects a stored entry if it beats the current tip.
func (c *Chain) activate(ctx context.Context, e *Entry, blk *block.Block) ([]Event, error) {
	tip := c.index.tip()
	switch {
	case e.Parent == tip:
		return c.connectTip(ctx, e, blk)
	case e.Work.Cmp(tip.Work) > 0:
		return c.reorganize(ctx, e)
	}
	log.Chain.Debug().
		Str("hash", e.Hash.String()).
		Uint32("height", e.Height).
		Str("tip", tip.Hash.String()).
		Msg("Stored side chain block")
	return nil, nil
}

// Connect validates blk and connects it on top of the current tip. Unlike
// ProcessBlock it never stores a side branch: a block whose parent is not
// the tip is rejected.
func (c *Chain) Connect(ctx context.Context, blk *block.Block) error {
	c.mu.Lock()
	events, err := c.connect(ctx, blk)
	c.mu.Unlock()

	c.metrics.observe(events, err)
	c.publish(events)
	return err
}

func (c *Chain) connect(ctx context.Context, blk *block.Block) ([]Event, error) {
	if blk == nil || blk.Header == nil {
		return nil, ruleerr.Wrap(ruleerr.Structural, block.ErrNilHeader)
	}
	hash := blk.Hash()
	if c.index.isInvalid(hash) {
		return nil, ruleerr.Errorf(ruleerr.ConsensusRule, "%w: %s", ErrKnownInvalid, hash)
	}
	if c.index.lookup(hash) != nil {
		return nil, fmt.Errorf("%w: %s", ErrBlockKnown, hash)
	}
	e, err := c.acceptBlock(blk, c.index.tip())
	if err != nil {
		return nil, err
	}
	return c.connectTip(ctx, e, blk)
}

// acceptBlock runs the context-free and header checks for blk as a child
// of parent, then stores it in the index.
func (c *Chain) acceptBlock(blk *block.Block, parent *Entry) (*Entry, error) {
	if err := c.validator.ValidateBlock(blk); err != nil {
		return nil, fmt.Errorf("validate %s: %w", blk.Hash(), err)
	}
	hc := &consensus.HeaderContext{
		Height:         parent.Height + 1,
		PrevHash:       parent.Hash,
		MedianTimePast: parent.MedianTimePast(c.params.MedianTimeSpan),
		ExpectedBits:   nextBits(c.params, parent),
		Now:            c.now(),
	}
	if err := consensus.CheckHeaderContext(blk.Header, hc, c.params); err != nil {
		return nil, fmt.Errorf("header %s: %w", blk.Hash(), err)
	}

	e := newEntry(blk.Header, parent)
	b := c.blocks.newBatch()
	if err := b.putBlock(blk); err != nil {
		return nil, fmt.Errorf("store block: %w", err)
	}
	if err := b.putEntry(e, statusStored); err != nil {
		return nil, fmt.Errorf("store entry: %w", err)
	}
	if err := b.commit(); err != nil {
		return nil, err
	}
	c.index.add(e)
	return e, nil
}

// connectTip connects e, whose parent is the tip, to the durable coin set.
func (c *Chain) connectTip(ctx context.Context, e *Entry, blk *block.Block) ([]Event, error) {
	diff, res, err := c.connectBlock(ctx, e, blk, c.coins)
	if err != nil {
		c.invalidate(err, e)
		return nil, fmt.Errorf("connect %s at height %d: %w", e.Hash, e.Height, err)
	}

	b := c.blocks.newBatch()
	if err := utxo.ApplyDiff(b.coins(), diff); err != nil {
		return nil, err
	}
	if err := b.putUndo(e.Hash, diff); err != nil {
		return nil, fmt.Errorf("store undo: %w", err)
	}
	if err := b.setHeight(e.Height, e.Hash); err != nil {
		return nil, fmt.Errorf("store height: %w", err)
	}
	if err := b.setTip(e.Hash); err != nil {
		return nil, fmt.Errorf("store tip: %w", err)
	}
	if err := b.commit(); err != nil {
		return nil, err
	}
	c.index.setTip(e)

	log.Chain.Info().
		Str("hash", e.Hash.String()).
		Uint32("height", e.Height).
		Int("txs", len(blk.Transactions)).
		Int64("fees", res.Fees).
		Int("sigops", res.SigOpCost).
		Msg("Block connected")
	return []Event{{Kind: EventConnected, Block: blk, Entry: e, Diff: diff}}, nil
}

// connectBlock validates the transactions of blk at entry e over base and
// returns the resulting coin diff. base is not modified.
func (c *Chain) connectBlock(ctx context.Context, e *Entry, blk *block.Block, base utxo.Source) (*utxo.Diff, *consensus.ConnectResult, error) {
	span := c.params.MedianTimeSpan
	bc := &consensus.BlockContext{
		Height:         e.Height,
		MedianTimePast: e.Parent.MedianTimePast(span),
		MedianTimeAt: func(height uint32) int64 {
			if a := e.Ancestor(height); a != nil {
				return a.MedianTimePast(span)
			}
			return 0
		},
	}
	view := utxo.NewView(base)
	res, err := consensus.ConnectTransactions(ctx, blk, bc, view, c.params, c.verifier)
	if err != nil {
		return nil, nil, err
	}
	return view.Diff(), res, nil
}

// invalidate marks entries as permanently invalid when err is a rule
// violation. Cancellation and storage failures leave them untouched.
func (c *Chain) invalidate(err error, entries ...*Entry) {
	if ruleerr.KindOf(err) == ruleerr.Unknown {
		return
	}
	b := c.blocks.newBatch()
	for _, e := range entries {
		c.index.markInvalid(e.Hash)
		if perr := b.putEntry(e, statusInvalid); perr != nil {
			log.Chain.Error().Err(perr).Str("hash", e.Hash.String()).Msg("Failed to stage invalid entry")
		}
	}
	if cerr := b.commit(); cerr != nil {
		log.Chain.Error().Err(cerr).Msg("Failed to persist invalid entries")
	}
	log.Chain.Warn().
		Err(err).
		Str("hash", entries[0].Hash.String()).
		Uint32("height", entries[0].Height).
		Str("kind", ruleerr.KindOf(err).String()).
		Msg("Block rejected")
}
