package chain

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Klingon-tech/tapnode/internal/log"
	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Reorganization errors.
var (
	ErrReorgFailed       = errors.New("reorganization failed")
	ErrReorgTooDeep      = errors.New("reorg too deep")
	ErrDisconnectGenesis = errors.New("cannot disconnect genesis block")
	ErrUnknownBlock      = errors.New("unknown block")
)

// MaxReorgDepth is the maximum number of blocks that can be reverted in a reorg.
const MaxReorgDepth = 1000

// Disconnect reverts the tip block using its undo data and makes its
// parent the tip.
func (c *Chain) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	events, err := c.disconnectTip(ctx)
	c.mu.Unlock()

	c.metrics.observe(events, err)
	c.publish(events)
	return err
}

func (c *Chain) disconnectTip(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tip := c.index.tip()
	if tip.Parent == nil {
		return nil, ErrDisconnectGenesis
	}
	blk, undo, err := c.loadUndo(tip)
	if err != nil {
		return nil, err
	}

	b := c.blocks.newBatch()
	if err := utxo.ApplyDiff(b.coins(), undo.Invert()); err != nil {
		return nil, err
	}
	if err := b.deleteUndo(tip.Hash); err != nil {
		return nil, fmt.Errorf("delete undo: %w", err)
	}
	if err := b.deleteHeight(tip.Height); err != nil {
		return nil, fmt.Errorf("delete height: %w", err)
	}
	if err := b.setTip(tip.Parent.Hash); err != nil {
		return nil, fmt.Errorf("store tip: %w", err)
	}
	if err := b.commit(); err != nil {
		return nil, err
	}
	c.index.setTip(tip.Parent)

	log.Chain.Info().
		Str("hash", tip.Hash.String()).
		Uint32("height", tip.Height).
		Msg("Block disconnected")
	return []Event{{Kind: EventDisconnected, Block: blk, Entry: tip, Diff: undo}}, nil
}

// Reorganize switches the active chain to end at the stored block hash.
// Blocks back to the fork point are disconnected tip first, then the
// target branch is connected in order. All coin changes are staged and
// committed in one batch: if any branch block fails, nothing is written
// and the failing block and its descendants are marked invalid.
func (c *Chain) Reorganize(ctx context.Context, hash types.Hash) error {
	c.mu.Lock()
	events, err := c.reorganizeTo(ctx, hash)
	c.mu.Unlock()

	c.metrics.observe(events, err)
	c.publish(events)
	return err
}

func (c *Chain) reorganizeTo(ctx context.Context, hash types.Hash) ([]Event, error) {
	target := c.index.lookup(hash)
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, hash)
	}
	if c.index.isInvalid(hash) {
		return nil, ruleerr.Errorf(ruleerr.ConsensusRule, "%w: %s", ErrKnownInvalid, hash)
	}
	if target == c.index.tip() {
		return nil, nil
	}
	return c.reorganize(ctx, target)
}

type reorgStep struct {
	entry *Entry
	blk   *block.Block
	diff  *utxo.Diff
}

func (c *Chain) reorganize(ctx context.Context, target *Entry) ([]Event, error) {
	oldTip := c.index.tip()
	fork := c.index.fork(target)
	if fork == nil {
		return nil, fmt.Errorf("%w: %s shares no ancestor with the active chain", ErrReorgFailed, target.Hash)
	}
	if depth := oldTip.Height - fork.Height; depth > MaxReorgDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds %d", ErrReorgTooDeep, depth, MaxReorgDepth)
	}

	stage := utxo.NewCache(c.coins)

	var detached []reorgStep
	for n := oldTip; n != fork; n = n.Parent {
		blk, undo, err := c.loadUndo(n)
		if err != nil {
			return nil, err
		}
		if err := stage.Apply(undo.Invert()); err != nil {
			return nil, fmt.Errorf("revert %s: %w", n.Hash, err)
		}
		detached = append(detached, reorgStep{entry: n, blk: blk, diff: undo})
	}

	var path []*Entry
	for n := target; n != fork; n = n.Parent {
		path = append(path, n)
	}
	slices.Reverse(path)

	attached := make([]reorgStep, 0, len(path))
	for i, n := range path {
		blk, err := c.blocks.GetBlock(n.Hash)
		if err != nil {
			return nil, err
		}
		diff, _, err := c.connectBlock(ctx, n, blk, stage)
		if err != nil {
			c.invalidate(err, path[i:]...)
			return nil, fmt.Errorf("%w: block %s at height %d: %w", ErrReorgFailed, n.Hash, n.Height, err)
		}
		if err := stage.Apply(diff); err != nil {
			return nil, fmt.Errorf("stage %s: %w", n.Hash, err)
		}
		attached = append(attached, reorgStep{entry: n, blk: blk, diff: diff})
	}

	b := c.blocks.newBatch()
	if err := stage.Flush(b.coins()); err != nil {
		return nil, err
	}
	for _, s := range detached {
		if err := b.deleteUndo(s.entry.Hash); err != nil {
			return nil, fmt.Errorf("delete undo: %w", err)
		}
	}
	for h := target.Height + 1; h <= oldTip.Height; h++ {
		if err := b.deleteHeight(h); err != nil {
			return nil, fmt.Errorf("delete height: %w", err)
		}
	}
	for _, s := range attached {
		if err := b.putUndo(s.entry.Hash, s.diff); err != nil {
			return nil, fmt.Errorf("store undo: %w", err)
		}
		if err := b.setHeight(s.entry.Height, s.entry.Hash); err != nil {
			return nil, fmt.Errorf("store height: %w", err)
		}
	}
	if err := b.setTip(target.Hash); err != nil {
		return nil, fmt.Errorf("store tip: %w", err)
	}
	if err := b.commit(); err != nil {
		return nil, err
	}
	c.index.setTip(target)

	log.Chain.Info().
		Str("old_tip", oldTip.Hash.String()).
		Str("new_tip", target.Hash.String()).
		Str("fork", fork.Hash.String()).
		Int("disconnected", len(detached)).
		Int("connected", len(attached)).
		Msg("Chain reorganized")

	events := make([]Event, 0, len(detached)+len(attached)+1)
	for _, s := range detached {
		events = append(events, Event{Kind: EventDisconnected, Block: s.blk, Entry: s.entry, Diff: s.diff})
	}
	for _, s := range attached {
		events = append(events, Event{Kind: EventConnected, Block: s.blk, Entry: s.entry, Diff: s.diff})
	}
	events = append(events, Event{Kind: EventReorganized, OldTip: oldTip, NewTip: target, Entry: target})
	return events, nil
}

// loadUndo returns the block at e and the coin diff recorded when it was
// connected.
func (c *Chain) loadUndo(e *Entry) (*block.Block, *utxo.Diff, error) {
	blk, err := c.blocks.GetBlock(e.Hash)
	if err != nil {
		return nil, nil, err
	}
	undo, err := c.blocks.GetUndo(e.Hash)
	if err != nil {
		return nil, nil, err
	}
	return blk, undo, nil
}
