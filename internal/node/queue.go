package node

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Klingon-tech/tapnode/internal/chain"
	"github.com/Klingon-tech/tapnode/internal/log"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/rs/zerolog"
)

// ErrQueueStopped is returned when a block is submitted after the queue
// stopped running.
var ErrQueueStopped = errors.New("block queue stopped")

// BlockProcessor is the part of the chain the queue feeds.
type BlockProcessor interface {
	ProcessBlock(ctx context.Context, blk *block.Block) error
}

// RejectFunc is told about every block a peer sent that failed validation.
type RejectFunc func(peer string, blk *block.Block, err error)

type queuedBlock struct {
	peer string
	blk  *block.Block
	done chan error // nil for fire-and-forget submissions
}

// BlockQueue serializes block processing. Blocks from every source share
// one channel and are handed to the chain in arrival order by a single
// goroutine.
type BlockQueue struct {
	proc     BlockProcessor
	items    chan queuedBlock
	stopped  chan struct{}
	onReject RejectFunc
	logger   zerolog.Logger

	processed atomic.Uint64
	rejected  atomic.Uint64
}

// NewBlockQueue creates a queue holding up to size pending blocks.
// onReject may be nil.
func NewBlockQueue(proc BlockProcessor, size int, onReject RejectFunc) *BlockQueue {
	if size < 1 {
		size = 1
	}
	return &BlockQueue{
		proc:     proc,
		items:    make(chan queuedBlock, size),
		stopped:  make(chan struct{}),
		onReject: onReject,
		logger:   log.WithComponent("queue"),
	}
}

// Submit enqueues blk received from peer without waiting for the result.
// It blocks while the queue is full.
func (q *BlockQueue) Submit(ctx context.Context, peer string, blk *block.Block) error {
	return q.enqueue(ctx, queuedBlock{peer: peer, blk: blk})
}

// Process enqueues blk and waits until the chain has handled it.
func (q *BlockQueue) Process(ctx context.Context, blk *block.Block) error {
	done := make(chan error, 1)
	if err := q.enqueue(ctx, queuedBlock{blk: blk, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stopped:
		// The worker may have finished this block just before stopping.
		select {
		case err := <-done:
			return err
		default:
			return ErrQueueStopped
		}
	}
}

func (q *BlockQueue) enqueue(ctx context.Context, item queuedBlock) error {
	select {
	case <-q.stopped:
		return ErrQueueStopped
	default:
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stopped:
		return ErrQueueStopped
	}
}

// Len returns the number of blocks waiting.
func (q *BlockQueue) Len() int {
	return len(q.items)
}

// Processed returns the number of blocks handed to the chain.
func (q *BlockQueue) Processed() uint64 {
	return q.processed.Load()
}

// Rejected returns the number of blocks the chain rejected as invalid.
func (q *BlockQueue) Rejected() uint64 {
	return q.rejected.Load()
}

// Run processes queued blocks until ctx is cancelled. It must be called
// once.
func (q *BlockQueue) Run(ctx context.Context) {
	defer close(q.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q.items:
			err := q.handle(ctx, item)
			if item.done != nil {
				item.done <- err
			}
		}
	}
}

func (q *BlockQueue) handle(ctx context.Context, item queuedBlock) error {
	err := q.proc.ProcessBlock(ctx, item.blk)
	q.processed.Add(1)
	if err == nil {
		return nil
	}

	hash := item.blk.Hash().String()
	switch {
	case errors.Is(err, chain.ErrBlockKnown):
		q.logger.Debug().Str("hash", hash).Str("peer", item.peer).Msg("Ignoring known block")
		return err
	case errors.Is(err, chain.ErrPrevNotFound):
		q.logger.Debug().Str("hash", hash).Str("peer", item.peer).Msg("Ignoring block with unknown parent")
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	if isInvalid(err) {
		q.rejected.Add(1)
		q.logger.Warn().Err(err).
			Str("hash", hash).
			Str("peer", item.peer).
			Str("kind", ruleerr.KindOf(err).String()).
			Msg("Rejected block")
		if q.onReject != nil && item.peer != "" {
			q.onReject(item.peer, item.blk, err)
		}
		return err
	}

	q.logger.Error().Err(err).Str("hash", hash).Msg("Block processing failed")
	return fmt.Errorf("process block %s: %w", hash, err)
}

// isInvalid reports whether err means the block itself breaks the rules,
// as opposed to a local failure.
func isInvalid(err error) bool {
	switch ruleerr.KindOf(err) {
	case ruleerr.Structural, ruleerr.ConsensusRule, ruleerr.ResourceLimit:
		return true
	}
	return false
}
