package mempool

import (
	"context"
	"errors"
	"sort"

	"github.com/Klingon-tech/tapnode/internal/chain"
	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/internal/log"
	"github.com/Klingon-tech/tapnode/pkg/tx"
)

// Evict removes the lowest fee-rate transactions and their descendants
// until the pool is at or below maxSize.
func (p *Pool) Evict() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.txs) <= p.maxSize {
		return 0
	}

	// Collect entries and sort by fee rate ascending (lowest first).
	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].feeRate < entries[j].feeRate
	})

	before := len(p.txs)
	for _, e := range entries {
		if len(p.txs) <= p.maxSize {
			break
		}
		p.removeWithDescendants(e.txHash)
	}
	return before - len(p.txs)
}

// HandleEvent updates the pool for a committed chain change. Connected
// blocks remove their transactions and conflicts. Disconnected blocks
// return their transactions to the pool; those whose parents are not yet
// available wait until the chain settles.
func (p *Pool) HandleEvent(ctx context.Context, ev chain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case chain.EventConnected:
		if ev.Block != nil {
			p.removeConfirmedLocked(ev.Block.Transactions)
		}
		p.retryDeferred(ctx)
		p.deferred = nil

	case chain.EventDisconnected:
		if ev.Block != nil {
			var txs []*tx.Transaction
			for _, t := range ev.Block.Transactions {
				if !t.IsCoinbase() {
					txs = append(txs, t)
				}
			}
			// Blocks arrive tip first, so earlier blocks go in front.
			p.deferred = append(txs, p.deferred...)
		}
		p.revalidate(ctx)
		p.retryDeferred(ctx)
		if len(p.deferred) > p.maxSize {
			p.deferred = p.deferred[len(p.deferred)-p.maxSize:]
		}

	case chain.EventReorganized:
		p.retryDeferred(ctx)
		if n := len(p.deferred); n > 0 {
			log.Mempool.Debug().Int("dropped", n).Msg("Dropping unresolved transactions after reorg")
		}
		p.deferred = nil
	}
}

// retryDeferred adds deferred transactions until no more succeed.
// Transactions still missing inputs stay deferred; any other rejection
// drops them.
func (p *Pool) retryDeferred(ctx context.Context) {
	for len(p.deferred) > 0 {
		var pending []*tx.Transaction
		added := 0
		for _, t := range p.deferred {
			_, err := p.addLocked(ctx, t)
			switch {
			case err == nil:
				added++
			case errors.Is(err, consensus.ErrMissingCoin):
				pending = append(pending, t)
			}
		}
		p.deferred = pending
		if added == 0 {
			return
		}
	}
}

// revalidate drops entries whose inputs no longer resolve or are no
// longer spendable at the next height.
func (p *Pool) revalidate(ctx context.Context) {
	st := p.chain.State()
	params := p.chain.Params()
	next := st.Height + 1
	view := &poolSource{pool: p, base: p.chain.Coins(), height: next}
	for h, e := range p.txs {
		if ctx.Err() != nil {
			return
		}
		if _, ok := p.txs[h]; !ok {
			continue
		}
		coins, err := consensus.ResolveInputs(e.tx, view)
		if err == nil {
			_, err = consensus.CheckTxInputs(e.tx, coins, next, params.CoinbaseMatures)
		}
		if err == nil && !e.tx.IsFinal(next, st.MedianTimePast) {
			err = consensus.ErrNonFinal
		}
		if err != nil {
			log.Mempool.Debug().Err(err).Str("tx", h.String()).Msg("Evicting invalidated transaction")
			p.removeWithDescendants(h)
		}
	}
}

// Run applies chain events to the pool until ctx is done or events is
// closed.
func (p *Pool) Run(ctx context.Context, events <-chan chain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.HandleEvent(ctx, ev)
		}
	}
}
