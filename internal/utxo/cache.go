package utxo

import (
	"fmt"

	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Cache stages a sequence of diffs over a Source without touching it.
// The chain uses one Cache per reorganization: each disconnect and
// connect is applied to the cache and the net result is flushed in a
// single batch, or the cache is dropped.
type Cache struct {
	base Source
	// A nil coin marks an outpoint removed by a staged diff.
	coins map[types.Outpoint]*Coin
}

// NewCache creates an empty cache over base.
func NewCache(base Source) *Cache {
	return &Cache{base: base, coins: make(map[types.Outpoint]*Coin)}
}

// Get returns the staged coin at op, falling through to the base.
func (c *Cache) Get(op types.Outpoint) (*Coin, error) {
	if coin, ok := c.coins[op]; ok {
		if coin == nil {
			return nil, ErrNotFound
		}
		return coin, nil
	}
	return c.base.Get(op)
}

// Apply stages d. Every spent outpoint must currently exist.
func (c *Cache) Apply(d *Diff) error {
	for _, e := range d.Spent {
		if _, err := c.Get(e.Outpoint); err != nil {
			return fmt.Errorf("stage spend %s: %w", e.Outpoint, err)
		}
		c.coins[e.Outpoint] = nil
	}
	for _, e := range d.Added {
		c.coins[e.Outpoint] = e.Coin
	}
	return nil
}

// Len returns the number of staged outpoints.
func (c *Cache) Len() int {
	return len(c.coins)
}

// Flush writes the staged state into b and resets the cache.
func (c *Cache) Flush(b storage.Batch) error {
	ops := make([]CoinEntry, 0, len(c.coins))
	for op, coin := range c.coins {
		ops = append(ops, CoinEntry{Outpoint: op, Coin: coin})
	}
	sortEntries(ops)
	for _, e := range ops {
		var err error
		if e.Coin == nil {
			err = b.Delete(outpointKey(e.Outpoint))
		} else {
			err = b.Put(outpointKey(e.Outpoint), e.Coin.Serialize())
		}
		if err != nil {
			return fmt.Errorf("flush %s: %w", e.Outpoint, err)
		}
	}
	c.coins = make(map[types.Outpoint]*Coin)
	return nil
}
