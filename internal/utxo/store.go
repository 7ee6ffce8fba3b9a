package utxo

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Store is the durable coin set over a storage.DB. Keys are
// txid(32) | index(4 BE), so iteration visits coins in outpoint order.
type Store struct {
	db storage.DB
}

// NewStore creates a new coin store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// Get retrieves a coin by outpoint. Returns ErrNotFound if absent.
func (s *Store) Get(op types.Outpoint) (*Coin, error) {
	data, err := s.db.Get(outpointKey(op))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coin get: %w", err)
	}
	c, rest, err := DecodeCoin(data)
	if err != nil {
		return nil, fmt.Errorf("coin %s: %w", op, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("coin %s: %w: trailing bytes", op, ErrBadEncoding)
	}
	return c, nil
}

// Has reports whether op is unspent.
func (s *Store) Has(op types.Outpoint) (bool, error) {
	return s.db.Has(outpointKey(op))
}

// Put stores a coin.
func (s *Store) Put(op types.Outpoint, c *Coin) error {
	if err := s.db.Put(outpointKey(op), c.Serialize()); err != nil {
		return fmt.Errorf("coin put: %w", err)
	}
	return nil
}

// Delete removes a coin.
func (s *Store) Delete(op types.Outpoint) error {
	if err := s.db.Delete(outpointKey(op)); err != nil {
		return fmt.Errorf("coin delete: %w", err)
	}
	return nil
}

// ForEach visits every coin in outpoint order.
func (s *Store) ForEach(fn func(types.Outpoint, *Coin) error) error {
	return s.db.ForEach(nil, func(key, value []byte) error {
		op, err := outpointFromKey(key)
		if err != nil {
			return err
		}
		c, _, err := DecodeCoin(value)
		if err != nil {
			return fmt.Errorf("coin %s: %w", op, err)
		}
		return fn(op, c)
	})
}

// Count returns the number of stored coins.
func (s *Store) Count() (int, error) {
	var n int
	err := s.ForEach(func(types.Outpoint, *Coin) error {
		n++
		return nil
	})
	return n, err
}

// ApplyDiff writes d into b. Spends are written before additions so a
// diff that re-creates an outpoint leaves the new coin.
func ApplyDiff(b storage.Batch, d *Diff) error {
	for _, e := range d.Spent {
		if err := b.Delete(outpointKey(e.Outpoint)); err != nil {
			return fmt.Errorf("stage spend %s: %w", e.Outpoint, err)
		}
	}
	for _, e := range d.Added {
		if err := b.Put(outpointKey(e.Outpoint), e.Coin.Serialize()); err != nil {
			return fmt.Errorf("stage coin %s: %w", e.Outpoint, err)
		}
	}
	return nil
}

// Apply commits d to the store in one batch.
func (s *Store) Apply(d *Diff) error {
	b := storage.NewBatch(s.db)
	if err := ApplyDiff(b, d); err != nil {
		return err
	}
	return b.Commit()
}
