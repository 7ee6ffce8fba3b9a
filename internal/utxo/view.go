package utxo

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

type entry struct {
	coin  *Coin
	spent bool
	// fresh entries were created in this view and do not exist in the
	// base.
	fresh bool
}

type spendRecord struct {
	op    types.Outpoint
	coin  *Coin
	fresh bool
}

// View is an overlay over a read-only Source for one validation attempt.
// Reads fall through to the base and are cached; writes stay in the view
// until Diff is applied by the caller. Every spend is logged so Undo can
// restore the exact pre-spend state.
//
// A View is not safe for concurrent mutation. Coins returned by Get and
// Spend are owned by the view and must not be modified.
type View struct {
	base    Source
	entries map[types.Outpoint]*entry
	log     []spendRecord
}

// NewView creates an empty overlay over base. A nil base behaves like an
// empty set.
func NewView(base Source) *View {
	return &View{
		base:    base,
		entries: make(map[types.Outpoint]*entry),
	}
}

// lookup returns the entry for op, loading it from the base if needed.
func (v *View) lookup(op types.Outpoint) (*entry, error) {
	if e, ok := v.entries[op]; ok {
		return e, nil
	}
	if v.base == nil {
		return nil, nil
	}
	c, err := v.base.Get(op)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("view lookup %s: %w", op, err)
	}
	e := &entry{coin: c}
	v.entries[op] = e
	return e, nil
}

// Get returns the unspent coin at op, or nil if the outpoint is absent or
// already spent in this view.
func (v *View) Get(op types.Outpoint) (*Coin, error) {
	e, err := v.lookup(op)
	if err != nil || e == nil || e.spent {
		return nil, err
	}
	return e.coin, nil
}

// Add inserts a new coin. Adding over an existing coin, spent or not,
// fails with ErrCoinExists unless the coin was created and spent within
// this view.
func (v *View) Add(op types.Outpoint, c *Coin) error {
	e, err := v.lookup(op)
	if err != nil {
		return err
	}
	if e != nil && !(e.fresh && e.spent) {
		return fmt.Errorf("%w: %s", ErrCoinExists, op)
	}
	v.entries[op] = &entry{coin: c, fresh: true}
	return nil
}

// AddTx adds every spendable output of t as a coin created at height.
// Provably unspendable outputs are skipped.
func (v *View) AddTx(t *tx.Transaction, height uint32) error {
	txid := t.Hash()
	coinbase := t.IsCoinbase()
	for i, out := range t.Outputs {
		if script.IsUnspendable(out.Script) {
			continue
		}
		op := types.Outpoint{TxID: txid, Index: uint32(i)}
		if err := v.Add(op, NewCoin(out, height, coinbase)); err != nil {
			return err
		}
	}
	return nil
}

// Spend removes the coin at op and logs it for Undo. It returns nil if
// the coin is absent or already spent.
func (v *View) Spend(op types.Outpoint) (*Coin, error) {
	e, err := v.lookup(op)
	if err != nil || e == nil || e.spent {
		return nil, err
	}
	e.spent = true
	v.log = append(v.log, spendRecord{op: op, coin: e.coin, fresh: e.fresh})
	return e.coin, nil
}

// Undo reverts every spend since the view was created, newest first.
// Added coins are kept.
func (v *View) Undo() {
	for i := len(v.log) - 1; i >= 0; i-- {
		r := v.log[i]
		v.entries[r.op] = &entry{coin: r.coin, fresh: r.fresh}
	}
	v.log = v.log[:0]
}

// SpentCoins returns the logged spends in spend order.
func (v *View) SpentCoins() []CoinEntry {
	out := make([]CoinEntry, len(v.log))
	for i, r := range v.log {
		out[i] = CoinEntry{Outpoint: r.op, Coin: r.coin}
	}
	return out
}

// Diff returns the net change this view makes to its base. Coins created
// and spent inside the view appear in neither list.
func (v *View) Diff() *Diff {
	d := &Diff{}
	for op, e := range v.entries {
		switch {
		case e.fresh && !e.spent:
			d.Added = append(d.Added, CoinEntry{Outpoint: op, Coin: e.coin})
		case e.spent && !e.fresh:
			d.Spent = append(d.Spent, CoinEntry{Outpoint: op, Coin: e.coin})
		}
	}
	d.sort()
	return d
}

func lessOutpoint(a, b types.Outpoint) bool {
	if c := bytes.Compare(a.TxID[:], b.TxID[:]); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}

func sortEntries(es []CoinEntry) {
	sort.Slice(es, func(i, j int) bool {
		return lessOutpoint(es[i].Outpoint, es[j].Outpoint)
	})
}
