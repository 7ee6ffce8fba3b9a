package utxo

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
	"pgregory.net/rapid"
)

func TestView_GetFallsThrough(t *testing.T) {
	s := testStore(t)
	op := makeOutpoint("base", 0)
	s.Put(op, makeCoin(100, 1))

	v := NewView(s)
	c, err := v.Get(op)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if c == nil || c.Value != 100 {
		t.Fatalf("Get() = %+v, want base coin", c)
	}
	if c, _ := v.Get(makeOutpoint("missing", 0)); c != nil {
		t.Error("Get() returned a coin for a missing outpoint")
	}
}

func TestView_SpendHidesCoin(t *testing.T) {
	s := testStore(t)
	op := makeOutpoint("base", 0)
	s.Put(op, makeCoin(100, 1))

	v := NewView(s)
	spent, err := v.Spend(op)
	if err != nil || spent == nil {
		t.Fatalf("Spend() = %v, %v", spent, err)
	}
	if c, _ := v.Get(op); c != nil {
		t.Error("coin visible after Spend()")
	}
	if again, _ := v.Spend(op); again != nil {
		t.Error("double spend returned a coin")
	}
	if ok, _ := s.Has(op); !ok {
		t.Error("Spend() touched the base store")
	}
}

func TestView_UndoRestoresSpent(t *testing.T) {
	s := testStore(t)
	base := makeOutpoint("base", 0)
	s.Put(base, makeCoin(100, 1))

	v := NewView(s)
	added := makeOutpoint("added", 0)
	if err := v.Add(added, makeCoin(50, 2)); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	v.Spend(base)
	v.Spend(added)
	if got := v.SpentCoins(); len(got) != 2 || got[0].Outpoint != base {
		t.Fatalf("SpentCoins() = %+v", got)
	}

	v.Undo()
	for _, op := range []types.Outpoint{base, added} {
		if c, _ := v.Get(op); c == nil {
			t.Errorf("%s not restored by Undo()", op)
		}
	}
	if len(v.SpentCoins()) != 0 {
		t.Error("undo log not cleared")
	}

	// The restored fresh coin is still an addition, the base coin is
	// untouched again.
	d := v.Diff()
	if len(d.Added) != 1 || d.Added[0].Outpoint != added || len(d.Spent) != 0 {
		t.Errorf("Diff() after Undo() = %+v", d)
	}
}

func TestView_AddExisting(t *testing.T) {
	s := testStore(t)
	base := makeOutpoint("base", 0)
	s.Put(base, makeCoin(100, 1))

	v := NewView(s)
	if err := v.Add(base, makeCoin(1, 2)); !errors.Is(err, ErrCoinExists) {
		t.Errorf("Add() over base coin = %v, want ErrCoinExists", err)
	}
	v.Spend(base)
	if err := v.Add(base, makeCoin(1, 2)); !errors.Is(err, ErrCoinExists) {
		t.Errorf("Add() over spent base coin = %v, want ErrCoinExists", err)
	}

	op := makeOutpoint("fresh", 0)
	v.Add(op, makeCoin(1, 2))
	v.Spend(op)
	if err := v.Add(op, makeCoin(2, 2)); err != nil {
		t.Errorf("Add() over fresh spent coin: %v", err)
	}
}

func TestView_Diff(t *testing.T) {
	s := testStore(t)
	spentBase := makeOutpoint("base", 0)
	keptBase := makeOutpoint("base", 1)
	s.Put(spentBase, makeCoin(100, 1))
	s.Put(keptBase, makeCoin(200, 1))

	v := NewView(s)
	v.Get(keptBase)
	v.Spend(spentBase)
	created := makeOutpoint("c", 0)
	transient := makeOutpoint("t", 0)
	v.Add(created, makeCoin(10, 2))
	v.Add(transient, makeCoin(20, 2))
	v.Spend(transient)

	d := v.Diff()
	if len(d.Added) != 1 || d.Added[0].Outpoint != created {
		t.Errorf("Added = %+v, want only %s", d.Added, created)
	}
	if len(d.Spent) != 1 || d.Spent[0].Outpoint != spentBase || d.Spent[0].Coin.Value != 100 {
		t.Errorf("Spent = %+v, want only %s", d.Spent, spentBase)
	}

	if err := s.Apply(d); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if err := s.Apply(d.Invert()); err != nil {
		t.Fatalf("Apply(Invert()) error: %v", err)
	}
	if ok, _ := s.Has(spentBase); !ok {
		t.Error("Invert() did not restore the spent coin")
	}
	if ok, _ := s.Has(created); ok {
		t.Error("Invert() did not remove the created coin")
	}
}

func TestView_AddTxSkipsUnspendable(t *testing.T) {
	v := NewView(nil)
	spend := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{Index: types.NullIndex}, Script: []byte{1, 1}}},
		Outputs: []tx.Output{
			{Value: 50, Script: []byte{0x51}},
			{Value: 0, Script: []byte{0x6a, 0x01, 0x02}},
		},
	}
	if err := v.AddTx(spend, 9); err != nil {
		t.Fatalf("AddTx() error: %v", err)
	}
	txid := spend.Hash()
	c, _ := v.Get(types.Outpoint{TxID: txid, Index: 0})
	if c == nil || !c.Coinbase || c.Height != 9 {
		t.Errorf("output 0 = %+v, want coinbase coin at height 9", c)
	}
	if c, _ := v.Get(types.Outpoint{TxID: txid, Index: 1}); c != nil {
		t.Error("OP_RETURN output added to view")
	}
}

// TestView_UndoRoundTrip checks that any interleaving of adds and spends
// is fully reverted by Undo.
func TestView_UndoRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := NewStore(storage.NewMemory())
		n := rapid.IntRange(1, 20).Draw(rt, "baseCoins")
		ops := make([]types.Outpoint, 0, n)
		coins := make(map[types.Outpoint]*Coin)
		for i := 0; i < n; i++ {
			op := types.Outpoint{TxID: types.Hash{byte(i)}, Index: uint32(i)}
			c := &Coin{
				Value:    rapid.Int64Range(0, tx.MaxMoney).Draw(rt, "value"),
				Script:   rapid.SliceOfN(rapid.Byte(), 0, 40).Draw(rt, "script"),
				Height:   rapid.Uint32().Draw(rt, "height"),
				Coinbase: rapid.Bool().Draw(rt, "coinbase"),
			}
			base.Put(op, c)
			ops = append(ops, op)
			coins[op] = c
		}

		v := NewView(base)
		added := rapid.IntRange(0, 10).Draw(rt, "added")
		for i := 0; i < added; i++ {
			op := types.Outpoint{TxID: types.Hash{0xff, byte(i)}}
			c := makeCoin(int64(i), 5)
			if err := v.Add(op, c); err != nil {
				rt.Fatalf("Add() error: %v", err)
			}
			ops = append(ops, op)
			coins[op] = c
		}

		spends := rapid.SliceOf(rapid.IntRange(0, len(ops)-1)).Draw(rt, "spends")
		for _, i := range spends {
			if _, err := v.Spend(ops[i]); err != nil {
				rt.Fatalf("Spend() error: %v", err)
			}
		}
		v.Undo()

		for _, op := range ops {
			got, err := v.Get(op)
			if err != nil {
				rt.Fatalf("Get() error: %v", err)
			}
			if !got.Equal(coins[op]) {
				rt.Fatalf("%s = %+v after Undo(), want %+v", op, got, coins[op])
			}
		}
		if d := v.Diff(); len(d.Spent) != 0 || len(d.Added) != added {
			rt.Fatalf("Diff() after Undo() = %d added, %d spent", len(d.Added), len(d.Spent))
		}
	})
}
