package utxo

import (
	"testing"

	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

func TestCommitment_Empty(t *testing.T) {
	root, err := Commitment(testStore(t))
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	if !root.IsZero() {
		t.Error("empty store commitment should be zero hash")
	}
}

func TestCommitment_SingleCoin(t *testing.T) {
	store := testStore(t)
	op := types.Outpoint{TxID: types.Hash{0x01}}
	c := makeCoin(1000, 1)
	store.Put(op, c)

	root, err := Commitment(store)
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	if root != hashCoin(op, c) {
		t.Error("single coin commitment should equal its leaf hash")
	}
}

func TestCommitment_IndependentOfWriteOrder(t *testing.T) {
	a := testStore(t)
	b := NewStore(storage.NewMemory())
	ops := []types.Outpoint{makeOutpoint("x", 0), makeOutpoint("y", 1), makeOutpoint("z", 2)}
	for i, op := range ops {
		a.Put(op, makeCoin(int64(i), 1))
	}
	for i := len(ops) - 1; i >= 0; i-- {
		b.Put(ops[i], makeCoin(int64(i), 1))
	}
	// A coin written and removed leaves no trace.
	junk := makeOutpoint("junk", 0)
	b.Put(junk, makeCoin(9, 9))
	b.Delete(junk)

	ra, _ := Commitment(a)
	rb, _ := Commitment(b)
	if ra != rb {
		t.Error("commitment depends on write order")
	}
}

func TestCommitment_SensitiveToCoinFields(t *testing.T) {
	op := makeOutpoint("x", 0)
	base := makeCoin(5, 1)
	variants := []*Coin{
		{Value: 6, Script: base.Script, Height: base.Height},
		{Value: 5, Script: []byte{0x52}, Height: base.Height},
		{Value: 5, Script: base.Script, Height: 2},
		{Value: 5, Script: base.Script, Height: base.Height, Coinbase: true},
	}

	s := testStore(t)
	s.Put(op, base)
	want, _ := Commitment(s)
	for i, c := range variants {
		s.Put(op, c)
		got, _ := Commitment(s)
		if got == want {
			t.Errorf("variant %d did not change the commitment", i)
		}
	}
}

func TestMerkleRoot_OddCarry(t *testing.T) {
	leaves := []types.Hash{{1}, {2}, {3}}
	three := merkleRoot(leaves)
	four := merkleRoot([]types.Hash{{1}, {2}, {3}, {3}})
	if three != four {
		t.Error("odd node should pair with itself")
	}
}
