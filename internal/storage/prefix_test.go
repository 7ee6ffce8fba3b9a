package storage

import (
	"testing"
)

func TestPrefixDB_Isolation(t *testing.T) {
	inner := NewMemory()
	coins := NewPrefixDB(inner, []byte("c/"))
	undo := NewPrefixDB(inner, []byte("u/"))

	if err := coins.Put([]byte("key"), []byte("coin")); err != nil {
		t.Fatal(err)
	}
	if err := undo.Put([]byte("key"), []byte("undo")); err != nil {
		t.Fatal(err)
	}

	got, _ := coins.Get([]byte("key"))
	if string(got) != "coin" {
		t.Errorf("coins.Get = %q, want coin", got)
	}
	got, _ = undo.Get([]byte("key"))
	if string(got) != "undo" {
		t.Errorf("undo.Get = %q, want undo", got)
	}
	if ok, _ := inner.Has([]byte("c/key")); !ok {
		t.Error("inner key not namespaced")
	}

	if err := coins.Delete([]byte("key")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := undo.Has([]byte("key")); !ok {
		t.Error("delete leaked across namespaces")
	}
}

func TestPrefixDB_ForEachStripsPrefix(t *testing.T) {
	inner := NewMemory()
	db := NewPrefixDB(inner, []byte("ns/"))
	db.Put([]byte("a/1"), []byte("x"))
	db.Put([]byte("a/2"), []byte("y"))
	db.Put([]byte("b/1"), []byte("z"))
	inner.Put([]byte("a/1"), []byte("outside"))

	var keys []string
	err := db.ForEach([]byte("a/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "a/1" || keys[1] != "a/2" {
		t.Errorf("ForEach keys = %v, want [a/1 a/2]", keys)
	}
}

func TestPrefixDB_SharedBatch(t *testing.T) {
	inner := NewMemory()
	coins := NewPrefixDB(inner, []byte("c/"))
	undo := NewPrefixDB(inner, []byte("u/"))

	b := inner.NewBatch()
	coins.Wrap(b).Put([]byte("k"), []byte("1"))
	undo.Wrap(b).Put([]byte("k"), []byte("2"))
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Len())
	}
	if inner.Len() != 0 {
		t.Fatal("writes visible before commit")
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
	if inner.Len() != 2 {
		t.Errorf("inner has %d keys, want 2", inner.Len())
	}
	if ok, _ := undo.Has([]byte("k")); !ok {
		t.Error("undo write missing")
	}
}

func TestPrefixDB_CloseIsNoop(t *testing.T) {
	inner := NewMemory()
	db := NewPrefixDB(inner, []byte("x/"))
	db.Put([]byte("k"), []byte("v"))
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if ok, _ := inner.Has([]byte("x/k")); !ok {
		t.Error("inner closed by PrefixDB.Close")
	}
}
