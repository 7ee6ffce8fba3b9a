package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestTaggedHash_Vector(t *testing.T) {
	got := TaggedHash("test", bytes.Repeat([]byte{0x0c}, 32))
	want := "f88d26c35028f6e63b5cfc3fc67b4a3ae6da9c48d9f0be94df97a94ab64d5a68"
	if hex.EncodeToString(got[:]) != want {
		t.Errorf("TaggedHash(test) = %x, want %s", got, want)
	}
}

func TestTaggedHash_Definition(t *testing.T) {
	data := []byte("payload")
	tag := Sha256([]byte(TagTapSighash))
	var buf []byte
	buf = append(buf, tag[:]...)
	buf = append(buf, tag[:]...)
	buf = append(buf, data...)
	want := Sha256(buf)

	if got := TaggedHash(TagTapSighash, data); got != want {
		t.Errorf("cached TapSighash = %x, want %x", got, want)
	}
	if got := NewTaggedHasher(TagTapSighash).Sum(data); got != want {
		t.Errorf("fresh hasher = %x, want %x", got, want)
	}
}

func TestTaggedHash_PartsConcatenate(t *testing.T) {
	whole := TaggedHash(TagTapBranch, []byte("abcdef"))
	split := TaggedHash(TagTapBranch, []byte("ab"), []byte("cd"), []byte("ef"))
	if whole != split {
		t.Error("multi-part input should hash like the concatenation")
	}
}

func TestTaggedHash_DistinctTags(t *testing.T) {
	data := make([]byte, 32)
	if TaggedHash(TagTapLeaf, data) == TaggedHash(TagTapBranch, data) {
		t.Error("different tags must produce different digests")
	}
}
