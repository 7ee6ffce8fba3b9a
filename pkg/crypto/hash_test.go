package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex: %v", err)
	}
	return b
}

func TestSha256(t *testing.T) {
	got := Sha256(nil)
	want := mustHex(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	if !bytes.Equal(got[:], want) {
		t.Errorf("Sha256(empty) = %x, want %x", got, want)
	}
}

func TestDoubleSha256(t *testing.T) {
	got := DoubleSha256([]byte("hello"))
	want := mustHex(t, "9595c9df90075148eb06860365df33584b75bff782a510c6cd4883a419833d50")
	if !bytes.Equal(got[:], want) {
		t.Errorf("DoubleSha256(hello) = %x, want %x", got, want)
	}
}

func TestHash160_GeneratorPoint(t *testing.T) {
	pub := mustHex(t, "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	got := Hash160(pub)
	want := mustHex(t, "751e76e8199196d454941c45d1b3a323f1433bd6")
	if !bytes.Equal(got, want) {
		t.Errorf("Hash160(G) = %x, want %x", got, want)
	}
}

func TestRipemd160_Empty(t *testing.T) {
	got := Ripemd160(nil)
	want := mustHex(t, "9c1185a5c5e9fc54612808977ee8f548b2258d31")
	if !bytes.Equal(got, want) {
		t.Errorf("Ripemd160(empty) = %x, want %x", got, want)
	}
}

func TestHashConcat_OrderMatters(t *testing.T) {
	a := Sha256([]byte("left"))
	b := Sha256([]byte("right"))
	if HashConcat(a, b) == HashConcat(b, a) {
		t.Error("HashConcat(a,b) should differ from HashConcat(b,a)")
	}

	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	if HashConcat(a, b) != DoubleSha256(buf[:]) {
		t.Error("HashConcat should double-hash the concatenation")
	}
}
