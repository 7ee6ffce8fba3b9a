package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	if len(key.PublicKey()) != CompressedPubKeySize {
		t.Errorf("PublicKey() length = %d, want 33", len(key.PublicKey()))
	}
	if len(key.XOnlyPublicKey()) != XOnlyPubKeySize {
		t.Errorf("XOnlyPublicKey() length = %d, want 32", len(key.XOnlyPublicKey()))
	}
	if len(key.Serialize()) != 32 {
		t.Errorf("Serialize() length = %d, want 32", len(key.Serialize()))
	}
}

func TestPrivateKeyFromBytes_InvalidLength(t *testing.T) {
	for _, n := range []int{0, 16, 64} {
		if _, err := PrivateKeyFromBytes(make([]byte, n)); err == nil {
			t.Errorf("expected error for %d-byte key", n)
		}
	}
}

func TestECDSA_SignVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	hash := Sha256([]byte("ecdsa message"))
	sig, err := key.SignECDSA(hash[:])
	if err != nil {
		t.Fatalf("SignECDSA() error: %v", err)
	}
	if !VerifyECDSA(hash[:], sig, key.PublicKey()) {
		t.Fatal("valid signature rejected")
	}

	other := Sha256([]byte("other message"))
	if VerifyECDSA(other[:], sig, key.PublicKey()) {
		t.Error("signature verified for the wrong message")
	}
	if VerifyECDSA(hash[:], sig[:len(sig)-1], key.PublicKey()) {
		t.Error("truncated signature verified")
	}
}

func TestSchnorr_SignVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	hash := Sha256([]byte("schnorr message"))
	sig, err := key.SignSchnorr(hash[:])
	if err != nil {
		t.Fatalf("SignSchnorr() error: %v", err)
	}
	if len(sig) != SchnorrSigSize {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}
	if !VerifySchnorr(hash[:], sig, key.XOnlyPublicKey()) {
		t.Fatal("valid signature rejected")
	}

	sig[10] ^= 0x01
	if VerifySchnorr(hash[:], sig, key.XOnlyPublicKey()) {
		t.Error("corrupted signature verified")
	}
}

func TestTweak_PrivateMatchesPublic(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	root := Sha256([]byte("merkle root"))

	for _, mr := range [][]byte{nil, root[:]} {
		tweaked, err := key.TaprootTweak(mr)
		if err != nil {
			t.Fatalf("TaprootTweak() error: %v", err)
		}
		outKey, _, err := TweakPublicKey(key.XOnlyPublicKey(), mr)
		if err != nil {
			t.Fatalf("TweakPublicKey() error: %v", err)
		}
		if !bytes.Equal(tweaked.XOnlyPublicKey(), outKey[:]) {
			t.Errorf("tweaked private key x = %x, public tweak gives %x", tweaked.XOnlyPublicKey(), outKey)
		}
	}
}

func TestTweak_ParityMatchesCompressedPrefix(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	tweaked, err := key.TaprootTweak(nil)
	if err != nil {
		t.Fatalf("TaprootTweak() error: %v", err)
	}
	_, parity, err := TweakPublicKey(key.XOnlyPublicKey(), nil)
	if err != nil {
		t.Fatalf("TweakPublicKey() error: %v", err)
	}
	wantParity := tweaked.PublicKey()[0] - 0x02
	if parity != wantParity {
		t.Errorf("parity = %d, want %d", parity, wantParity)
	}
}

func TestIsValidXOnlyKey(t *testing.T) {
	key, _ := GenerateKey()
	if !IsValidXOnlyKey(key.XOnlyPublicKey()) {
		t.Error("generated key should be valid")
	}
	if IsValidXOnlyKey(make([]byte, 31)) {
		t.Error("31-byte key accepted")
	}
}
