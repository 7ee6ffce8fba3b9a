package crypto

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Key sizes.
const (
	XOnlyPubKeySize      = 32
	CompressedPubKeySize = 33
	SchnorrSigSize       = 64
)

// ErrTweakInvalid is returned when a taproot tweak overflows the curve order
// or produces the point at infinity.
var ErrTweakInvalid = errors.New("invalid taproot tweak")

// PrivateKey wraps a secp256k1 private key. It produces ECDSA signatures
// for legacy and segwit v0 inputs and BIP340 signatures for taproot.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// SignECDSA produces a DER-encoded, low-S ECDSA signature over a 32-byte hash.
func (pk *PrivateKey) SignECDSA(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	return ecdsa.Sign(pk.key, hash).Serialize(), nil
}

// SignSchnorr produces a 64-byte BIP340 signature over a 32-byte hash.
func (pk *PrivateKey) SignSchnorr(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := schnorr.Sign(pk.key, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// XOnlyPublicKey returns the 32-byte x-only public key.
func (pk *PrivateKey) XOnlyPublicKey() []byte {
	return schnorr.SerializePubKey(pk.key.PubKey())
}

// TaprootTweak returns the private key for the output key committing to
// merkleRoot (nil for a key-path-only output).
func (pk *PrivateKey) TaprootTweak(merkleRoot []byte) (*PrivateKey, error) {
	d := pk.key.Key
	if pk.key.PubKey().SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		d.Negate()
	}
	h := TaggedHash(TagTapTweak, pk.XOnlyPublicKey(), merkleRoot)
	var t secp256k1.ModNScalar
	if overflow := t.SetByteSlice(h[:]); overflow {
		return nil, ErrTweakInvalid
	}
	d.Add(&t)
	if d.IsZero() {
		return nil, ErrTweakInvalid
	}
	return &PrivateKey{key: secp256k1.NewPrivateKey(&d)}, nil
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// VerifyECDSA checks a DER (or lax BER) ECDSA signature, without the
// trailing sighash byte, against a 32-byte hash and a serialized public key.
// Returns false on any parse error.
func VerifyECDSA(hash, signature, publicKey []byte) bool {
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}

// VerifySchnorr checks a 64-byte BIP340 signature against a 32-byte message
// and a 32-byte x-only public key.
func VerifySchnorr(hash, signature, xOnlyPubKey []byte) bool {
	pubKey, err := schnorr.ParsePubKey(xOnlyPubKey)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}

// TweakPublicKey computes Q = P + H_TapTweak(P || merkleRoot)·G for an
// x-only internal key P and returns x(Q) and the parity of y(Q).
func TweakPublicKey(internalKey, merkleRoot []byte) ([XOnlyPubKeySize]byte, byte, error) {
	var out [XOnlyPubKeySize]byte
	pub, err := schnorr.ParsePubKey(internalKey)
	if err != nil {
		return out, 0, fmt.Errorf("internal key: %w", err)
	}
	h := TaggedHash(TagTapTweak, internalKey, merkleRoot)
	var t secp256k1.ModNScalar
	if overflow := t.SetByteSlice(h[:]); overflow {
		return out, 0, ErrTweakInvalid
	}

	var p, tg, q secp256k1.JacobianPoint
	pub.AsJacobian(&p)
	secp256k1.ScalarBaseMultNonConst(&t, &tg)
	secp256k1.AddNonConst(&p, &tg, &q)
	if (q.X.IsZero() && q.Y.IsZero()) || q.Z.IsZero() {
		return out, 0, ErrTweakInvalid
	}
	q.ToAffine()

	copy(out[:], q.X.Bytes()[:])
	var parity byte
	if q.Y.IsOdd() {
		parity = 1
	}
	return out, parity, nil
}

// IsValidXOnlyKey reports whether b lifts to a curve point.
func IsValidXOnlyKey(b []byte) bool {
	if len(b) != XOnlyPubKeySize {
		return false
	}
	_, err := schnorr.ParsePubKey(b)
	return err == nil
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}
