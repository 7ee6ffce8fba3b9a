// Package crypto provides the hash and signature primitives used by
// script validation.
package crypto

import (
	"crypto/sha1" //nolint:gosec // OP_SHA1 is consensus.

	"github.com/Klingon-tech/tapnode/pkg/types"
	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // HASH160 is consensus.
)

// Sha256 computes a single SHA-256 of data.
func Sha256(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// DoubleSha256 computes SHA-256(SHA-256(data)), used for txids, block
// hashes and the legacy/segwit v0 signature digests.
func DoubleSha256(data []byte) types.Hash {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// Ripemd160 computes RIPEMD-160 of data.
func Ripemd160(data []byte) []byte {
	h := ripemd160.New()
	h.Write(data)
	return h.Sum(nil)
}

// Hash160 computes RIPEMD-160(SHA-256(data)).
func Hash160(data []byte) []byte {
	s := sha256.Sum256(data)
	return Ripemd160(s[:])
}

// Sha1 computes SHA-1 of data.
func Sha1(data []byte) []byte {
	s := sha1.Sum(data) //nolint:gosec
	return s[:]
}

// HashConcat double-hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return DoubleSha256(buf[:])
}
