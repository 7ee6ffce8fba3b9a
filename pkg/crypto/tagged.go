package crypto

import (
	"github.com/Klingon-tech/tapnode/pkg/types"
	"github.com/minio/sha256-simd"
)

// Tags used by taproot.
const (
	TagTapLeaf    = "TapLeaf"
	TagTapBranch  = "TapBranch"
	TagTapTweak   = "TapTweak"
	TagTapSighash = "TapSighash"
)

// TaggedHasher computes sha256(sha256(tag) || sha256(tag) || data) for a
// fixed tag. The 64-byte tag prefix is computed once.
type TaggedHasher struct {
	tag    string
	prefix [64]byte
}

// NewTaggedHasher prepares a hasher for tag.
func NewTaggedHasher(tag string) *TaggedHasher {
	th := &TaggedHasher{tag: tag}
	t := sha256.Sum256([]byte(tag))
	copy(th.prefix[:32], t[:])
	copy(th.prefix[32:], t[:])
	return th
}

// Tag returns the tag string.
func (th *TaggedHasher) Tag() string {
	return th.tag
}

// Sum hashes the concatenation of parts under the tag.
func (th *TaggedHasher) Sum(parts ...[]byte) types.Hash {
	h := sha256.New()
	h.Write(th.prefix[:])
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

var (
	tapLeafHasher    = NewTaggedHasher(TagTapLeaf)
	tapBranchHasher  = NewTaggedHasher(TagTapBranch)
	tapTweakHasher   = NewTaggedHasher(TagTapTweak)
	tapSighashHasher = NewTaggedHasher(TagTapSighash)
)

// TaggedHash computes sha256(sha256(tag) || sha256(tag) || data...).
// The well-known taproot tags reuse precomputed prefixes.
func TaggedHash(tag string, data ...[]byte) types.Hash {
	switch tag {
	case TagTapLeaf:
		return tapLeafHasher.Sum(data...)
	case TagTapBranch:
		return tapBranchHasher.Sum(data...)
	case TagTapTweak:
		return tapTweakHasher.Sum(data...)
	case TagTapSighash:
		return tapSighashHasher.Sum(data...)
	}
	return NewTaggedHasher(tag).Sum(data...)
}
