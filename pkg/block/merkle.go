package block

import (
	"bytes"

	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// ComputeMerkleRoot calculates the merkle root of transaction hashes.
//
// Algorithm:
//   - 0 hashes: returns zero hash
//   - 1 hash: returns that hash
//   - Otherwise: pairwise double-SHA256, duplicating the last element if
//     odd count, until one hash remains.
func ComputeMerkleRoot(txHashes []types.Hash) types.Hash {
	root, _ := computeMerkleRoot(txHashes)
	return root
}

// computeMerkleRoot also reports whether any level contained two equal
// adjacent hashes. Such a tree has the same root as a tree with a
// duplicated transaction list, so blocks that trigger it are rejected.
func computeMerkleRoot(txHashes []types.Hash) (types.Hash, bool) {
	if len(txHashes) == 0 {
		return types.Hash{}, false
	}

	level := make([]types.Hash, len(txHashes))
	copy(level, txHashes)

	var mutated bool
	for len(level) > 1 {
		for i := 0; i+1 < len(level); i += 2 {
			if level[i] == level[i+1] {
				mutated = true
			}
		}
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = crypto.HashConcat(level[i], level[i+1])
		}
		level = next
	}
	return level[0], mutated
}

// WitnessCommitmentHeader prefixes the witness commitment in a coinbase
// output: OP_RETURN OP_DATA_36 0xaa21a9ed.
var WitnessCommitmentHeader = []byte{0x6a, 0x24, 0xaa, 0x21, 0xa9, 0xed}

// witnessCommitmentLen is the minimum commitment output script length.
const witnessCommitmentLen = 38

// WitnessMerkleRoot computes the merkle root of wtxids, with the coinbase
// wtxid replaced by zero.
func (b *Block) WitnessMerkleRoot() types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		if i == 0 {
			continue
		}
		hashes[i] = t.WitnessHash()
	}
	return ComputeMerkleRoot(hashes)
}

// WitnessCommitment computes double-SHA256(witness root || nonce).
func WitnessCommitment(witnessRoot types.Hash, nonce []byte) types.Hash {
	buf := make([]byte, 0, 64)
	buf = append(buf, witnessRoot[:]...)
	buf = append(buf, nonce...)
	return crypto.DoubleSha256(buf)
}

// CoinbaseCommitment returns the 32-byte commitment carried by the last
// matching coinbase output.
func (b *Block) CoinbaseCommitment() ([]byte, bool) {
	if len(b.Transactions) == 0 {
		return nil, false
	}
	outs := b.Transactions[0].Outputs
	for i := len(outs) - 1; i >= 0; i-- {
		s := outs[i].Script
		if len(s) >= witnessCommitmentLen && bytes.HasPrefix(s, WitnessCommitmentHeader) {
			return s[len(WitnessCommitmentHeader):witnessCommitmentLen], true
		}
	}
	return nil, false
}

// CommitmentScript builds the coinbase output script committing to the
// block's witness data under nonce.
func (b *Block) CommitmentScript(nonce []byte) []byte {
	c := WitnessCommitment(b.WitnessMerkleRoot(), nonce)
	return append(append([]byte(nil), WitnessCommitmentHeader...), c[:]...)
}
