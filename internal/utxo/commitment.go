package utxo

import (
	"fmt"

	"github.com/Klingon-tech/tapnode/pkg/types"
	"github.com/zeebo/blake3"
)

// Commitment computes a BLAKE3 merkle root over every coin in the store.
// Leaves are visited in outpoint order, so equal coin sets give equal
// roots regardless of write history. Returns a zero hash for an empty set.
func Commitment(store *Store) (types.Hash, error) {
	var leaves []types.Hash
	err := store.ForEach(func(op types.Outpoint, c *Coin) error {
		leaves = append(leaves, hashCoin(op, c))
		return nil
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("utxo commitment: %w", err)
	}
	return merkleRoot(leaves), nil
}

// hashCoin hashes txid(32) | index(4 BE) | coin encoding.
func hashCoin(op types.Outpoint, c *Coin) types.Hash {
	buf := c.AppendTo(outpointKey(op))
	return blake3.Sum256(buf)
}

// merkleRoot pairs nodes left to right. An odd node is paired with
// itself.
func merkleRoot(level []types.Hash) types.Hash {
	if len(level) == 0 {
		return types.Hash{}
	}
	for len(level) > 1 {
		next := make([]types.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			h := blake3.New()
			h.Write(level[i][:])
			h.Write(right[:])
			var out types.Hash
			copy(out[:], h.Sum(nil))
			next = append(next, out)
		}
		level = next
	}
	return level[0]
}
