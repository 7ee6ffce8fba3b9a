package chain

import (
	"math/big"

	"github.com/Klingon-tech/tapnode/pkg/types"
)

// State holds the current chain tip state.
type State struct {
	Height         uint32
	TipHash        types.Hash
	Work           *big.Int // Cumulative proof of work of the best chain.
	MedianTimePast int64
	TipTimestamp   uint32
}

// IsGenesis returns true if only the genesis block is connected.
func (s State) IsGenesis() bool {
	return s.Height == 0
}
