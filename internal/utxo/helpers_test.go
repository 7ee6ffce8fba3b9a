package utxo

import (
	"testing"

	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemory())
}

func makeOutpoint(data string, index uint32) types.Outpoint {
	return types.Outpoint{
		TxID:  crypto.Sha256([]byte(data)),
		Index: index,
	}
}

func makeCoin(value int64, height uint32) *Coin {
	return &Coin{
		Value:  value,
		Script: []byte{0x51},
		Height: height,
	}
}
