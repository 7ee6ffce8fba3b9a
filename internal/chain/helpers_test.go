package chain

import (
	"context"
	"testing"
	"time"

	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// testParams is regtest with coinbase outputs spendable in the next block.
func testParams() *consensus.Params {
	p := consensus.RegTestParams()
	p.CoinbaseMatures = 1
	return p
}

type testChain struct {
	*Chain
	db       storage.DB
	params   *consensus.Params
	key      *crypto.PrivateKey
	pkScript []byte
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()
	return openTestChain(t, storage.NewMemory(), nil)
}

func openTestChain(t *testing.T, db storage.DB, m *Metrics) *testChain {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	p := testParams()
	now := time.Unix(int64(p.Genesis.Header.Timestamp)+1_000_000, 0)
	c, err := New(Config{
		Params:  p,
		DB:      db,
		Workers: 2,
		Metrics: m,
		Now:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testChain{
		Chain:    c,
		db:       db,
		params:   p,
		key:      key,
		pkScript: script.PayToPubKeyHashScript(crypto.Hash160(key.PublicKey())),
	}
}

// child builds and mines a block on parent at height parentHeight+1. tag
// makes blocks on different branches distinct.
func (tc *testChain) child(t *testing.T, parent *block.Block, parentHeight uint32, tag byte, txs ...*tx.Transaction) *block.Block {
	t.Helper()
	height := parentHeight + 1
	cb := &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut:  types.Outpoint{Index: types.NullIndex},
			Script:   consensus.CoinbaseHeightScript(height, []byte{tag}),
			Sequence: tx.SequenceFinal,
		}},
		Outputs: []tx.Output{{Value: consensus.CalcBlockSubsidy(height, tc.params), Script: tc.pkScript}},
	}
	all := append([]*tx.Transaction{cb}, txs...)
	blk := block.NewBlock(&block.Header{
		Version:   4,
		PrevHash:  parent.Hash(),
		Timestamp: parent.Header.Timestamp + 600 + uint32(tag),
		Bits:      tc.params.PowLimitBits,
	}, all)
	blk.Header.MerkleRoot = block.ComputeMerkleRoot(blk.TxHashes())
	if err := consensus.NewPoW(tc.params).Seal(blk); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return blk
}

// branch builds n blocks on parent. extra, if set, supplies the non-coinbase
// transactions of the block at index i.
func (tc *testChain) branch(t *testing.T, parent *block.Block, parentHeight uint32, n int, tag byte,
	extra func(i int, prev []*block.Block) []*tx.Transaction) []*block.Block {
	t.Helper()
	var out []*block.Block
	for i := range n {
		var txs []*tx.Transaction
		if extra != nil {
			txs = extra(i, out)
		}
		blk := tc.child(t, parent, parentHeight+uint32(i), tag, txs...)
		out = append(out, blk)
		parent = blk
	}
	return out
}

// spendCoinbase signs a transaction moving the coinbase output of blk to
// the test key.
func (tc *testChain) spendCoinbase(t *testing.T, blk *block.Block) *tx.Transaction {
	t.Helper()
	cb := blk.Transactions[0]
	return tc.spend(t, types.Outpoint{TxID: cb.Hash()}, cb.Outputs[0].Value)
}

func (tc *testChain) spend(t *testing.T, op types.Outpoint, value int64) *tx.Transaction {
	t.Helper()
	spend := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: op, Sequence: tx.SequenceFinal}},
		Outputs: []tx.Output{{Value: value, Script: tc.pkScript}},
	}
	sig, err := script.RawTxInSignature(spend, 0, tc.pkScript, script.SigHashAll, tc.key)
	if err != nil {
		t.Fatalf("RawTxInSignature: %v", err)
	}
	ss, err := script.NewScriptBuilder().AddData(sig).AddData(tc.key.PublicKey()).Script()
	if err != nil {
		t.Fatal(err)
	}
	spend.Inputs[0].Script = ss
	return spend
}

func (tc *testChain) processAll(t *testing.T, blks []*block.Block) {
	t.Helper()
	for i, blk := range blks {
		if err := tc.ProcessBlock(context.Background(), blk); err != nil {
			t.Fatalf("ProcessBlock(%d): %v", i, err)
		}
	}
}

func (tc *testChain) commitment(t *testing.T) types.Hash {
	t.Helper()
	h, err := tc.UTXOCommitment()
	if err != nil {
		t.Fatalf("UTXOCommitment: %v", err)
	}
	return h
}

func (tc *testChain) genesis() *block.Block {
	return tc.params.Genesis
}
