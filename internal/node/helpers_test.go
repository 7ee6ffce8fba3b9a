package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/Klingon-tech/tapnode/config"
	"github.com/Klingon-tech/tapnode/internal/codec"
	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(config.Regtest)
	cfg.DataDir = t.TempDir()
	cfg.Chain.Workers = 2
	cfg.Chain.QueueSize = 8
	cfg.RPC.Enabled = false
	return cfg
}

// newTestNode builds and starts a regtest node on an in-memory store.
func newTestNode(t *testing.T, cfg *config.Config) *Node {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	n, err := NewWithDB(cfg, storage.NewMemory())
	if err != nil {
		t.Fatalf("NewWithDB: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

// testMiner builds regtest blocks paying to a single key.
type testMiner struct {
	params   *consensus.Params
	key      *crypto.PrivateKey
	pkScript []byte
}

func newMiner(t *testing.T) *testMiner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return &testMiner{
		params:   consensus.RegTestParams(),
		key:      key,
		pkScript: script.PayToPubKeyHashScript(crypto.Hash160(key.PublicKey())),
	}
}

// child mines a block on parent at height parentHeight+1.
func (m *testMiner) child(t *testing.T, parent *block.Block, parentHeight uint32, txs ...*tx.Transaction) *block.Block {
	t.Helper()
	height := parentHeight + 1
	cb := &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut:  types.Outpoint{Index: types.NullIndex},
			Script:   consensus.CoinbaseHeightScript(height, nil),
			Sequence: tx.SequenceFinal,
		}},
		Outputs: []tx.Output{{Value: consensus.CalcBlockSubsidy(height, m.params), Script: m.pkScript}},
	}
	blk := block.NewBlock(&block.Header{
		Version:   4,
		PrevHash:  parent.Hash(),
		Timestamp: parent.Header.Timestamp + 600,
		Bits:      m.params.PowLimitBits,
	}, append([]*tx.Transaction{cb}, txs...))
	blk.Header.MerkleRoot = block.ComputeMerkleRoot(blk.TxHashes())
	if err := consensus.NewPoW(m.params).Seal(blk); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return blk
}

// chainFrom mines count blocks on top of the regtest genesis.
func (m *testMiner) chainFrom(t *testing.T, count int) []*block.Block {
	t.Helper()
	parent := m.params.Genesis
	out := make([]*block.Block, 0, count)
	for i := range count {
		blk := m.child(t, parent, uint32(i))
		out = append(out, blk)
		parent = blk
	}
	return out
}

// spendCoinbase moves the coinbase output of blk back to the miner key,
// leaving fee for the block producer.
func (m *testMiner) spendCoinbase(t *testing.T, blk *block.Block, fee int64) *tx.Transaction {
	t.Helper()
	cb := blk.Transactions[0]
	spend := &tx.Transaction{
		Version: 2,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{TxID: cb.Hash()}, Sequence: tx.SequenceFinal}},
		Outputs: []tx.Output{{Value: cb.Outputs[0].Value - fee, Script: m.pkScript}},
	}
	sig, err := script.RawTxInSignature(spend, 0, m.pkScript, script.SigHashAll, m.key)
	if err != nil {
		t.Fatalf("RawTxInSignature: %v", err)
	}
	ss, err := script.NewScriptBuilder().AddData(sig).AddData(m.key.PublicKey()).Script()
	if err != nil {
		t.Fatal(err)
	}
	spend.Inputs[0].Script = ss
	return spend
}

// hexLines encodes blks as an import file body.
func hexLines(t *testing.T, blks []*block.Block) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, blk := range blks {
		raw, err := codec.EncodeBlock(blk)
		if err != nil {
			t.Fatalf("EncodeBlock: %v", err)
		}
		buf.WriteString(hex.EncodeToString(raw))
		buf.WriteByte('\n')
	}
	return &buf
}

func processAll(t *testing.T, n *Node, blks []*block.Block) {
	t.Helper()
	for i, blk := range blks {
		if err := n.Queue().Process(context.Background(), blk); err != nil {
			t.Fatalf("Process(%d): %v", i, err)
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
