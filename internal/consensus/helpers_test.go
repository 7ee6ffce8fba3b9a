package consensus

import (
	"encoding/binary"
	"testing"

	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// p2pkhKey is a key with its P2PKH output script.
type p2pkhKey struct {
	key      *crypto.PrivateKey
	pkScript []byte
}

func newP2PKHKey(t *testing.T) *p2pkhKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return &p2pkhKey{
		key:      key,
		pkScript: script.PayToPubKeyHashScript(crypto.Hash160(key.PublicKey())),
	}
}

// sign fills the scriptSig of input idx.
func (k *p2pkhKey) sign(t *testing.T, spend *tx.Transaction, idx int) {
	t.Helper()
	sig, err := script.RawTxInSignature(spend, idx, k.pkScript, script.SigHashAll, k.key)
	if err != nil {
		t.Fatalf("RawTxInSignature: %v", err)
	}
	ss, err := script.NewScriptBuilder().AddData(sig).AddData(k.key.PublicKey()).Script()
	if err != nil {
		t.Fatal(err)
	}
	spend.Inputs[idx].Script = ss
}

var outpointSeq uint32

func nextOutpoint() types.Outpoint {
	outpointSeq++
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], outpointSeq)
	return types.Outpoint{TxID: crypto.Sha256(b[:]), Index: 0}
}

func newTestView() *utxo.View {
	return utxo.NewView(utxo.NewStore(storage.NewMemory()))
}

// fund adds a coin paying pkScript to view and returns its outpoint.
func fund(t *testing.T, view *utxo.View, value int64, height uint32, coinbase bool, pkScript []byte) types.Outpoint {
	t.Helper()
	op := nextOutpoint()
	c := utxo.NewCoin(tx.Output{Value: value, Script: pkScript}, height, coinbase)
	if err := view.Add(op, c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return op
}

// spendTx builds an unsigned transaction spending ops into one output.
func spendTx(ops []types.Outpoint, value int64, pkScript []byte) *tx.Transaction {
	t := &tx.Transaction{Version: 1}
	for _, op := range ops {
		t.Inputs = append(t.Inputs, tx.Input{PrevOut: op, Sequence: tx.SequenceFinal})
	}
	t.Outputs = []tx.Output{{Value: value, Script: pkScript}}
	return t
}

func coinbaseTx(height uint32, value int64) *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut:  types.Outpoint{Index: types.NullIndex},
			Script:   CoinbaseHeightScript(height, []byte("tapnode")),
			Sequence: tx.SequenceFinal,
		}},
		Outputs: []tx.Output{{Value: value, Script: []byte{script.OP_TRUE}}},
	}
}

func makeBlock(txs ...*tx.Transaction) *block.Block {
	blk := block.NewBlock(&block.Header{Version: 4, Timestamp: 1700000000, Bits: 0x207fffff}, txs)
	blk.Header.MerkleRoot = block.ComputeMerkleRoot(blk.TxHashes())
	return blk
}
