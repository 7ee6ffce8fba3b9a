package mempool

import (
	"testing"

	"github.com/Klingon-tech/tapnode/internal/chain"
	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// fakeChain serves a fixed tip over an in-memory coin store.
type fakeChain struct {
	coins  *utxo.Store
	state  chain.State
	params *consensus.Params
}

func (f *fakeChain) Coins() *utxo.Store        { return f.coins }
func (f *fakeChain) State() chain.State        { return f.state }
func (f *fakeChain) Params() *consensus.Params { return f.params }

type testEnv struct {
	chain    *fakeChain
	pool     *Pool
	key      *crypto.PrivateKey
	pkScript []byte // P2PKH of key.
	trScript []byte // key-path P2TR of key.
	nextID   byte
}

func newTestEnv(t *testing.T, maxSize int) *testEnv {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tr, err := script.PayToTaprootScript(key.XOnlyPublicKey(), nil)
	if err != nil {
		t.Fatalf("PayToTaprootScript: %v", err)
	}
	fc := &fakeChain{
		coins:  utxo.NewStore(storage.NewMemory()),
		state:  chain.State{Height: 200, MedianTimePast: 1_700_000_000},
		params: consensus.RegTestParams(),
	}
	return &testEnv{
		chain:    fc,
		pool:     New(fc, nil, maxSize),
		key:      key,
		pkScript: script.PayToPubKeyHashScript(crypto.Hash160(key.PublicKey())),
		trScript: tr,
	}
}

// fund adds a confirmed coin paying pkScript and returns its outpoint.
func (e *testEnv) fund(t *testing.T, pkScript []byte, value int64) types.Outpoint {
	t.Helper()
	e.nextID++
	op := types.Outpoint{TxID: types.Hash{0xf0, e.nextID}}
	c := utxo.NewCoin(tx.Output{Value: value, Script: pkScript}, 1, false)
	if err := e.chain.coins.Put(op, c); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return op
}

// spend builds a signed version 2 transaction moving op (a P2PKH coin of
// the env key) to a single P2PKH output of value.
func (e *testEnv) spend(t *testing.T, op types.Outpoint, value int64) *tx.Transaction {
	t.Helper()
	spend := &tx.Transaction{
		Version: 2,
		Inputs:  []tx.Input{{PrevOut: op, Sequence: tx.SequenceFinal}},
		Outputs: []tx.Output{{Value: value, Script: e.pkScript}},
	}
	e.signP2PKH(t, spend, 0)
	return spend
}

func (e *testEnv) signP2PKH(t *testing.T, spend *tx.Transaction, idx int) {
	t.Helper()
	sig, err := script.RawTxInSignature(spend, idx, e.pkScript, script.SigHashAll, e.key)
	if err != nil {
		t.Fatalf("RawTxInSignature: %v", err)
	}
	ss, err := script.NewScriptBuilder().AddData(sig).AddData(e.key.PublicKey()).Script()
	if err != nil {
		t.Fatal(err)
	}
	spend.Inputs[idx].Script = ss
}

func (e *testEnv) signTaproot(t *testing.T, spend *tx.Transaction, idx int, prevOuts []tx.Output, annex []byte) {
	t.Helper()
	sig, err := script.RawTxInTaprootSignature(spend, idx, prevOuts, nil, annex, script.SigHashDefault, e.key)
	if err != nil {
		t.Fatalf("RawTxInTaprootSignature: %v", err)
	}
	w := tx.Witness{sig}
	if annex != nil {
		w = append(w, annex)
	}
	spend.Inputs[idx].Witness = w
}

// mixedSpend builds the two-input spend of a P2PKH coin and a key-path
// taproot coin.
func (e *testEnv) mixedSpend(t *testing.T, annex []byte) *tx.Transaction {
	t.Helper()
	legacy := e.fund(t, e.pkScript, 60_000)
	taproot := e.fund(t, e.trScript, 40_000)
	prevOuts := []tx.Output{
		{Value: 60_000, Script: e.pkScript},
		{Value: 40_000, Script: e.trScript},
	}
	spend := &tx.Transaction{
		Version: 2,
		Inputs: []tx.Input{
			{PrevOut: legacy, Sequence: tx.SequenceFinal},
			{PrevOut: taproot, Sequence: tx.SequenceFinal},
		},
		Outputs: []tx.Output{{Value: 95_000, Script: e.trScript}},
	}
	e.signTaproot(t, spend, 1, prevOuts, annex)
	e.signP2PKH(t, spend, 0)
	return spend
}
