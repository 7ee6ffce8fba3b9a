package codec

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

func TestDecodeBlock_Genesis(t *testing.T) {
	gen := consensus.MainNetParams().Genesis
	raw := gen.Serialize()

	blk, err := DecodeBlock(raw)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if blk.Hash() != gen.Hash() {
		t.Fatalf("hash = %s, want %s", blk.Hash(), gen.Hash())
	}
	if got := blk.Transactions[0].Hash(); got != gen.Transactions[0].Hash() {
		t.Fatalf("coinbase txid = %s", got)
	}

	enc, err := EncodeBlock(blk)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, raw) {
		t.Fatal("EncodeBlock differs from block.Serialize")
	}
}

func TestDecodeTx_GenesisCoinbase(t *testing.T) {
	cb := consensus.MainNetParams().Genesis.Transactions[0]
	decoded, err := DecodeTx(cb.Serialize())
	if err != nil {
		t.Fatalf("DecodeTx: %v", err)
	}
	want, _ := types.HexToHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")
	if decoded.Hash() != want {
		t.Fatalf("txid = %s, want %s", decoded.Hash(), want)
	}
}

func TestEncodeTx_MatchesSerialize(t *testing.T) {
	spend := &tx.Transaction{
		Version: 2,
		Inputs: []tx.Input{
			{PrevOut: types.Outpoint{TxID: types.Hash{1}, Index: 3}, Sequence: 0xfffffffd,
				Witness: tx.Witness{bytes.Repeat([]byte{0xaa}, 64)}},
			{PrevOut: types.Outpoint{TxID: types.Hash{2}}, Script: []byte{0x51}, Sequence: tx.SequenceFinal},
		},
		Outputs:  []tx.Output{{Value: 12345, Script: []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}}},
		LockTime: 99,
	}
	enc, err := EncodeTx(spend)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, spend.Serialize()) {
		t.Fatalf("wire encoding %x\ndiffers from %x", enc, spend.Serialize())
	}

	back, err := DecodeTx(enc)
	if err != nil {
		t.Fatal(err)
	}
	if back.WitnessHash() != spend.WitnessHash() {
		t.Fatal("wtxid changed through the codec")
	}
	if back.Inputs[1].Witness != nil {
		t.Fatal("input without witness decoded with one")
	}
}

func TestDecodeTx_Rejects(t *testing.T) {
	raw := consensus.MainNetParams().Genesis.Transactions[0].Serialize()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated", raw[:len(raw)-3], nil},
		{"trailing", append(append([]byte(nil), raw...), 0x00), ErrTrailingBytes},
		{"empty", nil, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeTx(tc.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if k := ruleerr.KindOf(err); k != ruleerr.Structural {
				t.Fatalf("kind = %s, want structural", k)
			}
		})
	}
}

func TestDecodeBlock_Hex(t *testing.T) {
	// Regtest genesis, as printed by other implementations.
	raw, err := hex.DecodeString(hex.EncodeToString(consensus.RegTestParams().Genesis.Serialize()))
	if err != nil {
		t.Fatal(err)
	}
	blk, err := DecodeBlock(raw)
	if err != nil {
		t.Fatal(err)
	}
	if blk.Header.Nonce != 2 || blk.Header.Bits != 0x207fffff {
		t.Fatalf("header = %+v", blk.Header)
	}
}
