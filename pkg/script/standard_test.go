package script

import (
	"bytes"
	"testing"
)

func TestClassifyScript(t *testing.T) {
	h20 := bytes.Repeat([]byte{0x11}, 20)
	h32 := bytes.Repeat([]byte{0x22}, 32)
	pub := append([]byte{0x02}, bytes.Repeat([]byte{0x33}, 32)...)

	p2pk, _ := PayToPubKeyScript(pub)
	multi, _ := MultiSigScript(1, pub, pub)
	nulldata, _ := NullDataScript([]byte("hello"))

	tests := []struct {
		name   string
		script []byte
		want   ScriptClass
	}{
		{"p2pkh", PayToPubKeyHashScript(h20), PubKeyHashTy},
		{"p2sh", PayToScriptHashScript(h20), ScriptHashTy},
		{"p2wpkh", PayToWitnessPubKeyHashScript(h20), WitnessV0PubKeyHashTy},
		{"p2wsh", PayToWitnessScriptHashScript(h32), WitnessV0ScriptHashTy},
		{"p2tr", append([]byte{OP_1, OP_DATA_32}, h32...), WitnessV1TaprootTy},
		{"witness v2", append([]byte{OP_2, OP_DATA_20}, h20...), WitnessUnknownTy},
		{"v0 wrong length", append([]byte{OP_0, 0x15}, bytes.Repeat([]byte{1}, 21)...), NonStandardTy},
		{"p2pk", p2pk, PubKeyTy},
		{"multisig", multi, MultiSigTy},
		{"nulldata", nulldata, NullDataTy},
		{"bare return", []byte{OP_RETURN}, NullDataTy},
		{"op true", []byte{OP_TRUE}, NonStandardTy},
		{"empty", nil, NonStandardTy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyScript(tt.script); got != tt.want {
				t.Errorf("ClassifyScript(%x) = %s, want %s", tt.script, got, tt.want)
			}
		})
	}
}

func TestExtractWitnessProgram(t *testing.T) {
	version, program, ok := ExtractWitnessProgram(append([]byte{OP_16, 0x02}, 0xaa, 0xbb))
	if !ok || version != 16 || !bytes.Equal(program, []byte{0xaa, 0xbb}) {
		t.Errorf("v16 program: %d %x %v", version, program, ok)
	}
	if _, _, ok := ExtractWitnessProgram([]byte{OP_1, 0x01, 0xaa}); ok {
		t.Error("1-byte program accepted")
	}
	if _, _, ok := ExtractWitnessProgram(append([]byte{OP_1, OP_PUSHDATA1, 32}, make([]byte, 32)...)); ok {
		t.Error("PUSHDATA1 program accepted")
	}
}

func TestIsPushOnly(t *testing.T) {
	if !IsPushOnly([]byte{OP_0, OP_1NEGATE, OP_RESERVED, OP_16, OP_DATA_1, 0x01}) {
		t.Error("push-only script rejected")
	}
	if IsPushOnly([]byte{OP_1, OP_NOP}) {
		t.Error("OP_NOP counted as push")
	}
	if IsPushOnly([]byte{OP_DATA_1 + 1, 0x01}) {
		t.Error("malformed push counted as push-only")
	}
}

func TestMultiSigParams(t *testing.T) {
	pub := append([]byte{0x03}, bytes.Repeat([]byte{0x01}, 32)...)
	s, err := MultiSigScript(2, pub, pub, pub)
	if err != nil {
		t.Fatalf("MultiSigScript: %v", err)
	}
	m, n, ok := MultiSigParams(s)
	if !ok || m != 2 || n != 3 {
		t.Errorf("MultiSigParams = %d, %d, %v", m, n, ok)
	}
	if _, err := MultiSigScript(3, pub, pub); err == nil {
		t.Error("m > n accepted")
	}
}

func TestScriptBuilder_MinimalPushes(t *testing.T) {
	b := NewScriptBuilder()
	for _, n := range []int{0, 1, 75, 76, 255, 256, 520} {
		b.AddData(bytes.Repeat([]byte{0xaa}, n))
	}
	b.AddData([]byte{0x05}).AddData([]byte{0x81})
	for _, v := range []int64{-1, 0, 16, 17, -1000, 1 << 31} {
		b.AddInt64(v)
	}
	s := mustScript(t, b)

	if _, err := EvalScript(nil, s, VerifyMinimalData, SigVersionBase, nil); err != nil {
		t.Fatalf("builder output is not minimal: %v", err)
	}
	if _, err := NewScriptBuilder().AddData(make([]byte, MaxScriptElementSize+1)).Script(); err == nil {
		t.Error("oversized push accepted")
	}
}

func TestIsUnspendable(t *testing.T) {
	if !IsUnspendable([]byte{OP_RETURN, OP_1}) {
		t.Error("OP_RETURN output spendable")
	}
	if IsUnspendable([]byte{OP_1}) {
		t.Error("OP_1 output unspendable")
	}
}

func TestCountSigOps(t *testing.T) {
	pub := append([]byte{0x02}, bytes.Repeat([]byte{0x01}, 32)...)
	multi, _ := MultiSigScript(1, pub, pub, pub)

	tests := []struct {
		name     string
		script   []byte
		accurate bool
		want     int
	}{
		{"p2pkh", PayToPubKeyHashScript(make([]byte, 20)), false, 1},
		{"multisig legacy", multi, false, MaxPubKeysPerMultiSig},
		{"multisig accurate", multi, true, 3},
		{"checksigverify x2", []byte{OP_CHECKSIGVERIFY, OP_CHECKSIG}, false, 2},
		{"zero keys", []byte{OP_0, OP_CHECKMULTISIG}, true, MaxPubKeysPerMultiSig},
		{"stops at bad push", []byte{OP_CHECKSIG, OP_DATA_5, 0x01, OP_CHECKSIG}, false, 1},
	}
	for _, tt := range tests {
		if got := CountSigOps(tt.script, tt.accurate); got != tt.want {
			t.Errorf("%s: CountSigOps = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestCountP2SHAndWitnessSigOps(t *testing.T) {
	pub := append([]byte{0x02}, bytes.Repeat([]byte{0x01}, 32)...)
	redeem, _ := MultiSigScript(2, pub, pub)
	p2sh := PayToScriptHashScript(make([]byte, 20))
	sigScript := mustScript(t, NewScriptBuilder().AddOp(OP_0).AddData(redeem))

	if got := CountP2SHSigOps(sigScript, p2sh); got != 2 {
		t.Errorf("CountP2SHSigOps = %d, want 2", got)
	}
	if got := CountP2SHSigOps([]byte{OP_NOP}, p2sh); got != 0 {
		t.Errorf("non push-only scriptSig counted %d", got)
	}

	p2wsh := PayToWitnessScriptHashScript(make([]byte, 32))
	if got := CountWitnessSigOps(nil, p2wsh, [][]byte{{}, redeem}); got != 2 {
		t.Errorf("p2wsh sigops = %d, want 2", got)
	}
	p2wpkh := PayToWitnessPubKeyHashScript(make([]byte, 20))
	nested := mustScript(t, NewScriptBuilder().AddData(p2wpkh))
	if got := CountWitnessSigOps(nested, p2sh, nil); got != 1 {
		t.Errorf("nested p2wpkh sigops = %d, want 1", got)
	}
	p2tr := append([]byte{OP_1, OP_DATA_32}, make([]byte, 32)...)
	if got := CountWitnessSigOps(nil, p2tr, [][]byte{make([]byte, 64)}); got != 0 {
		t.Errorf("taproot sigops = %d, want 0", got)
	}
}

func TestPushedData(t *testing.T) {
	s, err := NewScriptBuilder().AddData([]byte{0xaa, 0xbb}).AddInt64(5).AddInt64(-1).AddData(nil).Script()
	if err != nil {
		t.Fatal(err)
	}
	items, ok := PushedData(s)
	if !ok {
		t.Fatal("push-only script rejected")
	}
	want := [][]byte{{0xaa, 0xbb}, {5}, {0x81}, nil}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i := range want {
		if !bytes.Equal(items[i], want[i]) {
			t.Errorf("item %d = %x, want %x", i, items[i], want[i])
		}
	}

	if _, ok := PushedData([]byte{OP_DUP}); ok {
		t.Error("OP_DUP accepted as push-only")
	}
	if _, ok := PushedData([]byte{OP_DATA_1 + 1, 0x01}); ok {
		t.Error("truncated push accepted")
	}
}
