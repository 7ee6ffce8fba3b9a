package script

import (
	"testing"

	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/tx"
)

func TestTapBranchHash_Sorted(t *testing.T) {
	a := TapLeafHash(TapscriptLeafVersion, []byte{OP_1})
	b := TapLeafHash(TapscriptLeafVersion, []byte{OP_2})
	if TapBranchHash(a[:], b[:]) != TapBranchHash(b[:], a[:]) {
		t.Error("TapBranchHash depends on argument order")
	}
}

func TestTapLeafHash_Definition(t *testing.T) {
	script := []byte{OP_1, OP_2, OP_ADD}
	want := crypto.TaggedHash(crypto.TagTapLeaf, []byte{TapscriptLeafVersion, byte(len(script))}, script)
	if got := TapLeafHash(TapscriptLeafVersion, script); got != want {
		t.Errorf("TapLeafHash = %s, want %s", got, want)
	}
}

func TestTaprootKeyPath(t *testing.T) {
	internal := mustKey(t)
	pkScript, err := PayToTaprootScript(internal.XOnlyPublicKey(), nil)
	if err != nil {
		t.Fatalf("PayToTaprootScript: %v", err)
	}
	if ClassifyScript(pkScript) != WitnessV1TaprootTy {
		t.Fatalf("class = %s", ClassifyScript(pkScript))
	}
	spend, prevOuts := spendOf(pkScript)

	sig, err := RawTxInTaprootSignature(spend, 0, prevOuts, nil, nil, SigHashDefault, internal)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("default sighash signature length = %d, want 64", len(sig))
	}
	spend.Inputs[0].Witness = tx.Witness{sig}
	if err := verifyInput(spend, prevOuts, StandardFlags); err != nil {
		t.Fatalf("valid key path spend rejected: %v", err)
	}

	sigAll, err := RawTxInTaprootSignature(spend, 0, prevOuts, nil, nil, SigHashAll, internal)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	spend.Inputs[0].Witness = tx.Witness{sigAll}
	if err := verifyInput(spend, prevOuts, StandardFlags); err != nil {
		t.Fatalf("SIGHASH_ALL key path spend rejected: %v", err)
	}

	tests := []struct {
		name    string
		witness tx.Witness
		code    ErrorCode
	}{
		{"explicit default byte", tx.Witness{append(append([]byte(nil), sig...), 0x00)}, ErrSchnorrSigHashType},
		{"undefined hash type", tx.Witness{append(append([]byte(nil), sig...), 0x04)}, ErrSchnorrSigHashType},
		{"short signature", tx.Witness{sig[:63]}, ErrSchnorrSigSize},
		{"empty signature", tx.Witness{{}}, ErrSchnorrSigSize},
		{"hash type mismatch", tx.Witness{append(append([]byte(nil), sig...), byte(SigHashAll))}, ErrSchnorrSig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spend.Inputs[0].Witness = tt.witness
			if err := verifyInput(spend, prevOuts, MandatoryFlags); !IsErrorCode(err, tt.code) {
				t.Fatalf("got %v, want %v", err, tt.code)
			}
		})
	}

	spend.Inputs[0].Witness = tx.Witness{sig}
	spend.Outputs[0].Value--
	if err := verifyInput(spend, prevOuts, MandatoryFlags); !IsErrorCode(err, ErrSchnorrSig) {
		t.Errorf("tampered output: got %v", err)
	}
}

// A two-item witness whose last item is not control-block shaped is
// reported as a key-path spend by the witness helpers, but the interpreter
// treats any two items as a script path and rejects the control block.
func TestTaprootMalformedControlBlock_SpendType(t *testing.T) {
	internal := mustKey(t)
	pkScript, err := PayToTaprootScript(internal.XOnlyPublicKey(), nil)
	if err != nil {
		t.Fatalf("PayToTaprootScript: %v", err)
	}
	spend, prevOuts := spendOf(pkScript)
	sig, err := RawTxInTaprootSignature(spend, 0, prevOuts, nil, nil, SigHashDefault, internal)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	spend.Inputs[0].Witness = tx.Witness{sig}
	keyPath, err := SignatureHash(spend, 0, nil, 0, SigHashDefault, SigVersionTaproot, prevOuts, NoCodeSeparator)
	if err != nil {
		t.Fatalf("SignatureHash: %v", err)
	}

	malformed := tx.Witness{sig, {0xc0, 0x01, 0x02}}
	spend.Inputs[0].Witness = malformed
	if st := malformed.SpendType(); st != 0 {
		t.Fatalf("SpendType = %d, want key path", st)
	}
	if malformed.Tapleaf() != nil || malformed.ControlBlock() != nil {
		t.Fatal("malformed witness reports a tapleaf")
	}
	got, err := SignatureHash(spend, 0, nil, 0, SigHashDefault, SigVersionTaproot, prevOuts, NoCodeSeparator)
	if err != nil {
		t.Fatalf("SignatureHash: %v", err)
	}
	if got != keyPath {
		t.Errorf("digest = %s, want key-path digest %s", got, keyPath)
	}

	for _, flags := range []VerifyFlags{MandatoryFlags, StandardFlags} {
		if err := verifyInput(spend, prevOuts, flags); !IsErrorCode(err, ErrTaprootWrongControlSize) {
			t.Fatalf("flags %s: got %v, want ErrTaprootWrongControlSize", flags, err)
		}
	}
}

func TestTaprootKeyPath_SpentOutputsCommitted(t *testing.T) {
	internal := mustKey(t)
	pkScript, err := PayToTaprootScript(internal.XOnlyPublicKey(), nil)
	if err != nil {
		t.Fatalf("PayToTaprootScript: %v", err)
	}
	spend, prevOuts := spendOf(pkScript)
	sig, err := RawTxInTaprootSignature(spend, 0, prevOuts, nil, nil, SigHashDefault, internal)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	spend.Inputs[0].Witness = tx.Witness{sig}

	wrong := []tx.Output{{Value: prevOuts[0].Value + 1, Script: pkScript}}
	ctx := &TxContext{Tx: spend, Index: 0, Amount: wrong[0].Value, PrevOuts: wrong}
	if err := VerifyScript(nil, pkScript, spend.Inputs[0].Witness, MandatoryFlags, ctx); !IsErrorCode(err, ErrSchnorrSig) {
		t.Errorf("wrong spent amount: got %v", err)
	}

	ctx = &TxContext{Tx: spend, Index: 0, Amount: prevOuts[0].Value}
	if err := VerifyScript(nil, pkScript, spend.Inputs[0].Witness, MandatoryFlags, ctx); !IsErrorCode(err, ErrMissingTxContext) {
		t.Errorf("missing spent outputs: got %v", err)
	}
}

func TestTaprootKeyPath_Annex(t *testing.T) {
	internal := mustKey(t)
	pkScript, err := PayToTaprootScript(internal.XOnlyPublicKey(), nil)
	if err != nil {
		t.Fatalf("PayToTaprootScript: %v", err)
	}
	spend, prevOuts := spendOf(pkScript)
	annex := []byte{tx.AnnexTag, 0x01, 0x02}

	sig, err := RawTxInTaprootSignature(spend, 0, prevOuts, nil, annex, SigHashDefault, internal)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	spend.Inputs[0].Witness = tx.Witness{sig, annex}
	if err := verifyInput(spend, prevOuts, StandardFlags); err != nil {
		t.Fatalf("annex spend rejected: %v", err)
	}

	spend.Inputs[0].Witness = tx.Witness{sig}
	if err := verifyInput(spend, prevOuts, MandatoryFlags); !IsErrorCode(err, ErrSchnorrSig) {
		t.Errorf("signature over annex verified without it: %v", err)
	}

	spend.Inputs[0].Witness = tx.Witness{sig, {tx.AnnexTag, 0x09}}
	if err := verifyInput(spend, prevOuts, MandatoryFlags); !IsErrorCode(err, ErrSchnorrSig) {
		t.Errorf("different annex accepted: %v", err)
	}
}

type scriptPathFixture struct {
	internal *crypto.PrivateKey
	leafKey  *crypto.PrivateKey
	tree     *TapTree
	pkScript []byte
}

func newScriptPathFixture(t *testing.T) *scriptPathFixture {
	t.Helper()
	f := &scriptPathFixture{internal: mustKey(t), leafKey: mustKey(t)}
	checksig := NewTapLeaf(mustScript(t, NewScriptBuilder().AddData(f.leafKey.XOnlyPublicKey()).AddOp(OP_CHECKSIG)))
	anyone := NewTapLeaf([]byte{OP_TRUE})
	hashlock := NewTapLeaf(mustScript(t, NewScriptBuilder().AddOp(OP_SHA256).AddData(make([]byte, 32)).AddOp(OP_EQUAL)))
	f.tree = NewTapTree(checksig, anyone, hashlock)

	var err error
	f.pkScript, err = f.tree.OutputScript(f.internal.XOnlyPublicKey())
	if err != nil {
		t.Fatalf("OutputScript: %v", err)
	}
	return f
}

func (f *scriptPathFixture) control(t *testing.T, idx int) []byte {
	t.Helper()
	cb, err := f.tree.ControlBlock(f.internal.XOnlyPublicKey(), idx)
	if err != nil {
		t.Fatalf("ControlBlock: %v", err)
	}
	return cb
}

func TestTaprootScriptPath(t *testing.T) {
	f := newScriptPathFixture(t)
	spend, prevOuts := spendOf(f.pkScript)
	leaf := f.tree.Leaves[0]

	sig, err := RawTxInTapscriptSignature(spend, 0, prevOuts, leaf, nil, SigHashDefault, f.leafKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	control := f.control(t, 0)
	spend.Inputs[0].Witness = tx.Witness{sig, leaf.Script, control}
	if err := verifyInput(spend, prevOuts, StandardFlags); err != nil {
		t.Fatalf("valid script path spend rejected: %v", err)
	}

	// Witness helpers agree with the interpreter's view.
	w := spend.Inputs[0].Witness
	if w.SpendType() != tx.SpendTypeScript {
		t.Errorf("SpendType = %d, want script", w.SpendType())
	}
	if string(w.Tapleaf()) != string(leaf.Script) {
		t.Errorf("Tapleaf = %x, want %x", w.Tapleaf(), leaf.Script)
	}

	// The same signature does not verify against the other leaf.
	other := f.tree.Leaves[1]
	h1, err := SignatureHash(spend, 0, nil, 0, SigHashDefault, SigVersionTapscript, prevOuts, NoCodeSeparator)
	if err != nil {
		t.Fatalf("SignatureHash: %v", err)
	}
	spend.Inputs[0].Witness = tx.Witness{sig, other.Script, f.control(t, 1)}
	h2, err := SignatureHash(spend, 0, nil, 0, SigHashDefault, SigVersionTapscript, prevOuts, NoCodeSeparator)
	if err != nil {
		t.Fatalf("SignatureHash: %v", err)
	}
	if h1 == h2 {
		t.Error("tapscript digest does not commit to the leaf")
	}

	// Anyone-can-spend leaf.
	spend.Inputs[0].Witness = tx.Witness{other.Script, f.control(t, 1)}
	if err := verifyInput(spend, prevOuts, StandardFlags); err != nil {
		t.Fatalf("OP_TRUE leaf rejected: %v", err)
	}

	// Key path still works with the tree's root.
	keySig, err := RawTxInTaprootSignature(spend, 0, prevOuts, f.tree.RootHash(), nil, SigHashDefault, f.internal)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	spend.Inputs[0].Witness = tx.Witness{keySig}
	if err := verifyInput(spend, prevOuts, StandardFlags); err != nil {
		t.Fatalf("key path spend of tree output rejected: %v", err)
	}
}

func TestTaprootScriptPath_ControlBlockMutations(t *testing.T) {
	f := newScriptPathFixture(t)
	spend, prevOuts := spendOf(f.pkScript)
	leaf := f.tree.Leaves[1]
	control := f.control(t, 1)

	mutate := func(fn func([]byte) []byte) []byte {
		return fn(append([]byte(nil), control...))
	}
	tests := []struct {
		name    string
		control []byte
		script  []byte
		code    ErrorCode
	}{
		{"flip path bit", mutate(func(b []byte) []byte { b[40] ^= 0x01; return b }), leaf.Script, ErrTaprootCommitment},
		{"flip internal key bit", mutate(func(b []byte) []byte { b[5] ^= 0x01; return b }), leaf.Script, ErrTaprootCommitment},
		{"flip parity", mutate(func(b []byte) []byte { b[0] ^= 0x01; return b }), leaf.Script, ErrTaprootCommitment},
		{"truncated", mutate(func(b []byte) []byte { return b[:40] }), leaf.Script, ErrTaprootWrongControlSize},
		{"drop path node", mutate(func(b []byte) []byte { return b[:len(b)-32] }), leaf.Script, ErrTaprootCommitment},
		{"wrong script", control, []byte{OP_2}, ErrTaprootCommitment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tx.Witness{tt.script, tt.control}
			err := VerifyTaprootCommitment(w, f.pkScript)
			if !IsErrorCode(err, tt.code) {
				t.Fatalf("VerifyTaprootCommitment: got %v, want %v", err, tt.code)
			}
			spend.Inputs[0].Witness = w
			if err := verifyInput(spend, prevOuts, MandatoryFlags); !IsErrorCode(err, tt.code) {
				t.Fatalf("VerifyScript: got %v, want %v", err, tt.code)
			}
		})
	}
}

func TestVerifyTaprootCommitment(t *testing.T) {
	f := newScriptPathFixture(t)

	for i, leaf := range f.tree.Leaves {
		if err := VerifyTaprootCommitment(tx.Witness{leaf.Script, f.control(t, i)}, f.pkScript); err != nil {
			t.Errorf("leaf %d: %v", i, err)
		}
	}

	withAnnex := tx.Witness{f.tree.Leaves[0].Script, f.control(t, 0), {tx.AnnexTag}}
	if err := VerifyTaprootCommitment(withAnnex, f.pkScript); err != nil {
		t.Errorf("annex should be ignored: %v", err)
	}

	err := VerifyTaprootCommitment(tx.Witness{f.control(t, 0)}, f.pkScript)
	if !IsErrorCode(err, ErrTaprootWrongControlSize) || ruleerr.KindOf(err) != ruleerr.Structural {
		t.Errorf("single item: got %v (%s)", err, ruleerr.KindOf(err))
	}

	bad := f.control(t, 0)
	bad[len(bad)-1] ^= 0x80
	err = VerifyTaprootCommitment(tx.Witness{f.tree.Leaves[0].Script, bad}, f.pkScript)
	if !IsErrorCode(err, ErrTaprootCommitment) || ruleerr.KindOf(err) != ruleerr.ConsensusRule {
		t.Errorf("bad path: got %v (%s)", err, ruleerr.KindOf(err))
	}

	p2wsh := PayToWitnessScriptHashScript(make([]byte, 32))
	if err := VerifyTaprootCommitment(tx.Witness{{OP_1}, f.control(t, 0)}, p2wsh); err == nil {
		t.Error("non-taproot output accepted")
	}
}

func TestTaprootScriptPath_Upgradable(t *testing.T) {
	internal := mustKey(t)

	t.Run("unknown leaf version", func(t *testing.T) {
		tree := NewTapTree(TapLeaf{Version: 0xc2, Script: []byte{OP_RETURN}})
		pkScript, err := tree.OutputScript(internal.XOnlyPublicKey())
		if err != nil {
			t.Fatalf("OutputScript: %v", err)
		}
		cb, err := tree.ControlBlock(internal.XOnlyPublicKey(), 0)
		if err != nil {
			t.Fatalf("ControlBlock: %v", err)
		}
		spend, prevOuts := spendOf(pkScript)
		spend.Inputs[0].Witness = tx.Witness{tree.Leaves[0].Script, cb}
		if err := verifyInput(spend, prevOuts, MandatoryFlags); err != nil {
			t.Errorf("unknown leaf version should succeed: %v", err)
		}
		if err := verifyInput(spend, prevOuts, StandardFlags); !IsErrorCode(err, ErrDiscourageUpgradableTaprootVersion) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("op success", func(t *testing.T) {
		tree := NewTapTree(NewTapLeaf([]byte{OP_RETURN, OP_RESERVED}))
		pkScript, err := tree.OutputScript(internal.XOnlyPublicKey())
		if err != nil {
			t.Fatalf("OutputScript: %v", err)
		}
		cb, err := tree.ControlBlock(internal.XOnlyPublicKey(), 0)
		if err != nil {
			t.Fatalf("ControlBlock: %v", err)
		}
		spend, prevOuts := spendOf(pkScript)
		spend.Inputs[0].Witness = tx.Witness{tree.Leaves[0].Script, cb}
		if err := verifyInput(spend, prevOuts, MandatoryFlags); err != nil {
			t.Errorf("OP_SUCCESS leaf should succeed: %v", err)
		}
		if err := verifyInput(spend, prevOuts, StandardFlags); !IsErrorCode(err, ErrDiscourageOpSuccess) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("inactive before taproot", func(t *testing.T) {
		pkScript, err := PayToTaprootScript(internal.XOnlyPublicKey(), nil)
		if err != nil {
			t.Fatalf("PayToTaprootScript: %v", err)
		}
		spend, prevOuts := spendOf(pkScript)
		spend.Inputs[0].Witness = tx.Witness{make([]byte, 64)}
		if err := verifyInput(spend, prevOuts, MandatoryFlags&^VerifyTaproot); err != nil {
			t.Errorf("v1 program without VerifyTaproot: %v", err)
		}
	})
}

func TestTapTree_Paths(t *testing.T) {
	internal := mustKey(t)
	var leaves []TapLeaf
	for i := 0; i < 5; i++ {
		leaves = append(leaves, NewTapLeaf([]byte{byte(OP_1 + i)}))
	}
	tree := NewTapTree(leaves...)
	pkScript, err := tree.OutputScript(internal.XOnlyPublicKey())
	if err != nil {
		t.Fatalf("OutputScript: %v", err)
	}
	for i, leaf := range leaves {
		cb, err := tree.ControlBlock(internal.XOnlyPublicKey(), i)
		if err != nil {
			t.Fatalf("ControlBlock(%d): %v", i, err)
		}
		if !tx.IsControlBlock(cb) {
			t.Fatalf("leaf %d control block has invalid size %d", i, len(cb))
		}
		if err := VerifyTaprootCommitment(tx.Witness{leaf.Script, cb}, pkScript); err != nil {
			t.Errorf("leaf %d: %v", i, err)
		}
	}
}
