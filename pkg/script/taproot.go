package script

import (
	"bytes"

	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Leaf versions.
const (
	// TaprootLeafMask selects the leaf version bits of the control byte.
	TaprootLeafMask = 0xfe

	// TapscriptLeafVersion is the BIP342 leaf version.
	TapscriptLeafVersion = 0xc0
)

// TapLeafHash returns the TapLeaf tagged hash of version || varbytes(script).
func TapLeafHash(leafVersion byte, script []byte) types.Hash {
	buf := make([]byte, 0, 1+tx.VarIntSize(uint64(len(script)))+len(script))
	buf = append(buf, leafVersion)
	buf = tx.AppendVarBytes(buf, script)
	return crypto.TaggedHash(crypto.TagTapLeaf, buf)
}

// TapBranchHash returns the TapBranch tagged hash of the two children in
// lexicographic order.
func TapBranchHash(a, b []byte) types.Hash {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return crypto.TaggedHash(crypto.TagTapBranch, a, b)
}

// merkleRootFromPath folds the 32-byte path nodes into leaf.
func merkleRootFromPath(leaf types.Hash, path []byte) types.Hash {
	k := leaf
	for i := 0; i+tx.ControlNodeSize <= len(path); i += tx.ControlNodeSize {
		k = TapBranchHash(k[:], path[i:i+tx.ControlNodeSize])
	}
	return k
}

// verifyCommitment checks that the internal key and path in control, with
// the leaf hash, tweak to the output key program.
func verifyCommitment(control, program []byte, leafHash types.Hash) error {
	internalKey := control[1:tx.ControlBaseSize]
	root := merkleRootFromPath(leafHash, control[tx.ControlBaseSize:])
	outputKey, parity, err := crypto.TweakPublicKey(internalKey, root[:])
	if err != nil {
		return scriptErrorf(ErrTaprootCommitment, "taproot commitment: %v", err)
	}
	if !bytes.Equal(outputKey[:], program) {
		return scriptError(ErrTaprootCommitment, "control block does not commit to the output key")
	}
	if parity != control[0]&1 {
		return scriptError(ErrTaprootCommitment, "control block output key parity mismatch")
	}
	return nil
}

// VerifyTaprootCommitment checks that a script-path witness reveals a leaf
// committed to by the witness v1 output pkScript. It returns an error
// with ErrTaprootWrongControlSize when the control block is malformed and
// ErrTaprootCommitment on a mismatch.
func VerifyTaprootCommitment(witness tx.Witness, pkScript []byte) error {
	version, program, ok := ExtractWitnessProgram(pkScript)
	if !ok || version != 1 || len(program) != crypto.XOnlyPubKeySize {
		return scriptError(ErrWitnessProgramWrongLength, "output is not a taproot program")
	}
	stack := witness.Stack()
	if len(stack) < 2 {
		return scriptErrorf(ErrTaprootWrongControlSize,
			"script-path spend needs a leaf and control block, have %d items", len(stack))
	}
	control := stack[len(stack)-1]
	if !tx.IsControlBlock(control) {
		return scriptErrorf(ErrTaprootWrongControlSize, "invalid control block size %d", len(control))
	}
	leafHash := TapLeafHash(control[0]&TaprootLeafMask, stack[len(stack)-2])
	return verifyCommitment(control, program, leafHash)
}

// TapLeaf is a script with its leaf version.
type TapLeaf struct {
	Version byte
	Script  []byte
}

// NewTapLeaf returns a tapscript leaf.
func NewTapLeaf(script []byte) TapLeaf {
	return TapLeaf{Version: TapscriptLeafVersion, Script: script}
}

// Hash returns the leaf's TapLeaf hash.
func (l TapLeaf) Hash() types.Hash {
	return TapLeafHash(l.Version, l.Script)
}

// TapTree is a balanced binary tree of leaves. Leaves are paired left to
// right at each level and an odd node is carried up unchanged.
type TapTree struct {
	Leaves []TapLeaf

	root  types.Hash
	paths [][]byte
}

// NewTapTree builds the tree and the inclusion path of every leaf.
func NewTapTree(leaves ...TapLeaf) *TapTree {
	t := &TapTree{Leaves: leaves, paths: make([][]byte, len(leaves))}
	if len(leaves) == 0 {
		return t
	}
	type node struct {
		hash    types.Hash
		members []int
	}
	level := make([]node, len(leaves))
	for i, l := range leaves {
		level[i] = node{hash: l.Hash(), members: []int{i}}
	}
	for len(level) > 1 {
		var next []node
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			a, b := level[i], level[i+1]
			for _, m := range a.members {
				t.paths[m] = append(t.paths[m], b.hash[:]...)
			}
			for _, m := range b.members {
				t.paths[m] = append(t.paths[m], a.hash[:]...)
			}
			next = append(next, node{
				hash:    TapBranchHash(a.hash[:], b.hash[:]),
				members: append(append([]int(nil), a.members...), b.members...),
			})
		}
		level = next
	}
	t.root = level[0].hash
	return t
}

// RootHash returns the merkle root, or nil for an empty tree.
func (t *TapTree) RootHash() []byte {
	if len(t.Leaves) == 0 {
		return nil
	}
	return t.root[:]
}

// ControlBlock returns the control block revealing leaf idx for a tree
// committed under internalKey.
func (t *TapTree) ControlBlock(internalKey []byte, idx int) ([]byte, error) {
	_, parity, err := crypto.TweakPublicKey(internalKey, t.RootHash())
	if err != nil {
		return nil, err
	}
	cb := make([]byte, 0, tx.ControlBaseSize+len(t.paths[idx]))
	cb = append(cb, t.Leaves[idx].Version|parity)
	cb = append(cb, internalKey...)
	return append(cb, t.paths[idx]...), nil
}

// OutputScript returns the witness v1 output committing to the tree under
// internalKey.
func (t *TapTree) OutputScript(internalKey []byte) ([]byte, error) {
	return PayToTaprootScript(internalKey, t.RootHash())
}

// PayToTaprootScript returns OP_1 <Q> where Q tweaks internalKey with
// merkleRoot (nil for key-path only).
func PayToTaprootScript(internalKey, merkleRoot []byte) ([]byte, error) {
	q, _, err := crypto.TweakPublicKey(internalKey, merkleRoot)
	if err != nil {
		return nil, err
	}
	return append([]byte{OP_1, OP_DATA_32}, q[:]...), nil
}
