package script

import (
	"fmt"

	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// RawTxInSignature signs input idx of a legacy spend of subScript and
// returns the DER signature with the hash type appended.
func RawTxInSignature(t *tx.Transaction, idx int, subScript []byte, hashType SigHashType,
	key *crypto.PrivateKey) ([]byte, error) {

	hash, err := SignatureHash(t, idx, subScript, 0, hashType, SigVersionBase, nil, NoCodeSeparator)
	if err != nil {
		return nil, err
	}
	return signECDSA(hash, hashType, key)
}

// RawTxInWitnessSignature signs input idx of a segwit v0 spend.
func RawTxInWitnessSignature(t *tx.Transaction, hashes *SigHashes, idx int, amount int64,
	subScript []byte, hashType SigHashType, key *crypto.PrivateKey) ([]byte, error) {

	if hashes == nil {
		hashes = NewSigHashes(t, nil)
	}
	hash := calcWitnessV0SigHash(t, idx, subScript, amount, hashType, hashes)
	return signECDSA(hash, hashType, key)
}

func signECDSA(hash types.Hash, hashType SigHashType, key *crypto.PrivateKey) ([]byte, error) {
	sig, err := key.SignECDSA(hash[:])
	if err != nil {
		return nil, err
	}
	return append(sig, byte(hashType)), nil
}

// RawTxInTaprootSignature produces a key-path signature for input idx.
// key is the internal key, tweaked here with merkleRoot. annex is the
// annex the witness will carry, or nil.
func RawTxInTaprootSignature(t *tx.Transaction, idx int, prevOuts []tx.Output, merkleRoot, annex []byte,
	hashType SigHashType, key *crypto.PrivateKey) ([]byte, error) {

	tweaked, err := key.TaprootTweak(merkleRoot)
	if err != nil {
		return nil, err
	}
	exec := &execData{annex: annex, codeSepPos: NoCodeSeparator}
	return signSchnorr(t, idx, prevOuts, hashType, exec, tweaked)
}

// RawTxInTapscriptSignature produces a script-path signature for input idx
// over the given leaf. key signs untweaked.
func RawTxInTapscriptSignature(t *tx.Transaction, idx int, prevOuts []tx.Output, leaf TapLeaf, annex []byte,
	hashType SigHashType, key *crypto.PrivateKey) ([]byte, error) {

	exec := &execData{
		annex:       annex,
		scriptPath:  true,
		tapleafHash: leaf.Hash(),
		codeSepPos:  NoCodeSeparator,
	}
	return signSchnorr(t, idx, prevOuts, hashType, exec, key)
}

func signSchnorr(t *tx.Transaction, idx int, prevOuts []tx.Output, hashType SigHashType,
	exec *execData, key *crypto.PrivateKey) ([]byte, error) {

	if idx < 0 || idx >= len(t.Inputs) {
		return nil, fmt.Errorf("input index %d out of range", idx)
	}
	hash, err := calcTaprootSigHash(t, idx, hashType, NewSigHashes(t, prevOuts), prevOuts, exec)
	if err != nil {
		return nil, err
	}
	sig, err := key.SignSchnorr(hash[:])
	if err != nil {
		return nil, err
	}
	if hashType != SigHashDefault {
		sig = append(sig, byte(hashType))
	}
	return sig, nil
}
