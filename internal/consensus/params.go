package consensus

import (
	"math/big"
	"time"

	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Params holds the per-network consensus constants.
type Params struct {
	Name    string
	Genesis *block.Block

	// PowLimit is the easiest allowed target. PowLimitBits is its compact
	// form.
	PowLimit     *big.Int
	PowLimitBits uint32

	// Retargeting happens every TargetTimespan / TargetSpacing blocks.
	TargetTimespan  time.Duration
	TargetSpacing   time.Duration
	NoRetargeting   bool
	MaxTimeOffset   time.Duration
	MedianTimeSpan  int
	CoinbaseMatures uint32

	SubsidyHalvingInterval uint32

	// Activation heights. A deployment is active for blocks at or above
	// its height.
	BIP16Height   uint32
	BIP34Height   uint32
	BIP65Height   uint32
	BIP66Height   uint32
	CSVHeight     uint32
	SegwitHeight  uint32
	TaprootHeight uint32
}

// RetargetInterval returns the number of blocks between difficulty
// adjustments.
func (p *Params) RetargetInterval() uint32 {
	return uint32(p.TargetTimespan / p.TargetSpacing)
}

// Flags returns the consensus script flags for a block at height. The
// value is computed once per block and never changes during validation.
func (p *Params) Flags(height uint32) script.VerifyFlags {
	var f script.VerifyFlags
	if height >= p.BIP16Height {
		f |= script.VerifyP2SH
	}
	if height >= p.BIP66Height {
		f |= script.VerifyDERSig
	}
	if height >= p.BIP65Height {
		f |= script.VerifyCheckLockTimeVerify
	}
	if height >= p.CSVHeight {
		f |= script.VerifyCheckSequenceVerify
	}
	if height >= p.SegwitHeight {
		f |= script.VerifyWitness | script.VerifyNullDummy
	}
	if height >= p.TaprootHeight {
		f |= script.VerifyTaproot
	}
	return f
}

// WitnessActive reports whether segwit rules apply at height.
func (p *Params) WitnessActive(height uint32) bool {
	return height >= p.SegwitHeight
}

// CSVActive reports whether BIP68/112/113 apply at height.
func (p *Params) CSVActive(height uint32) bool {
	return height >= p.CSVHeight
}

// genesisCoinbase is the coinbase shared by mainnet and regtest genesis
// blocks.
func genesisCoinbase() *tx.Transaction {
	msg := []byte("The Times 03/Jan/2009 Chancellor on brink of second bailout for banks")
	sig := append([]byte{0x04, 0xff, 0xff, 0x00, 0x1d, 0x01, 0x04, byte(len(msg))}, msg...)
	pk := mustHex("4104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac")
	return &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut:  types.Outpoint{Index: types.NullIndex},
			Script:   sig,
			Sequence: tx.SequenceFinal,
		}},
		Outputs: []tx.Output{{Value: 50 * tx.CoinValue, Script: pk}},
	}
}

func genesisBlock(timestamp, bits, nonce uint32) *block.Block {
	cb := genesisCoinbase()
	return block.NewBlock(&block.Header{
		Version:    1,
		MerkleRoot: cb.Hash(),
		Timestamp:  timestamp,
		Bits:       bits,
		Nonce:      nonce,
	}, []*tx.Transaction{cb})
}

// MainNetParams returns the main network parameters.
func MainNetParams() *Params {
	return &Params{
		Name:                   "mainnet",
		Genesis:                genesisBlock(1231006505, 0x1d00ffff, 2083236893),
		PowLimit:               CompactToBig(0x1d00ffff),
		PowLimitBits:           0x1d00ffff,
		TargetTimespan:         14 * 24 * time.Hour,
		TargetSpacing:          10 * time.Minute,
		MaxTimeOffset:          2 * time.Hour,
		MedianTimeSpan:         11,
		CoinbaseMatures:        100,
		SubsidyHalvingInterval: 210000,
		BIP16Height:            173805,
		BIP34Height:            227931,
		BIP65Height:            388381,
		BIP66Height:            363725,
		CSVHeight:              419328,
		SegwitHeight:           481824,
		TaprootHeight:          709632,
	}
}

// RegTestParams returns the regression test network parameters. Every
// deployment is active from height 1 and difficulty never changes.
func RegTestParams() *Params {
	return &Params{
		Name:                   "regtest",
		Genesis:                genesisBlock(1296688602, 0x207fffff, 2),
		PowLimit:               CompactToBig(0x207fffff),
		PowLimitBits:           0x207fffff,
		TargetTimespan:         14 * 24 * time.Hour,
		TargetSpacing:          10 * time.Minute,
		NoRetargeting:          true,
		MaxTimeOffset:          2 * time.Hour,
		MedianTimeSpan:         11,
		CoinbaseMatures:        100,
		SubsidyHalvingInterval: 150,
		BIP16Height:            0,
		BIP34Height:            1,
		BIP65Height:            1,
		BIP66Height:            1,
		CSVHeight:              1,
		SegwitHeight:           0,
		TaprootHeight:          0,
	}
}

// ParamsForNetwork returns the parameters for a network name.
func ParamsForNetwork(name string) (*Params, bool) {
	switch name {
	case "mainnet", "main":
		return MainNetParams(), true
	case "regtest":
		return RegTestParams(), true
	}
	return nil, false
}
