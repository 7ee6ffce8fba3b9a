package consensus

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Contextual block errors.
var (
	ErrPrevBlockMismatch = errors.New("previous block hash does not match")
	ErrTimeTooOld        = errors.New("block time not after median time past")
	ErrTimeTooNew        = errors.New("block time too far in the future")
	ErrBadCoinbaseValue  = errors.New("coinbase pays more than subsidy plus fees")
	ErrBadCoinbaseHeight = errors.New("coinbase does not commit to block height")
	ErrDuplicateCoin     = errors.New("transaction overwrites unspent outputs")
)

// HeaderContext is the chain position a header extends.
type HeaderContext struct {
	// Height of the new block.
	Height         uint32
	PrevHash       types.Hash
	MedianTimePast int64
	ExpectedBits   uint32
	Now            time.Time
}

// CheckHeaderContext validates a header against its parent: linkage,
// bits, proof of work and the timestamp window.
func CheckHeaderContext(h *block.Header, hc *HeaderContext, p *Params) error {
	if h == nil {
		return ruleerr.Wrap(ruleerr.Structural, block.ErrNilHeader)
	}
	if h.PrevHash != hc.PrevHash {
		return ruleerr.Errorf(ruleerr.ConsensusRule, "%w: have %s, tip %s",
			ErrPrevBlockMismatch, h.PrevHash, hc.PrevHash)
	}
	if h.Bits != hc.ExpectedBits {
		return ruleerr.Errorf(ruleerr.ConsensusRule, "%w: height %d has bits %08x, want %08x",
			ErrBadDifficulty, hc.Height, h.Bits, hc.ExpectedBits)
	}
	if err := CheckProofOfWork(h.Hash(), h.Bits, p.PowLimit); err != nil {
		return err
	}
	if int64(h.Timestamp) <= hc.MedianTimePast {
		return ruleerr.Errorf(ruleerr.ConsensusRule, "%w: %d <= %d",
			ErrTimeTooOld, h.Timestamp, hc.MedianTimePast)
	}
	if !hc.Now.IsZero() {
		limit := hc.Now.Add(p.MaxTimeOffset).Unix()
		if int64(h.Timestamp) > limit {
			return ruleerr.Errorf(ruleerr.ConsensusRule, "%w: %d > %d",
				ErrTimeTooNew, h.Timestamp, limit)
		}
	}
	return nil
}

// MedianTime returns the median of timestamps. It sorts a copy.
func MedianTime(timestamps []int64) int64 {
	if len(timestamps) == 0 {
		return 0
	}
	ts := slices.Clone(timestamps)
	slices.Sort(ts)
	return ts[len(ts)/2]
}

// BlockContext is the chain state a block's transactions are connected
// against.
type BlockContext struct {
	Height uint32
	// MedianTimePast of the parent block.
	MedianTimePast int64
	// MedianTimeAt returns the median time past of the block at a height
	// on the same branch. It is needed for time-based sequence locks.
	MedianTimeAt func(height uint32) int64
}

// ConnectResult summarises a connected block.
type ConnectResult struct {
	Fees       int64
	SigOpCost  int
	ScriptJobs int
}

// ConnectTransactions applies the transactions of blk to view in order and
// validates them. Spends and creations are serial so later transactions can
// spend earlier outputs; script checks run afterwards on v's worker pool.
// On error the caller must discard view.
func ConnectTransactions(ctx context.Context, blk *block.Block, bc *BlockContext, view *utxo.View,
	p *Params, v *Verifier) (*ConnectResult, error) {
	height := bc.Height
	flags := p.Flags(height)
	csv := p.CSVActive(height)

	if !p.WitnessActive(height) {
		for i, t := range blk.Transactions {
			if t.HasWitness() {
				return nil, ruleerr.Errorf(ruleerr.ConsensusRule, "tx %d: %w", i, block.ErrUnexpectedWitness)
			}
		}
	} else if err := blk.CheckWitnessCommitment(); err != nil {
		return nil, err
	}

	if height >= p.BIP34Height {
		if err := checkCoinbaseHeight(blk.Transactions[0], height); err != nil {
			return nil, err
		}
	}

	lockTimeCutoff := int64(blk.Header.Timestamp)
	if csv {
		lockTimeCutoff = bc.MedianTimePast
	}

	res := &ConnectResult{SigOpCost: blk.LegacySigOpCost()}
	var jobs []ScriptJob
	for i, t := range blk.Transactions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !t.IsFinal(height, lockTimeCutoff) {
			return nil, ruleerr.Errorf(ruleerr.ConsensusRule, "tx %d: %w", i, ErrNonFinal)
		}

		if !t.IsCoinbase() {
			coins, err := ResolveInputs(t, view)
			if err != nil {
				return nil, prefixTx(i, err)
			}
			fee, err := CheckTxInputs(t, coins, height, p.CoinbaseMatures)
			if err != nil {
				return nil, prefixTx(i, err)
			}
			res.Fees += fee
			if csv {
				if err := checkSequenceLocks(t, coins, bc); err != nil {
					return nil, prefixTx(i, err)
				}
			}
			res.SigOpCost += txSigOpCost(t, coins, flags)
			if res.SigOpCost > block.MaxBlockSigOpsCost {
				return nil, ruleerr.Errorf(ruleerr.ResourceLimit, "tx %d: %w: %d",
					i, block.ErrTooManySigOps, res.SigOpCost)
			}
			jobs = append(jobs, scriptJobs(i, t, coins)...)
			for j := range t.Inputs {
				if _, err := view.Spend(t.Inputs[j].PrevOut); err != nil {
					return nil, prefixTx(i, err)
				}
			}
		}

		if err := view.AddTx(t, height); err != nil {
			if errors.Is(err, utxo.ErrCoinExists) {
				return nil, ruleerr.Errorf(ruleerr.ConsensusRule, "tx %d: %w: %w", i, ErrDuplicateCoin, err)
			}
			return nil, prefixTx(i, err)
		}
	}

	cbOut, err := blk.Transactions[0].TotalOutputValue()
	if err != nil {
		return nil, ruleerr.Wrap(ruleerr.ConsensusRule, err)
	}
	if limit := CalcBlockSubsidy(height, p) + res.Fees; cbOut > limit {
		return nil, ruleerr.Errorf(ruleerr.ConsensusRule, "%w: %d > %d", ErrBadCoinbaseValue, cbOut, limit)
	}

	res.ScriptJobs = len(jobs)
	if err := v.Run(ctx, jobs, flags); err != nil {
		return nil, err
	}
	return res, nil
}

func prefixTx(i int, err error) error {
	kind := ruleerr.KindOf(err)
	if kind == ruleerr.Unknown {
		return err
	}
	return ruleerr.Errorf(kind, "tx %d: %w", i, err)
}

// txSigOpCost returns the P2SH and witness sigop cost of t. The legacy part
// is counted by block.LegacySigOpCost.
func txSigOpCost(t *tx.Transaction, coins []*utxo.Coin, flags script.VerifyFlags) int {
	var n int
	for i := range t.Inputs {
		in := &t.Inputs[i]
		pk := coins[i].Script
		if flags.Has(script.VerifyP2SH) {
			n += script.CountP2SHSigOps(in.Script, pk) * tx.WitnessScaleFactor
		}
		if flags.Has(script.VerifyWitness) {
			n += script.CountWitnessSigOps(in.Script, pk, in.Witness)
		}
	}
	return n
}

// checkCoinbaseHeight requires the coinbase script to start with the
// minimal push of height (BIP34).
func checkCoinbaseHeight(cb *tx.Transaction, height uint32) error {
	want, err := script.NewScriptBuilder().AddInt64(int64(height)).Script()
	if err != nil {
		return ruleerr.Wrap(ruleerr.Structural, err)
	}
	if !bytes.HasPrefix(cb.Inputs[0].Script, want) {
		return ruleerr.Errorf(ruleerr.ConsensusRule, "%w: height %d", ErrBadCoinbaseHeight, height)
	}
	return nil
}

// CoinbaseHeightScript returns a coinbase script committing to height
// followed by extra.
func CoinbaseHeightScript(height uint32, extra []byte) []byte {
	s, _ := script.NewScriptBuilder().AddInt64(int64(height)).AddData(extra).Script()
	return s
}

// checkSequenceLocks enforces BIP68 relative lock times for version 2
// transactions.
func checkSequenceLocks(t *tx.Transaction, coins []*utxo.Coin, bc *BlockContext) error {
	if t.Version < 2 {
		return nil
	}
	for i := range t.Inputs {
		seq := t.Inputs[i].Sequence
		if seq&tx.SequenceLockTimeDisabled != 0 {
			continue
		}
		coinHeight := coins[i].Height
		value := seq & tx.SequenceLockTimeMask
		if seq&tx.SequenceLockTimeIsSeconds != 0 {
			if bc.MedianTimeAt == nil {
				continue
			}
			// Time locks count from the median time of the block before
			// the coin was mined, in units of 512 seconds.
			var base int64
			if coinHeight > 0 {
				base = bc.MedianTimeAt(coinHeight - 1)
			}
			minTime := base + int64(value)<<9 - 1
			if minTime >= bc.MedianTimePast {
				return ruleerr.Errorf(ruleerr.ConsensusRule, "input %d: %w: time %d", i, ErrSequenceLockTime, minTime)
			}
			continue
		}
		minHeight := int64(coinHeight) + int64(value) - 1
		if minHeight >= int64(bc.Height) {
			return ruleerr.Errorf(ruleerr.ConsensusRule, "input %d: %w: height %d", i, ErrSequenceLockTime, minHeight)
		}
	}
	return nil
}
