package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/script"
	"github.com/Klingon-tech/tapnode/pkg/tx"
)

// Transaction validation errors.
var (
	ErrMissingCoin      = errors.New("input spends missing or spent coin")
	ErrInputRange       = errors.New("input value out of range")
	ErrNegativeFee      = errors.New("outputs exceed inputs")
	ErrImmatureCoinbase = errors.New("spend of immature coinbase")
	ErrVerifyCoinbase   = errors.New("coinbase has no inputs to verify")
	ErrScriptFailed     = errors.New("input script verification failed")
	ErrSequenceLockTime = errors.New("relative lock time not satisfied")
	ErrNonFinal         = errors.New("transaction is not final")
)

// ResolveInputs looks up the coin spent by every input of t. A coin that
// is absent or already spent in view is a consensus failure; store errors
// are returned unclassified.
func ResolveInputs(t *tx.Transaction, view utxo.Source) ([]*utxo.Coin, error) {
	coins := make([]*utxo.Coin, len(t.Inputs))
	for i := range t.Inputs {
		op := t.Inputs[i].PrevOut
		c, err := view.Get(op)
		if errors.Is(err, utxo.ErrNotFound) || (err == nil && c == nil) {
			return nil, ruleerr.Errorf(ruleerr.ConsensusRule, "input %d: %w: %s", i, ErrMissingCoin, op)
		}
		if err != nil {
			return nil, fmt.Errorf("input %d: lookup %s: %w", i, op, err)
		}
		coins[i] = c
	}
	return coins, nil
}

// CheckTxInputs checks the value flow of a non-coinbase transaction and
// returns its fee. When height is non-zero coinbase maturity is enforced
// against it.
func CheckTxInputs(t *tx.Transaction, coins []*utxo.Coin, height, maturity uint32) (int64, error) {
	var in int64
	for i, c := range coins {
		if height > 0 && !c.IsMature(height, maturity) {
			return 0, ruleerr.Errorf(ruleerr.ConsensusRule,
				"input %d: %w: created at %d, spent at %d", i, ErrImmatureCoinbase, c.Height, height)
		}
		if c.Value < 0 || c.Value > tx.MaxMoney {
			return 0, ruleerr.Errorf(ruleerr.ConsensusRule, "input %d: %w", i, ErrInputRange)
		}
		in += c.Value
		if in > tx.MaxMoney {
			return 0, ruleerr.Errorf(ruleerr.ConsensusRule, "input %d: %w: sum", i, ErrInputRange)
		}
	}
	out, err := t.TotalOutputValue()
	if err != nil {
		return 0, ruleerr.Wrap(ruleerr.ConsensusRule, err)
	}
	if in < out {
		return 0, ruleerr.Errorf(ruleerr.ConsensusRule, "%w: in %d, out %d", ErrNegativeFee, in, out)
	}
	return in - out, nil
}

// prevOutputs returns the spent outputs in input order, as committed to by
// taproot signatures.
func prevOutputs(coins []*utxo.Coin) []tx.Output {
	outs := make([]tx.Output, len(coins))
	for i, c := range coins {
		outs[i] = c.Output()
	}
	return outs
}

// ScriptJob is one input script check. Jobs share the transaction and its
// midstates read-only.
type ScriptJob struct {
	TxIndex  int
	Ctx      script.TxContext
	PkScript []byte
}

// scriptJobs builds one job per input of t. The SigHashes are computed up
// front so workers never write to shared state.
func scriptJobs(txIndex int, t *tx.Transaction, coins []*utxo.Coin) []ScriptJob {
	prevOuts := prevOutputs(coins)
	hashes := script.NewSigHashes(t, prevOuts)
	jobs := make([]ScriptJob, len(t.Inputs))
	for i := range t.Inputs {
		jobs[i] = ScriptJob{
			TxIndex: txIndex,
			Ctx: script.TxContext{
				Tx:       t,
				Index:    i,
				Amount:   coins[i].Value,
				PrevOuts: prevOuts,
				Hashes:   hashes,
			},
			PkScript: coins[i].Script,
		}
	}
	return jobs
}

// Run verifies the input script under flags.
func (j *ScriptJob) Run(flags script.VerifyFlags) error {
	in := &j.Ctx.Tx.Inputs[j.Ctx.Index]
	ctx := j.Ctx
	if err := script.VerifyScript(in.Script, j.PkScript, in.Witness, flags, &ctx); err != nil {
		return fmt.Errorf("input %d: %w: %w", j.Ctx.Index, ErrScriptFailed, err)
	}
	return nil
}

// Verify checks that every input of t is authorised under flags and that
// its value flow is sound. Coins are resolved from view, which is only
// read. Coinbase maturity is left to block connection.
func Verify(ctx context.Context, t *tx.Transaction, view utxo.Source, flags script.VerifyFlags) error {
	if t.IsCoinbase() {
		return ruleerr.Wrap(ruleerr.ConsensusRule, ErrVerifyCoinbase)
	}
	coins, err := ResolveInputs(t, view)
	if err != nil {
		return err
	}
	if _, err := CheckTxInputs(t, coins, 0, 0); err != nil {
		return err
	}
	jobs := scriptJobs(0, t, coins)
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := jobs[i].Run(flags); err != nil {
			return err
		}
	}
	return nil
}
