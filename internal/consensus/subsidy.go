package consensus

import "github.com/Klingon-tech/tapnode/pkg/tx"

// CalcBlockSubsidy returns the new coins a block at height may create.
// The subsidy halves every SubsidyHalvingInterval blocks and reaches zero
// after 64 halvings.
func CalcBlockSubsidy(height uint32, p *Params) int64 {
	if p.SubsidyHalvingInterval == 0 {
		return 50 * tx.CoinValue
	}
	halvings := height / p.SubsidyHalvingInterval
	if halvings >= 64 {
		return 0
	}
	return (50 * tx.CoinValue) >> halvings
}
