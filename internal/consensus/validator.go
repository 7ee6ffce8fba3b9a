package consensus

import (
	"fmt"

	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
)

// Validator performs the context-free checks on a block.
type Validator struct {
	engine Engine
}

// NewValidator creates a block validator with the given consensus engine.
func NewValidator(engine Engine) *Validator {
	return &Validator{engine: engine}
}

// ValidateBlock checks a block against both structural and consensus rules.
func (v *Validator) ValidateBlock(blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return ruleerr.Wrap(ruleerr.Structural, block.ErrNilHeader)
	}
	if err := v.engine.VerifyHeader(blk.Header); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	if err := blk.CheckSanity(); err != nil {
		return fmt.Errorf("block structure: %w", err)
	}
	return nil
}
