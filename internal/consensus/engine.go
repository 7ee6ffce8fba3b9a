// Package consensus implements the proof-of-work engine, deployment
// parameters and the contextual transaction and block rules.
package consensus

import "github.com/Klingon-tech/tapnode/pkg/block"

// Engine is the interface for consensus implementations.
type Engine interface {
	VerifyHeader(header *block.Header) error
	Prepare(header *block.Header) error
	Seal(blk *block.Block) error
}
