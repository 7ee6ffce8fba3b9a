// Package ruleerr classifies validation failures.
//
// Every rejection produced by the script, transaction and block validators
// carries one of four kinds. Callers use KindOf to decide how to treat a
// peer or a transaction without matching on individual sentinel errors.
package ruleerr

import (
	"errors"
	"fmt"
)

// Kind is the class of a validation failure.
type Kind uint8

const (
	// Unknown is returned by KindOf for errors that were never classified,
	// such as I/O failures.
	Unknown Kind = iota
	// Structural failures mean the input is malformed.
	Structural
	// ConsensusRule failures mean the input is well formed but breaks a rule
	// that every node enforces.
	ConsensusRule
	// Policy failures are local standardness rejections.
	Policy
	// ResourceLimit failures exceed a size, count or budget limit.
	ResourceLimit
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Structural:
		return "structural"
	case ConsensusRule:
		return "consensus"
	case Policy:
		return "policy"
	case ResourceLimit:
		return "resource-limit"
	default:
		return "unknown"
	}
}

// Classified is implemented by errors that know their kind.
type Classified interface {
	error
	RuleKind() Kind
}

// Error attaches a kind to an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// RuleKind implements Classified.
func (e *Error) RuleKind() Kind {
	return e.Kind
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf formats an error and tags it with kind. %w verbs are honoured.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var c Classified
	if errors.As(err, &c) {
		return c.RuleKind()
	}
	return Unknown
}
