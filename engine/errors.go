package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolved means nothing is configured for the pair yet; configure it first.
	ErrUnresolved = errors.New("pair not supported yet")
	// ErrUnsupported means configuration was attempted but nothing can serve the pair.
	ErrUnsupported = errors.New("pair cannot be supported")
	// ErrStaleOrInvalidFeed means a feed answer was non-positive or too old.
	ErrStaleOrInvalidFeed = errors.New("stale or invalid feed")
	// ErrBudgetExhausted means the execution budget of the unit of work ran out.
	ErrBudgetExhausted = errors.New("execution budget exhausted")
	// ErrAccessDenied means the caller lacks the required role.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidInput means an argument failed validation.
	ErrInvalidInput = errors.New("invalid input")
)

// PairError attaches the pair an error refers to.
type PairError struct {
	Pair Pair
	Err  error
}

// NewPairError wraps err with the canonical pair of the two tokens.
func NewPairError(pair Pair, err error) *PairError {
	return &PairError{Pair: pair, Err: err}
}

func (e *PairError) Error() string {
	return fmt.Sprintf("pair %s: %v", e.Pair, e.Err)
}

func (e *PairError) Unwrap() error {
	return e.Err
}
