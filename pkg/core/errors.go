// Package core provides the turnmem client: the per-turn orchestrator that
// classifies input, retrieves relevant memories, makes the single exchange
// call and commits extracted memories and usage updates atomically.
package core

import (
	"errors"
	"fmt"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = storage.ErrNotFound

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates an empty user ID or a turn number below 1.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTurnOrder indicates a turn number not greater than the user's latest turn.
	ErrTurnOrder = errors.New("turn number out of order")

	// ErrStorageRead indicates that reading the user's memories failed.
	ErrStorageRead = errors.New("storage read failed")

	// ErrAdapterParse indicates that the exchange response had no usable reply.
	ErrAdapterParse = errors.New("exchange response could not be parsed")

	// ErrExchangeTimeout indicates that the exchange call ran past its deadline.
	ErrExchangeTimeout = errors.New("exchange call timed out")

	// ErrExchangeTransport indicates that the exchange call failed.
	ErrExchangeTransport = errors.New("exchange call failed")

	// ErrStorageCommit indicates that the turn's writes could not be committed.
	ErrStorageCommit = errors.New("storage commit failed")

	// ErrCanceled indicates that the caller canceled the turn while it waited for
	// the user lock or for the exchange call.
	ErrCanceled = errors.New("turn canceled")

	// ErrClosed indicates that the client has been closed.
	ErrClosed = errors.New("client closed")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "GetMemorySummary",
//	    Err: ErrStorageRead,
//	}
//	// Error() returns: "turnmem: GetMemorySummary: storage read failed"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns "turnmem: <Op>: <Err>".
func (e *MemoryError) Error() string {
	return fmt.Sprintf("turnmem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
// If err is nil, returns nil.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// TurnError describes a failed turn.
//
// Kind is one of the sentinel errors above, so callers can branch with
// errors.Is(err, core.ErrExchangeTimeout). State is where the turn stopped.
type TurnError struct {
	Kind  error
	State TurnState
	Err   error
}

// Error returns "turnmem: turn failed in <STATE>: <kind>: <cause>".
func (e *TurnError) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("turnmem: turn failed in %s: %v", e.State, e.Kind)
	}
	return fmt.Sprintf("turnmem: turn failed in %s: %v: %v", e.State, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *TurnError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newTurnError(kind error, state TurnState, cause error) *TurnError {
	return &TurnError{Kind: kind, State: state, Err: cause}
}
