// Package apperr classifies domain failures that cut across packages:
// retryable concurrency conflicts, persistence integrity violations and
// computation invariant breaks.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrConflict marks a lost race on a contended row. The input was valid
	// when read; the caller may retry with freshly read state.
	ErrConflict = errors.New("conflict, try again")
	// ErrIntegrity marks a uniqueness or referential violation reported by
	// the persistence layer. Retrying the same input fails again.
	ErrIntegrity = errors.New("integrity violation")
)

// ConflictError wraps the domain reason of a lost race so that it matches
// both ErrConflict and the reason itself.
type ConflictError struct {
	Reason error
}

// Conflict returns an error matching ErrConflict and reason.
func Conflict(reason error) error {
	return &ConflictError{Reason: reason}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, ErrConflict)
}

func (e *ConflictError) Unwrap() []error {
	return []error{ErrConflict, e.Reason}
}

// IntegrityError wraps a persistence-level uniqueness violation.
type IntegrityError struct {
	Constraint string
	Reason     error
}

// Integrity returns an error matching ErrIntegrity and reason.
func Integrity(constraint string, reason error) error {
	return &IntegrityError{Constraint: constraint, Reason: reason}
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s (constraint %s)", e.Reason, e.Constraint)
}

func (e *IntegrityError) Unwrap() []error {
	return []error{ErrIntegrity, e.Reason}
}

// InvariantError reports a computed value that breaks a rule the
// computation guarantees. It signals a bug; the value must not be stored.
type InvariantError struct {
	Rule   string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %q violated: %s", e.Rule, e.Detail)
}

// IsRetryable reports whether err is a concurrency conflict.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
