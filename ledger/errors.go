/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers distinguish three recoverable kinds (validation, referential,
  store rejection at commit) from caller-contract violations, which are
  unchecked.

ERROR CATEGORIES:
  1. Invariant violations - unbalanced splits, duplicate account legs
  2. Referential errors - missing account/payee/security
  3. Store rejection - concurrent changes at commit time, retryable
  4. Precondition violations - second concurrent edit, bad row index

USAGE:
  if errors.Is(err, ledger.ErrUnbalanced) { ... }
  if ledger.IsRetryable(err) { // keep the edit buffer, let the user retry }

SEE ALSO:
  - balancing.go: Produces invariant errors
  - buffer.go: Collects FieldErrors during validation
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnbalanced is returned when a split set does not sum to zero for
	// some balancing unit and no trading synthesis was requested.
	ErrUnbalanced = errors.New("splits do not balance")

	// ErrDuplicateAccount is returned when an account id appears in more
	// than one split of the same transaction. Always rejected.
	ErrDuplicateAccount = errors.New("account appears twice in transaction")

	// ErrNoSplits is returned when a transaction has no splits at all.
	ErrNoSplits = errors.New("transaction has no splits")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrPayeeNotFound is returned when a referenced payee doesn't exist.
	ErrPayeeNotFound = errors.New("payee not found")

	// ErrTransactionNotFound is returned for an unknown transaction id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrScheduleNotFound is returned for an unknown schedule id.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrStoreRejected is returned when the store refuses a commit (for
	// example a referenced entity was deleted concurrently). Retryable:
	// the edit buffer stays populated so the user can correct and retry.
	ErrStoreRejected = errors.New("store rejected commit")

	// ErrEditInProgress is returned when starting an edit while another is
	// active. Caller contract: resolve the active edit first.
	ErrEditInProgress = errors.New("another edit is in progress")

	// ErrNoEdit is returned when committing or mutating with no active edit.
	ErrNoEdit = errors.New("no edit in progress")

	// ErrValidationFailed is returned by Commit when Validate reports
	// errors; the field-level details are on the buffer.
	ErrValidationFailed = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnbalancedError reports the per-unit residue of an unbalanced split set.
type UnbalancedError struct {
	Residue map[Unit]Amount // only nonzero units
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("splits do not balance in %d unit(s)", len(e.Residue))
}

func (e *UnbalancedError) Unwrap() error { return ErrUnbalanced }

// DuplicateAccountError identifies the offending account.
type DuplicateAccountError struct {
	Account AccountID
}

func (e *DuplicateAccountError) Error() string {
	return fmt.Sprintf("account %s appears twice in transaction", e.Account)
}

func (e *DuplicateAccountError) Unwrap() error { return ErrDuplicateAccount }

// FieldError is one validation failure, optionally tied to the edit column
// that should be refocused. Validation never aborts on the first failure; the
// buffer returns the full list.
type FieldError struct {
	Message string
	Column  Column // ColNone when the error is not tied to a column
}

func (e FieldError) Error() string {
	if e.Column == ColNone {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Column, e.Message)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the commit might succeed on retry after the
// user corrects the edit. The buffer must be left populated for these.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreRejected)
}

// IsNotFound returns true if the error indicates a missing referenced entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPayeeNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrScheduleNotFound)
}
