/*
errors.go - Centralized error types for the engine

PURPOSE:
  All engine error types in one place. The taxonomy mirrors how callers
  must react:
    1. Validation errors  - bad input or an illegal state transition
    2. Not-found errors   - a referenced record does not exist
    3. Conflict errors    - a concurrent actor already changed state
    4. Numeric-integrity  - a stored value cannot be sanitized safely

  Any of these raised inside an approval transaction forces a full
  rollback. There is never a partial posting or partial stock mutation.

USAGE:
  Domain packages wrap these with context:

    if errors.Is(err, engine.ErrAccountNotFound) { ... }

SEE ALSO:
  - stocktake/workflow.go: raises these during transitions
  - api/handlers.go: maps them to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input/state validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a document is not in a state
	// that permits the requested transition.
	ErrInvalidTransition = errors.New("invalid state for requested transition")

	// ErrConflict is returned when the post-lock status re-check observes
	// that a concurrent approval already changed the document.
	ErrConflict = errors.New("document changed by a concurrent operation")

	// ErrNumericIntegrity is returned when a stored value cannot be
	// sanitized to a finite, sign-appropriate number.
	ErrNumericIntegrity = errors.New("numeric integrity violation")

	// ErrUnbalancedPosting is returned when a posting-group fails the
	// debits == credits invariant. This indicates an engine bug and is
	// checked before anything is persisted.
	ErrUnbalancedPosting = errors.New("posting group does not balance")

	ErrDocumentNotFound     = errors.New("count document not found")
	ErrAccountNotFound      = errors.New("posting account not found")
	ErrWarehouseNotFound    = errors.New("warehouse not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrCurrencyNotFound     = errors.New("currency not found")
	ErrPostingGroupNotFound = errors.New("posting group not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field so the caller can fix it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NumericError reports which field held an unsanitizable value.
type NumericError struct {
	Field string
	Raw   string
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("%s: cannot sanitize %q to a usable number", e.Field, e.Raw)
}

func (e *NumericError) Unwrap() error { return ErrNumericIntegrity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrWarehouseNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCurrencyNotFound) ||
		errors.Is(err, ErrPostingGroupNotFound)
}

// IsConflict returns true for concurrent-modification failures.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNumericIntegrity)
}
