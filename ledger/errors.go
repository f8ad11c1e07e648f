/*
errors.go - Centralized error taxonomy for the billing engine

PURPOSE:
  All error kinds in one place. The rest of the repository wraps these
  sentinels so callers can classify failures without string matching.

TAXONOMY:
  ErrValidation - malformed or out-of-range input (non-positive amounts,
                  over-refund, rejected remainder)
  ErrNotFound   - unknown customer/invoice/payment reference
  ErrConflict   - concurrent-update invariant violation; the only kind
                  eligible for automatic retry
  ErrStore      - underlying durability failure

USAGE:
  if ledger.IsValidation(err) { ... reject input ... }
  if ledger.IsRetryable(err)  { ... retry the unit ... }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when concurrent updates race on the same
	// customer or invoice. Transient: the operation may succeed on retry.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrStore is returned when the underlying store fails to persist
	// or read durably.
	ErrStore = errors.New("store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes why an input was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Entity string // "customer", "invoice", "payment", "transaction"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// BalanceDriftError is returned by the replay check when the stored
// projection no longer matches the transaction log.
type BalanceDriftError struct {
	CustomerID CustomerID
	Projected  decimal.Decimal
	Replayed   decimal.Decimal
}

func (e *BalanceDriftError) Error() string {
	return fmt.Sprintf("balance drift for customer %s: projection %s, replay %s",
		e.CustomerID, e.Projected, e.Replayed)
}

func (e *BalanceDriftError) Unwrap() error { return ErrStore }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation reports whether the error is rejected input.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether the error indicates a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRetryable reports whether the operation might succeed if retried.
// Only conflicts qualify; every other kind is terminal for the request.
func IsRetryable(err error) bool { return errors.Is(err, ErrConflict) }

// IsClientError reports whether the caller should treat the failure as
// rejected input (4xx-equivalent) rather than a server-side fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}
