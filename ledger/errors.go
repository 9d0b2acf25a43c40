/*
errors.go - Error types for the points ledger and everything built on it

PURPOSE:
  All ledger and redemption errors in one place, so the HTTP layer can map
  them to status codes and machine-readable reason codes without knowing
  which package raised them.

ERROR CATEGORIES:
  1. Not found     - customer, tenant, reward, voucher, transaction
  2. Business rule - insufficient points, voucher not cancellable/usable,
                     invalid status transition, already reversed
  3. Conflict      - duplicate idempotency key, duplicate email, reward
                     with redemption history
  4. Internal      - voucher code generation exhausted, store failures

USAGE:
  if errors.Is(err, ledger.ErrInsufficientPoints) {
      var ipe *ledger.InsufficientPointsError
      errors.As(err, &ipe) // ipe.Required, ipe.Available
  }

SEE ALSO:
  - ledger.go: Raises the ledger errors
  - rewards/engine.go: Raises the redemption and voucher errors
  - api/errors.go: Maps these to HTTP responses
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
	// ErrCustomerNotFound is returned when a referenced customer doesn't exist.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrTenantNotFound is returned when a referenced tenant doesn't exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTransactionNotFound is returned when a referenced ledger entry doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrRewardNotFound is returned when a referenced reward doesn't exist.
	ErrRewardNotFound = errors.New("reward not found")

	// ErrVoucherNotFound is returned when a voucher doesn't exist or belongs
	// to another customer. The two are indistinguishable to the caller.
	ErrVoucherNotFound = errors.New("voucher not found")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInsufficientPoints is returned when a redemption costs more than
	// the ledger balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrRewardNotRedeemable is returned for inactive rewards and rewards
	// still waiting for (or refused) approval.
	ErrRewardNotRedeemable = errors.New("reward not redeemable")

	// ErrVoucherNotCancellable is returned when cancelling a voucher that is
	// used, expired or otherwise no longer active.
	ErrVoucherNotCancellable = errors.New("voucher not cancellable")

	// ErrVoucherNotUsable is returned when marking a non-active or expired
	// voucher as used.
	ErrVoucherNotUsable = errors.New("voucher not usable")

	// ErrInvalidTransition is returned for a status change the entry's
	// current status does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyReversed is returned when voiding or refunding an entry that
	// already has a reversal.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrConflict is returned when a write collides with existing state
	// (duplicate email, reward with redemption history).
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrCodeGenerationExhausted is returned when no unique voucher or
	// display code was found within the retry budget.
	ErrCodeGenerationExhausted = errors.New("code generation exhausted retry budget")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientPointsError reports the numbers a client needs to explain a
// failed redemption ("need 250 points, have 50").
type InsufficientPointsError struct {
	CustomerID string
	Required   int64
	Available  int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: need %d, have %d", e.Required, e.Available)
}

func (e *InsufficientPointsError) Unwrap() error {
	return ErrInsufficientPoints
}

// Reasons a voucher cannot be cancelled.
const (
	ReasonNotActive        = "not_active"
	ReasonAlreadyUsed      = "already_used"
	ReasonExpired          = "expired"
	ReasonAlreadyCancelled = "already_cancelled"
)

// NotCancellableError says why a voucher cannot be cancelled.
type NotCancellableError struct {
	VoucherID string
	Reason    string
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("voucher %s not cancellable: %s", e.VoucherID, e.Reason)
}

func (e *NotCancellableError) Unwrap() error {
	return ErrVoucherNotCancellable
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	TransactionID string
	Type          TxType
	Status        TxStatus
	Action        string // approve, reject, void, refund
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s transaction %s with status %s",
		e.Action, e.Type, e.TransactionID, e.Status)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry. Business
// rule violations never are.
func IsRetryable(err error) bool {
	return err != nil && !IsClientError(err) && !IsNotFound(err) &&
		!errors.Is(err, ErrConflict) && !errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsClientError returns true if the error is due to invalid client input
// or a business rule.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrRewardNotRedeemable) ||
		errors.Is(err, ErrVoucherNotCancellable) ||
		errors.Is(err, ErrVoucherNotUsable) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrVoucherNotFound)
}

// Code returns the machine-readable reason code for an error, or "" for
// errors without one.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, ErrVoucherNotCancellable):
		var nce *NotCancellableError
		if errors.As(err, &nce) {
			return "voucher_" + nce.Reason
		}
		return "voucher_not_cancellable"
	case errors.Is(err, ErrVoucherNotUsable):
		return "voucher_not_usable"
	case errors.Is(err, ErrRewardNotRedeemable):
		return "reward_not_redeemable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAlreadyReversed):
		return "already_reversed"
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return "duplicate_idempotency_key"
	case errors.Is(err, ErrCustomerNotFound):
		return "customer_not_found"
	case errors.Is(err, ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, ErrRewardNotFound):
		return "reward_not_found"
	case errors.Is(err, ErrVoucherNotFound):
		return "voucher_not_found"
	case errors.Is(err, ErrTransactionNotFound):
		return "transaction_not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrCodeGenerationExhausted):
		return "code_generation_exhausted"
	}
	return ""
}
