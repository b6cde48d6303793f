package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide how to surface or retry them.
type Kind uint8

const (
	KindUnexpected Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "unexpected"
	}
}

// Error is an expected business failure with a stable machine-readable code.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func newRetryable(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Retryable: true}
}

var (
	ErrTenantRequired         = newError(KindUnauthorized, "tenant_required", "tenant context is required")
	ErrTenantMismatch         = newError(KindForbidden, "tenant_mismatch", "entity belongs to another tenant")
	ErrInvalidID              = newError(KindValidation, "invalid_id", "invalid id")
	ErrInvalidAmount          = newError(KindValidation, "invalid_amount", "amount cannot be negative")
	ErrAmountTooLarge         = newError(KindValidation, "amount_too_large", "amount exceeds 9999999999999999.99")
	ErrInvalidCurrency        = newError(KindValidation, "invalid_currency", "currency must be a 3-letter code")
	ErrCurrencyMismatch       = newError(KindValidation, "currency_mismatch", "cannot combine amounts with different currencies")
	ErrCustomerNameRequired   = newError(KindValidation, "customer_name_required", "customer name is required")
	ErrCancelReasonRequired   = newError(KindValidation, "cancel_reason_required", "cancel reason is required")
	ErrOrderNotNew            = newError(KindValidation, "order_not_new", "only new orders can be placed")
	ErrOrderNotPlaced         = newError(KindValidation, "order_not_placed", "only placed orders can be paid or canceled")
	ErrOrderNotPaid           = newError(KindValidation, "order_not_paid", "only paid orders can be completed")
	ErrExpectedVersionMissing = newError(KindValidation, "expected_version_required", "expected version is required")
	ErrInvalidVersion         = newError(KindValidation, "invalid_version", "malformed version token")
	ErrIdempotencyKeyRequired = newError(KindValidation, "idempotency_key_required", "idempotency key is required")
	ErrIdempotencyKeyTooLong  = newError(KindValidation, "idempotency_key_too_long", "idempotency key exceeds 128 characters")
	ErrOrderNotFound          = newError(KindNotFound, "order_not_found", "order not found")
	ErrCustomerNotFound       = newError(KindNotFound, "customer_not_found", "customer not found")
	ErrIdempotencyConflict    = newError(KindConflict, "idempotency_conflict", "idempotency key reused with a different payload")
	ErrIdempotencyInProgress  = newRetryable(KindConflict, "idempotency_in_progress", "request with this idempotency key is already in progress")
	ErrConcurrencyConflict    = newRetryable(KindConflict, "version_conflict", "order was modified by another request; reload and retry")
)

// ErrContractViolation marks misuse of a core contract. It is never expected at runtime.
var ErrContractViolation = errors.New("contract violation")

// ContractViolation wraps a description of the broken contract.
func ContractViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

// KindOf reports the kind of err; anything that is not a *Error is unexpected.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnexpected
}

// CodeOf returns the machine code of err or "internal_error".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal_error"
}

// IsRetryable is true when the caller may retry the same command later.
func IsRetryable(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Retryable
}
