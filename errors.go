package payledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound        = errors.New("payledger: not found")
	ErrAlreadyExists   = errors.New("payledger: already exists")
	ErrInvalidInput    = errors.New("payledger: invalid input")
	ErrVersionConflict = errors.New("payledger: version conflict")
	ErrStoreClosed     = errors.New("payledger: store is closed")

	// Charge errors
	ErrChargeNotFound      = errors.New("payledger: charge not found")
	ErrRefundNotFound      = errors.New("payledger: refund not found")
	ErrInvalidRefundAmount = errors.New("payledger: invalid refund amount")
	ErrInvalidTransition   = errors.New("payledger: invalid state transition")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("payledger: subscription not found")
	ErrPlanNotFound         = errors.New("payledger: plan not found")
	ErrAlreadyCanceled      = errors.New("payledger: subscription already canceled")
	ErrSubscriptionCanceled = errors.New("payledger: subscription is canceled")

	// Invoice errors
	ErrInvoiceNotFound      = errors.New("payledger: invoice not found")
	ErrInvoiceUncollectible = errors.New("payledger: invoice is uncollectible")

	// Idempotency errors
	ErrIdempotencyConflict = errors.New("payledger: idempotency key reused with different parameters")
	ErrIdempotencyInFlight = errors.New("payledger: operation with this idempotency key is in progress")

	// Processor errors
	ErrProcessorUnavailable = errors.New("payledger: payment processor unavailable")
	ErrTimeout              = errors.New("payledger: payment processor timed out")

	// Webhook errors
	ErrMissingSignature     = errors.New("payledger: missing webhook signature")
	ErrInvalidSignature     = errors.New("payledger: invalid webhook signature")
	ErrMalformedPayload     = errors.New("payledger: malformed webhook payload")
	ErrUnsupportedEventType = errors.New("payledger: unsupported webhook event type")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("payledger: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap makes every ValidationError match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// Kind classifies an error by what the caller should do about it.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindRetryable  Kind = "retryable"
	KindSecurity   Kind = "security"
	KindInternal   Kind = "internal"
)

// StatusClass is the HTTP-style class reported to webhook senders and API
// callers.
type StatusClass int

const (
	ClassOK          StatusClass = 200
	ClassClientError StatusClass = 400
	ClassServerError StatusClass = 500
)

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case IsSecurity(err):
		return KindSecurity
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrUnsupportedEventType):
		return KindValidation
	case IsNotFound(err):
		return KindNotFound
	case IsConflict(err):
		return KindConflict
	case IsRetryable(err):
		return KindRetryable
	default:
		return KindInternal
	}
}

// ClassOf maps err to a status class. Only retryable and internal errors
// ask the sender to try again.
func ClassOf(err error) StatusClass {
	switch KindOf(err) {
	case "":
		return ClassOK
	case KindRetryable, KindInternal:
		return ClassServerError
	default:
		return ClassClientError
	}
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrChargeNotFound) ||
		errors.Is(err, ErrRefundNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}

// IsConflict returns true if the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidRefundAmount) ||
		errors.Is(err, ErrAlreadyCanceled) ||
		errors.Is(err, ErrSubscriptionCanceled) ||
		errors.Is(err, ErrInvoiceUncollectible) ||
		errors.Is(err, ErrIdempotencyConflict)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrIdempotencyInFlight) ||
		errors.Is(err, ErrProcessorUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrStoreClosed)
}

// IsSecurity returns true for webhook authentication failures.
func IsSecurity(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidSignature)
}
