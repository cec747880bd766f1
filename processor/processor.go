// Package processor defines the port to the external payment processor.
package processor

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the processor could not be reached or did not
// return a verdict. The operation may be retried under the same key.
var ErrUnavailable = errors.New("processor: unavailable")

// ErrUnknownKey is returned by a StatusChecker that never saw the key.
var ErrUnknownKey = errors.New("processor: unknown idempotency key")

// AuthorizeRequest asks the processor to authorize a charge.
type AuthorizeRequest struct {
	IdempotencyKey string
	Amount         int64
	Currency       string
	Token          string
}

// RefundRequest asks the processor to return funds for a charge.
type RefundRequest struct {
	IdempotencyKey string
	ChargeRef      string
	Amount         int64
	Currency       string
}

// Decision is the processor's verdict. A decline is a Decision with
// Accepted false, not an error.
type Decision struct {
	Accepted  bool
	Reason    string
	Reference string
}

// Processor moves money. Implementations must deduplicate by
// IdempotencyKey: a repeated call returns the first verdict without
// charging or refunding again.
type Processor interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Decision, error)
	SettleRefund(ctx context.Context, req RefundRequest) (Decision, error)
}

// StatusChecker is implemented by processors that can report the verdict of
// an earlier call without re-issuing it.
type StatusChecker interface {
	AuthorizationStatus(ctx context.Context, idempotencyKey string) (Decision, error)
	RefundStatus(ctx context.Context, idempotencyKey string) (Decision, error)
}
