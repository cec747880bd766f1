package charge

import (
	"context"
	"time"

	"github.com/xraph/payledger/id"
)

// Store persists charges and refunds.
//
// SaveCharge is the only way to change a stored charge: it writes c only if
// the stored version equals expectedVersion, bumps c.Version, and upserts
// refunds in the same atomic unit.
type Store interface {
	CreateCharge(ctx context.Context, c *Charge) error
	GetCharge(ctx context.Context, chargeID id.ChargeID) (*Charge, error)
	GetChargeByIdempotencyKey(ctx context.Context, key string) (*Charge, error)
	SaveCharge(ctx context.Context, c *Charge, expectedVersion int64, refunds ...*Refund) error
	ListCharges(ctx context.Context, opts ListOpts) ([]*Charge, error)

	GetRefund(ctx context.Context, refundID id.RefundID) (*Refund, error)
	GetRefundByIdempotencyKey(ctx context.Context, key string) (*Refund, error)
	ListRefunds(ctx context.Context, chargeID id.ChargeID) ([]*Refund, error)
	ListPendingRefunds(ctx context.Context, createdBefore time.Time, limit int) ([]*Refund, error)
}

// ListOpts filters ListCharges. Zero values match everything.
type ListOpts struct {
	Status        Status
	CustomerID    string
	CreatedBefore time.Time
	Limit         int
}
