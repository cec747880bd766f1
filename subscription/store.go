package subscription

import (
	"context"
	"time"

	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/invoice"
)

// Store persists subscriptions. Invoices belong to their subscription and
// are written through SaveSubscription so both change atomically.
type Store interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	SaveSubscription(ctx context.Context, s *Subscription, expectedVersion int64, invoices ...*invoice.Invoice) error
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)
}

type ListOpts struct {
	CustomerID string
	Status     Status
	// PastDueBefore matches subscriptions whose PastDueSince is at or before it.
	PastDueBefore time.Time
	Limit         int
}
