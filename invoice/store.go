package invoice

import (
	"context"
	"time"

	"github.com/xraph/payledger/id"
)

// Store reads invoices. Writes go through subscription.Store.SaveSubscription.
type Store interface {
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	GetInvoiceByPeriod(ctx context.Context, subID id.SubscriptionID, periodStart time.Time) (*Invoice, error)
	ListInvoices(ctx context.Context, subID id.SubscriptionID) ([]*Invoice, error)
}
