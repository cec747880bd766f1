// Package invoice defines billing-period invoices for subscriptions.
package invoice

import (
	"time"

	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/types"
)

type Status string

const (
	StatusOpen          Status = "open"
	StatusPaid          Status = "paid"
	StatusUncollectible Status = "uncollectible"
)

// Invoice bills one period of a subscription. (SubscriptionID,
// BillingPeriodStart) is unique.
type Invoice struct {
	types.Entity
	ID                 id.InvoiceID      `json:"id"`
	SubscriptionID     id.SubscriptionID `json:"subscription_id"`
	AmountDue          types.Money       `json:"amount_due"`
	Status             Status            `json:"status"`
	BillingPeriodStart time.Time         `json:"billing_period_start"`
	BillingPeriodEnd   time.Time         `json:"billing_period_end"`
	PaidAt             *time.Time        `json:"paid_at,omitempty"`
	PaymentRef         string            `json:"payment_ref,omitempty"`
	PaymentAttempts    int               `json:"payment_attempts"`
	LastPaymentError   string            `json:"last_payment_error,omitempty"`
}

// Clone returns a deep copy of the invoice.
func (i *Invoice) Clone() *Invoice {
	cp := *i
	if i.PaidAt != nil {
		t := *i.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}
