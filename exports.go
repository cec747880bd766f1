package payledger

import (
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/types"
	"github.com/xraph/payledger/webhook"
)

// Re-export common types for convenience so users don't have to import the
// entity packages.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

type (
	Charge       = charge.Charge
	Refund       = charge.Refund
	Subscription = subscription.Subscription
	Invoice      = invoice.Invoice
	WebhookEvent = webhook.Event
)

// Re-export Money constructors
var (
	USD  = types.USD
	EUR  = types.EUR
	GBP  = types.GBP
	JPY  = types.JPY
	Zero = types.Zero
)
