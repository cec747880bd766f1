// Package plugin provides lifecycle hooks for payledger.
// Plugins observe state changes; they never take part in a money-moving
// decision, and a failing or slow plugin is logged and skipped.
package plugin

import "context"

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Charge hooks
// ──────────────────────────────────────────────────

// OnChargeSucceeded is called when a charge is authorized.
type OnChargeSucceeded interface {
	Plugin
	OnChargeSucceeded(ctx context.Context, ch interface{}) error
}

// OnChargeFailed is called when a charge is declined.
type OnChargeFailed interface {
	Plugin
	OnChargeFailed(ctx context.Context, ch interface{}) error
}

// OnChargeRefunded is called when a refund settles.
type OnChargeRefunded interface {
	Plugin
	OnChargeRefunded(ctx context.Context, ch, refund interface{}) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called when a new subscription is created.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub interface{}) error
}

// OnSubscriptionCanceled is called when a subscription is canceled.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub interface{}) error
}

// OnSubscriptionPastDue is called when a subscription enters past_due.
type OnSubscriptionPastDue interface {
	Plugin
	OnSubscriptionPastDue(ctx context.Context, sub interface{}) error
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceGenerated is called when an invoice is generated.
type OnInvoiceGenerated interface {
	Plugin
	OnInvoiceGenerated(ctx context.Context, inv interface{}) error
}

// OnInvoicePaid is called when an invoice is paid.
type OnInvoicePaid interface {
	Plugin
	OnInvoicePaid(ctx context.Context, inv interface{}) error
}

// OnInvoiceFailed is called when an invoice payment fails.
type OnInvoiceFailed interface {
	Plugin
	OnInvoiceFailed(ctx context.Context, inv interface{}, err error) error
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived is called when an authenticated delivery is stored.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, evt interface{}) error
}

// OnWebhookProcessed is called when a delivery finishes successfully.
type OnWebhookProcessed interface {
	Plugin
	OnWebhookProcessed(ctx context.Context, evt interface{}) error
}

// OnWebhookRejected is called when a delivery is rejected or fails.
type OnWebhookRejected interface {
	Plugin
	OnWebhookRejected(ctx context.Context, evt interface{}, err error) error
}

// ──────────────────────────────────────────────────
// Idempotency hooks
// ──────────────────────────────────────────────────

// OnIdempotentReplay is called when a request is answered from a stored result.
type OnIdempotentReplay interface {
	Plugin
	OnIdempotentReplay(ctx context.Context, key string) error
}
