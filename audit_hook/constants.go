package audithook

// Action constants for audit events.
const (
	// Charge actions
	ActionChargeSucceeded = "charge.succeeded"
	ActionChargeFailed    = "charge.failed"
	ActionChargeRefunded  = "charge.refunded"

	// Subscription actions
	ActionSubscriptionCreated  = "subscription.created"
	ActionSubscriptionCanceled = "subscription.canceled"
	ActionSubscriptionPastDue  = "subscription.past_due"

	// Invoice actions
	ActionInvoiceGenerated = "invoice.generated"
	ActionInvoicePaid      = "invoice.paid"
	ActionInvoiceFailed    = "invoice.failed"

	// Webhook actions
	ActionWebhookReceived  = "webhook.received"
	ActionWebhookProcessed = "webhook.processed"
	ActionWebhookRejected  = "webhook.rejected"

	// Idempotency actions
	ActionIdempotentReplay = "idempotency.replay"
)

// Resource constants for audit events.
const (
	ResourceCharge       = "charge"
	ResourceSubscription = "subscription"
	ResourceInvoice      = "invoice"
	ResourceWebhook      = "webhook"
	ResourceIdempotency  = "idempotency_key"
)

// Category constants for audit events.
const (
	CategoryPayment      = "payment"
	CategorySubscription = "subscription"
	CategoryBilling      = "billing"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
