// Package audithook bridges payledger lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit system. Callers inject a Recorder, a RecorderFunc
// adapter, or the LogRecorder that writes events as structured log lines.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/plugin"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/webhook"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnChargeSucceeded      = (*Extension)(nil)
	_ plugin.OnChargeFailed         = (*Extension)(nil)
	_ plugin.OnChargeRefunded       = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated  = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled = (*Extension)(nil)
	_ plugin.OnSubscriptionPastDue  = (*Extension)(nil)
	_ plugin.OnInvoiceGenerated     = (*Extension)(nil)
	_ plugin.OnInvoicePaid          = (*Extension)(nil)
	_ plugin.OnInvoiceFailed        = (*Extension)(nil)
	_ plugin.OnWebhookReceived      = (*Extension)(nil)
	_ plugin.OnWebhookProcessed     = (*Extension)(nil)
	_ plugin.OnWebhookRejected      = (*Extension)(nil)
	_ plugin.OnIdempotentReplay     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audited state change.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder returns a Recorder that writes each event to logger.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, e *AuditEvent) error {
		level := slog.LevelInfo
		if e.Outcome == OutcomeFailure {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "audit",
			"action", e.Action,
			"resource", e.Resource,
			"resource_id", e.ResourceID,
			"category", e.Category,
			"outcome", e.Outcome,
			"severity", e.Severity,
			"reason", e.Reason,
			"metadata", e.Metadata,
		)
		return nil
	})
}

// Extension bridges payledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Charge lifecycle hooks
// ──────────────────────────────────────────────────

// OnChargeSucceeded implements plugin.OnChargeSucceeded.
func (e *Extension) OnChargeSucceeded(ctx context.Context, v interface{}) error {
	ch, ok := v.(*charge.Charge)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionChargeSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceCharge, ch.ID.String(), CategoryPayment, nil,
		"customer_id", ch.CustomerID,
		"amount", ch.Amount,
		"currency", ch.Currency,
		"processor_ref", ch.ProcessorRef,
	)
}

// OnChargeFailed implements plugin.OnChargeFailed.
func (e *Extension) OnChargeFailed(ctx context.Context, v interface{}) error {
	ch, ok := v.(*charge.Charge)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionChargeFailed, SeverityWarning, OutcomeFailure,
		ResourceCharge, ch.ID.String(), CategoryPayment, nil,
		"customer_id", ch.CustomerID,
		"amount", ch.Amount,
		"currency", ch.Currency,
		"failure_reason", ch.FailureReason,
	)
}

// OnChargeRefunded implements plugin.OnChargeRefunded.
func (e *Extension) OnChargeRefunded(ctx context.Context, c, r interface{}) error {
	ch, ok := c.(*charge.Charge)
	if !ok {
		return nil
	}
	kv := []any{
		"status", ch.Status,
		"amount_refunded", ch.AmountRefunded,
		"currency", ch.Currency,
	}
	if refund, ok := r.(*charge.Refund); ok {
		kv = append(kv,
			"refund_id", refund.ID.String(),
			"amount", refund.Amount,
			"external", refund.External,
		)
	}
	return e.record(ctx, ActionChargeRefunded, SeverityInfo, OutcomeSuccess,
		ResourceCharge, ch.ID.String(), CategoryPayment, nil, kv...)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, v interface{}) error {
	sub, ok := v.(*subscription.Subscription)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"customer_id", sub.CustomerID,
		"plan_id", sub.PlanID,
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, v interface{}) error {
	sub, ok := v.(*subscription.Subscription)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"customer_id", sub.CustomerID,
		"plan_id", sub.PlanID,
	)
}

// OnSubscriptionPastDue implements plugin.OnSubscriptionPastDue.
func (e *Extension) OnSubscriptionPastDue(ctx context.Context, v interface{}) error {
	sub, ok := v.(*subscription.Subscription)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionSubscriptionPastDue, SeverityWarning, OutcomeFailure,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"customer_id", sub.CustomerID,
	)
}

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoiceGenerated implements plugin.OnInvoiceGenerated.
func (e *Extension) OnInvoiceGenerated(ctx context.Context, v interface{}) error {
	inv, ok := v.(*invoice.Invoice)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionInvoiceGenerated, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryBilling, nil,
		"subscription_id", inv.SubscriptionID.String(),
		"amount_due", inv.AmountDue.String(),
	)
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (e *Extension) OnInvoicePaid(ctx context.Context, v interface{}) error {
	inv, ok := v.(*invoice.Invoice)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionInvoicePaid, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryBilling, nil,
		"subscription_id", inv.SubscriptionID.String(),
		"payment_ref", inv.PaymentRef,
	)
}

// OnInvoiceFailed implements plugin.OnInvoiceFailed.
func (e *Extension) OnInvoiceFailed(ctx context.Context, v interface{}, err error) error {
	inv, ok := v.(*invoice.Invoice)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionInvoiceFailed, SeverityError, OutcomeFailure,
		ResourceInvoice, inv.ID.String(), CategoryBilling, err,
		"subscription_id", inv.SubscriptionID.String(),
		"attempts", inv.PaymentAttempts,
	)
}

// ──────────────────────────────────────────────────
// Webhook lifecycle hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, v interface{}) error {
	evt, ok := v.(*webhook.Event)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, evt.EventID, CategoryIntegration, nil,
		"delivery_id", evt.ID.String(),
		"type", evt.Type,
	)
}

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (e *Extension) OnWebhookProcessed(ctx context.Context, v interface{}) error {
	evt, ok := v.(*webhook.Event)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionWebhookProcessed, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, evt.EventID, CategoryIntegration, nil,
		"delivery_id", evt.ID.String(),
		"type", evt.Type,
		"duplicate", evt.Duplicate,
	)
}

// OnWebhookRejected implements plugin.OnWebhookRejected.
func (e *Extension) OnWebhookRejected(ctx context.Context, v interface{}, err error) error {
	evt, ok := v.(*webhook.Event)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionWebhookRejected, SeverityWarning, OutcomeFailure,
		ResourceWebhook, evt.EventID, CategoryIntegration, err,
		"delivery_id", evt.ID.String(),
		"type", evt.Type,
	)
}

// OnIdempotentReplay implements plugin.OnIdempotentReplay.
func (e *Extension) OnIdempotentReplay(ctx context.Context, key string) error {
	return e.record(ctx, ActionIdempotentReplay, SeverityInfo, OutcomeSuccess,
		ResourceIdempotency, key, CategoryIntegration, nil)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
