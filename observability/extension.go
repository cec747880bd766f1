// Package observability provides a metrics extension for payledger that
// records lifecycle event counts as Prometheus metrics.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/plugin"
	"github.com/xraph/payledger/webhook"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnChargeSucceeded      = (*MetricsExtension)(nil)
	_ plugin.OnChargeFailed         = (*MetricsExtension)(nil)
	_ plugin.OnChargeRefunded       = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionPastDue  = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceGenerated     = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePaid          = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceFailed        = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived      = (*MetricsExtension)(nil)
	_ plugin.OnWebhookProcessed     = (*MetricsExtension)(nil)
	_ plugin.OnWebhookRejected      = (*MetricsExtension)(nil)
	_ plugin.OnIdempotentReplay     = (*MetricsExtension)(nil)
)

const namespace = "payledger"

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a payledger plugin to track payment metrics.
type MetricsExtension struct {
	// Charge metrics
	Charges        *prometheus.CounterVec
	ChargeAmount   *prometheus.CounterVec
	Refunds        prometheus.Counter
	RefundedAmount *prometheus.CounterVec
	ChargeDeclines *prometheus.CounterVec

	// Subscription metrics
	Subscriptions *prometheus.CounterVec

	// Invoice metrics
	Invoices     *prometheus.CounterVec
	InvoiceTotal *prometheus.HistogramVec

	// Webhook metrics
	Webhooks *prometheus.CounterVec

	// Idempotency metrics
	IdempotentReplays prometheus.Counter
}

// NewMetricsExtension creates a MetricsExtension whose collectors are
// registered with reg. A nil reg uses prometheus.DefaultRegisterer.
func NewMetricsExtension(reg prometheus.Registerer) *MetricsExtension {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &MetricsExtension{
		// Charge metrics
		Charges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "charge",
			Name:      "resolved_total",
			Help:      "Charges resolved by final status.",
		}, []string{"status"}),
		ChargeAmount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "charge",
			Name:      "succeeded_amount_total",
			Help:      "Sum of succeeded charge amounts in minor units.",
		}, []string{"currency"}),
		Refunds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "charge",
			Name:      "refunds_total",
			Help:      "Refunds settled.",
		}),
		RefundedAmount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "charge",
			Name:      "refunded_amount_total",
			Help:      "Sum of settled refund amounts in minor units.",
		}, []string{"currency"}),
		ChargeDeclines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "charge",
			Name:      "declines_total",
			Help:      "Declined charges by reason.",
		}, []string{"reason"}),

		// Subscription metrics
		Subscriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "transitions_total",
			Help:      "Subscription lifecycle transitions.",
		}, []string{"event"}),

		// Invoice metrics
		Invoices: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoice",
			Name:      "events_total",
			Help:      "Invoice lifecycle events.",
		}, []string{"event"}),
		InvoiceTotal: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "invoice",
			Name:      "amount_due",
			Help:      "Amount due of generated invoices in minor units.",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
		}, []string{"currency"}),

		// Webhook metrics
		Webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by outcome and event type.",
		}, []string{"outcome", "type"}),

		// Idempotency metrics
		IdempotentReplays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idempotency",
			Name:      "replays_total",
			Help:      "Requests answered from a stored result.",
		}),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Charge lifecycle hooks
// ──────────────────────────────────────────────────

// OnChargeSucceeded implements plugin.OnChargeSucceeded.
func (m *MetricsExtension) OnChargeSucceeded(_ context.Context, v interface{}) error {
	m.Charges.WithLabelValues(string(charge.StatusSucceeded)).Inc()
	if ch, ok := v.(*charge.Charge); ok {
		m.ChargeAmount.WithLabelValues(ch.Currency).Add(float64(ch.Amount))
	}
	return nil
}

// OnChargeFailed implements plugin.OnChargeFailed.
func (m *MetricsExtension) OnChargeFailed(_ context.Context, v interface{}) error {
	m.Charges.WithLabelValues(string(charge.StatusFailed)).Inc()
	reason := "unknown"
	if ch, ok := v.(*charge.Charge); ok && ch.FailureReason != "" {
		reason = sanitizeLabel(ch.FailureReason)
	}
	m.ChargeDeclines.WithLabelValues(reason).Inc()
	return nil
}

// OnChargeRefunded implements plugin.OnChargeRefunded.
func (m *MetricsExtension) OnChargeRefunded(_ context.Context, c, r interface{}) error {
	m.Refunds.Inc()
	ch, ok := c.(*charge.Charge)
	if !ok {
		return nil
	}
	if refund, ok := r.(*charge.Refund); ok {
		m.RefundedAmount.WithLabelValues(ch.Currency).Add(float64(refund.Amount))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ interface{}) error {
	m.Subscriptions.WithLabelValues("created").Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ interface{}) error {
	m.Subscriptions.WithLabelValues("canceled").Inc()
	return nil
}

// OnSubscriptionPastDue implements plugin.OnSubscriptionPastDue.
func (m *MetricsExtension) OnSubscriptionPastDue(_ context.Context, _ interface{}) error {
	m.Subscriptions.WithLabelValues("past_due").Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoiceGenerated implements plugin.OnInvoiceGenerated.
func (m *MetricsExtension) OnInvoiceGenerated(_ context.Context, v interface{}) error {
	m.Invoices.WithLabelValues("generated").Inc()
	if inv, ok := v.(*invoice.Invoice); ok {
		m.InvoiceTotal.WithLabelValues(inv.AmountDue.Currency).Observe(float64(inv.AmountDue.Amount))
	}
	return nil
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (m *MetricsExtension) OnInvoicePaid(_ context.Context, _ interface{}) error {
	m.Invoices.WithLabelValues("paid").Inc()
	return nil
}

// OnInvoiceFailed implements plugin.OnInvoiceFailed.
func (m *MetricsExtension) OnInvoiceFailed(_ context.Context, _ interface{}, _ error) error {
	m.Invoices.WithLabelValues("payment_failed").Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Webhook lifecycle hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, v interface{}) error {
	m.Webhooks.WithLabelValues("received", eventType(v)).Inc()
	return nil
}

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (m *MetricsExtension) OnWebhookProcessed(_ context.Context, v interface{}) error {
	outcome := "processed"
	if evt, ok := v.(*webhook.Event); ok && evt.Duplicate {
		outcome = "duplicate"
	}
	m.Webhooks.WithLabelValues(outcome, eventType(v)).Inc()
	return nil
}

// OnWebhookRejected implements plugin.OnWebhookRejected.
func (m *MetricsExtension) OnWebhookRejected(_ context.Context, v interface{}, _ error) error {
	m.Webhooks.WithLabelValues("rejected", eventType(v)).Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Idempotency hooks
// ──────────────────────────────────────────────────

// OnIdempotentReplay implements plugin.OnIdempotentReplay.
func (m *MetricsExtension) OnIdempotentReplay(_ context.Context, _ string) error {
	m.IdempotentReplays.Inc()
	return nil
}
