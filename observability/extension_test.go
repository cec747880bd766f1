package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/observability"
	"github.com/xraph/payledger/processor/sandbox"
	"github.com/xraph/payledger/store/memory"
	"github.com/xraph/payledger/webhook"
)

func TestMetricsExtensionHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(reg)
	ctx := context.Background()

	ch := &charge.Charge{Amount: 1200, Currency: "USD", FailureReason: "Card Declined"}
	require.NoError(t, m.OnChargeSucceeded(ctx, ch))
	require.NoError(t, m.OnChargeFailed(ctx, ch))
	require.NoError(t, m.OnChargeRefunded(ctx, ch, &charge.Refund{Amount: 200}))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Charges.WithLabelValues("succeeded")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Charges.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1200, testutil.ToFloat64(m.ChargeAmount.WithLabelValues("USD")), 0)
	assert.InDelta(t, 200, testutil.ToFloat64(m.RefundedAmount.WithLabelValues("USD")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ChargeDeclines.WithLabelValues("card_declined")), 0)

	require.NoError(t, m.OnWebhookReceived(ctx, &webhook.Event{Type: "customer.updated"}))
	require.NoError(t, m.OnWebhookProcessed(ctx, &webhook.Event{Type: webhook.TypeInvoicePaid, Duplicate: true}))
	require.NoError(t, m.OnWebhookRejected(ctx, &webhook.Event{Type: webhook.TypeChargeFailed}, errors.New("boom")))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Webhooks.WithLabelValues("received", "other")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Webhooks.WithLabelValues("duplicate", webhook.TypeInvoicePaid)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Webhooks.WithLabelValues("rejected", webhook.TypeChargeFailed)), 0)

	n, err := testutil.GatherAndCount(reg, "payledger_charge_resolved_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetricsExtensionDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.NewMetricsExtension(reg)
	assert.Panics(t, func() { observability.NewMetricsExtension(reg) })
}

func TestMetricsExtensionWithLedger(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(reg)
	s := memory.New()
	t.Cleanup(func() { _ = s.Close() })

	l := payledger.New(s,
		payledger.WithProcessor(sandbox.New()),
		payledger.WithPlugin(m),
	)
	ctx := t.Context()

	params := payledger.CreateChargeParams{
		CustomerID:         "cus_1",
		Amount:             500,
		Currency:           "eur",
		PaymentMethodToken: sandbox.TokenOK,
		IdempotencyKey:     "order-1",
	}
	_, err := l.CreateCharge(ctx, params)
	require.NoError(t, err)
	_, err = l.CreateCharge(ctx, params)
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Charges.WithLabelValues("succeeded")), 0)
	assert.InDelta(t, 500, testutil.ToFloat64(m.ChargeAmount.WithLabelValues("EUR")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.IdempotentReplays), 0)
}
