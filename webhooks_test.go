package payledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/processor"
	"github.com/xraph/payledger/processor/sandbox"
	"github.com/xraph/payledger/store"
	"github.com/xraph/payledger/store/memory"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/webhook"
)

func eventBody(t *testing.T, eventID, eventType string, object any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

// deliver signs body with the test secret at wall-clock time, as the
// provider would.
func deliver(t *testing.T, h *harness, body []byte) (*payledger.WebhookResult, error) {
	t.Helper()
	return h.ledger.ReceiveWebhook(t.Context(), body, webhook.Sign(body, testSecret, time.Now()), "")
}

func pendingCharge(t *testing.T, h *harness, key string) *charge.Charge {
	t.Helper()
	params := chargeParams(key)
	params.PaymentMethodToken = sandbox.TokenUnavailable
	_, err := h.ledger.CreateCharge(t.Context(), params)
	require.ErrorIs(t, err, payledger.ErrProcessorUnavailable)

	charges, err := h.ledger.ListCharges(t.Context(), charge.ListOpts{CustomerID: "cus_1", Status: charge.StatusPending})
	require.NoError(t, err)
	for _, ch := range charges {
		if ch.IdempotencyKey == key {
			return ch
		}
	}
	t.Fatalf("no pending charge for %s", key)
	return nil
}

func countActions(actions []string, action string) int {
	n := 0
	for _, a := range actions {
		if a == action {
			n++
		}
	}
	return n
}

func TestWebhookChargeSucceededDeduplicated(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	ch := pendingCharge(t, h, "order-1")

	body := eventBody(t, "evt_1", webhook.TypeChargeSucceeded, map[string]any{
		"charge_id":     ch.ID.String(),
		"processor_ref": "pi_ext_1",
	})

	res, err := deliver(t, h, body)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, res.Status)
	assert.Equal(t, payledger.ClassOK, res.Class)
	assert.False(t, res.Duplicate)

	h.clock.Advance(time.Second)
	res, err = deliver(t, h, body)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, res.Status)
	assert.True(t, res.Duplicate)

	ch, err = h.ledger.GetCharge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusSucceeded, ch.Status)
	assert.Equal(t, "pi_ext_1", ch.ProcessorRef)
	assert.Equal(t, 1, countActions(historyActions(t, h, ch.ID.String()), "charge.succeeded"))

	deliveries, err := h.ledger.ListWebhookDeliveries(ctx, "evt_1")
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.False(t, deliveries[0].Duplicate)
	assert.True(t, deliveries[1].Duplicate)
	for _, d := range deliveries {
		assert.Equal(t, webhook.StatusProcessed, d.Status)
		assert.NotNil(t, d.ProcessedAt)
	}
}

func TestWebhookSignatureRejected(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	ch := pendingCharge(t, h, "order-1")

	body := eventBody(t, "evt_1", webhook.TypeChargeSucceeded, map[string]any{"charge_id": ch.ID.String()})

	res, err := h.ledger.ReceiveWebhook(ctx, body, webhook.Sign(body, "whsec_other", time.Now()), "evt_1")
	require.ErrorIs(t, err, payledger.ErrInvalidSignature)
	assert.Nil(t, res)
	assert.Equal(t, payledger.KindSecurity, payledger.KindOf(err))

	res, err = h.ledger.ReceiveWebhook(ctx, body, "", "evt_1")
	require.ErrorIs(t, err, payledger.ErrMissingSignature)
	assert.Nil(t, res)

	stale := webhook.Sign(body, testSecret, time.Now().Add(-time.Hour))
	_, err = h.ledger.ReceiveWebhook(ctx, body, stale, "evt_1")
	require.ErrorIs(t, err, payledger.ErrInvalidSignature)

	deliveries, err := h.ledger.ListWebhookDeliveries(ctx, "evt_1")
	require.NoError(t, err)
	assert.Empty(t, deliveries)

	ch, err = h.ledger.GetCharge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPending, ch.Status)
	assert.Equal(t, 3, countActions(historyActions(t, h, "evt_1"), "webhook.rejected"))
}

func TestWebhookMalformed(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		body    []byte
		claimed string
	}{
		{"not json", []byte("{"), ""},
		{"missing id", []byte(`{"type":"charge.succeeded","data":{"object":{}}}`), ""},
		{"missing reference", []byte(`{"id":"evt_2","type":"charge.succeeded","data":{"object":{}}}`), ""},
		{"claimed id mismatch", eventBody(t, "evt_3", webhook.TypeChargeFailed, map[string]any{"charge_id": "ch_x"}), "evt_other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.ledger.ReceiveWebhook(t.Context(), tt.body, webhook.Sign(tt.body, testSecret, time.Now()), tt.claimed)
			require.ErrorIs(t, err, payledger.ErrMalformedPayload)
			assert.Nil(t, res)
			assert.Equal(t, payledger.ClassClientError, payledger.ClassOf(err))
		})
	}
}

func TestWebhookUnsupportedType(t *testing.T) {
	h := newHarness(t)

	body := eventBody(t, "evt_1", "customer.updated", map[string]any{"id": "cus_1"})

	res, err := deliver(t, h, body)
	require.ErrorIs(t, err, payledger.ErrUnsupportedEventType)
	require.NotNil(t, res)
	assert.Equal(t, webhook.StatusRejected, res.Status)
	assert.Equal(t, payledger.ClassClientError, res.Class)

	res, err = deliver(t, h, body)
	require.ErrorIs(t, err, payledger.ErrUnsupportedEventType)
	assert.True(t, res.Duplicate)
	assert.Equal(t, payledger.ClassClientError, res.Class)
}

func TestWebhookContradictingVerdict(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	ch, err := h.ledger.CreateCharge(ctx, chargeParams("order-1"))
	require.NoError(t, err)

	body := eventBody(t, "evt_1", webhook.TypeChargeFailed, map[string]any{
		"charge_id": ch.ID.String(),
		"reason":    "fraud",
	})
	res, err := deliver(t, h, body)
	require.ErrorIs(t, err, payledger.ErrInvalidTransition)
	assert.Equal(t, webhook.StatusRejected, res.Status)

	res, err = deliver(t, h, body)
	require.ErrorIs(t, err, payledger.ErrInvalidTransition)
	assert.True(t, res.Duplicate)

	ch, err = h.ledger.GetCharge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusSucceeded, ch.Status)
}

func TestWebhookProviderRefund(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	ch, err := h.ledger.CreateCharge(ctx, chargeParams("order-1"))
	require.NoError(t, err)

	refunded := map[string]any{
		"charge_id":     ch.ID.String(),
		"amount":        300,
		"processor_ref": "re_ext_1",
	}
	_, err = deliver(t, h, eventBody(t, "evt_1", webhook.TypeChargeRefunded, refunded))
	require.NoError(t, err)

	// The provider re-sends the same refund under a new event id.
	_, err = deliver(t, h, eventBody(t, "evt_2", webhook.TypeChargeRefunded, refunded))
	require.NoError(t, err)

	ch, err = h.ledger.GetCharge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPartiallyRefunded, ch.Status)
	assert.Equal(t, int64(300), ch.AmountRefunded)

	refunds, err := h.ledger.ListRefunds(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.True(t, refunds[0].External)
	assert.Equal(t, "re_ext_1", refunds[0].ProcessorRef)
	assert.Zero(t, h.processor.RefundCalls())

	_, err = deliver(t, h, eventBody(t, "evt_3", webhook.TypeChargeRefunded, map[string]any{
		"charge_id":     ch.ID.String(),
		"amount":        5000,
		"processor_ref": "re_ext_2",
	}))
	require.ErrorIs(t, err, payledger.ErrInvalidRefundAmount)

	res, err := deliver(t, h, eventBody(t, "evt_4", webhook.TypeChargeRefunded, map[string]any{
		"charge_id":     ch.ID.String(),
		"processor_ref": "re_ext_3",
	}))
	require.ErrorIs(t, err, payledger.ErrInvalidInput)
	assert.Equal(t, payledger.ClassClientError, res.Class)

	ch, err = h.ledger.GetCharge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), ch.AmountRefunded)
	assert.Zero(t, ch.AmountReserved)
}

// gatedRefunds settles refunds in the sandbox, reports the verdict on
// settled and then holds the response until release is closed.
type gatedRefunds struct {
	*sandbox.Processor
	settled chan processor.Decision
	release chan struct{}
}

func (g *gatedRefunds) SettleRefund(ctx context.Context, req processor.RefundRequest) (processor.Decision, error) {
	d, err := g.Processor.SettleRefund(ctx, req)
	g.settled <- d
	<-g.release
	return d, err
}

func TestWebhookProviderRefundWhileOwnRefundSettles(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	ch, err := h.ledger.CreateCharge(ctx, chargeParams("order-1"))
	require.NoError(t, err)

	gated := &gatedRefunds{
		Processor: h.processor,
		settled:   make(chan processor.Decision, 1),
		release:   make(chan struct{}),
	}
	release := sync.OnceFunc(func() { close(gated.release) })
	t.Cleanup(release)
	h.useProcessor(gated)

	var (
		g   errgroup.Group
		own *charge.Refund
	)
	g.Go(func() error {
		r, err := h.ledger.RefundCharge(ctx, payledger.RefundChargeParams{
			ChargeID:       ch.ID,
			Amount:         400,
			IdempotencyKey: "refund-1",
		})
		own = r
		return err
	})
	settled := <-gated.settled

	// The provider reports our refund before we have recorded its reference.
	body := eventBody(t, "evt_1", webhook.TypeChargeRefunded, map[string]any{
		"charge_id":     ch.ID.String(),
		"amount":        400,
		"processor_ref": settled.Reference,
	})
	res, err := deliver(t, h, body)
	require.ErrorIs(t, err, payledger.ErrIdempotencyInFlight)
	assert.Equal(t, payledger.ClassServerError, res.Class)

	release()
	require.NoError(t, g.Wait())

	h.clock.Advance(time.Second)
	res, err = deliver(t, h, body)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, res.Status)

	ch, err = h.ledger.GetCharge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPartiallyRefunded, ch.Status)
	assert.Equal(t, int64(400), ch.AmountRefunded)
	assert.Zero(t, ch.AmountReserved)

	refunds, err := h.ledger.ListRefunds(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, own.ID.String(), refunds[0].ID.String())
	assert.Equal(t, settled.Reference, refunds[0].ProcessorRef)
	assert.False(t, refunds[0].External)
	// One authorization and one refund moved money.
	assert.Equal(t, int64(2), h.processor.Executions())
}

func TestWebhookInvoiceLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	sub := subscribe(t, h, planMonthly.ID)

	inv, err := h.ledger.GenerateInvoice(ctx, sub.ID)
	require.NoError(t, err)

	_, err = deliver(t, h, eventBody(t, "evt_1", webhook.TypeInvoicePaymentFailed, map[string]any{
		"invoice_id": inv.ID.String(),
		"reason":     "card_expired",
	}))
	require.NoError(t, err)

	sub, err = h.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, sub.Status)

	_, err = deliver(t, h, eventBody(t, "evt_2", webhook.TypeInvoicePaid, map[string]any{
		"invoice_id":  inv.ID.String(),
		"payment_ref": "pay_1",
	}))
	require.NoError(t, err)

	inv, err = h.ledger.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, inv.Status)
	assert.Equal(t, 2, inv.PaymentAttempts)

	sub, err = h.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
}

func TestWebhookSubscriptionRenewedAndCanceled(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	sub := subscribe(t, h, planMonthly.ID)

	renewed := eventBody(t, "evt_1", webhook.TypeSubscriptionRenewed, map[string]any{
		"subscription_id": sub.ID.String(),
		"payment_ref":     "pay_1",
		"amount":          map[string]any{"amount": 3000, "currency": "USD"},
	})
	_, err := deliver(t, h, renewed)
	require.NoError(t, err)
	_, err = deliver(t, h, renewed)
	require.NoError(t, err)

	invoices, err := h.ledger.ListInvoices(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoice.StatusPaid, invoices[0].Status)

	canceled := eventBody(t, "evt_2", webhook.TypeSubscriptionCanceled, map[string]any{"subscription_id": sub.ID.String()})
	_, err = deliver(t, h, canceled)
	require.NoError(t, err)

	// Canceling an already canceled subscription is not an error for the provider.
	_, err = deliver(t, h, eventBody(t, "evt_3", webhook.TypeSubscriptionCanceled, map[string]any{"subscription_id": sub.ID.String()}))
	require.NoError(t, err)

	sub, err = h.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, sub.Status)
}

// flakyStore fails the next N charge writes.
type flakyStore struct {
	*memory.Store
	failures atomic.Int32
}

func (f *flakyStore) SaveCharge(ctx context.Context, c *charge.Charge, expected int64, refunds ...*charge.Refund) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("disk unavailable")
	}
	return f.Store.SaveCharge(ctx, c, expected, refunds...)
}

func TestWebhookServerErrorIsRedelivered(t *testing.T) {
	var flaky *flakyStore
	h := newHarnessWith(t, func(s *memory.Store) store.Store {
		flaky = &flakyStore{Store: s}
		return flaky
	})
	ctx := t.Context()
	ch := pendingCharge(t, h, "order-1")

	body := eventBody(t, "evt_1", webhook.TypeChargeSucceeded, map[string]any{"charge_id": ch.ID.String()})

	flaky.failures.Store(1)
	res, err := deliver(t, h, body)
	require.Error(t, err)
	assert.Equal(t, payledger.ClassServerError, res.Class)
	assert.Equal(t, webhook.StatusRejected, res.Status)

	h.clock.Advance(time.Second)
	res, err = deliver(t, h, body)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, webhook.StatusProcessed, res.Status)

	ch, err = h.ledger.GetCharge(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusSucceeded, ch.Status)

	deliveries, err := h.ledger.ListWebhookDeliveries(ctx, "evt_1")
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, webhook.StatusRejected, deliveries[0].Status)
	assert.Equal(t, webhook.StatusProcessed, deliveries[1].Status)
}

// paymentFailStore fails the next N subscription writes that mark an
// invoice paid.
type paymentFailStore struct {
	*memory.Store
	failures atomic.Int32
}

func (f *paymentFailStore) SaveSubscription(ctx context.Context, sub *subscription.Subscription, expected int64, invoices ...*invoice.Invoice) error {
	for _, inv := range invoices {
		if inv.Status == invoice.StatusPaid && f.failures.Add(-1) >= 0 {
			return errors.New("disk unavailable")
		}
	}
	return f.Store.SaveSubscription(ctx, sub, expected, invoices...)
}

func TestWebhookRenewalRedeliveredAfterPaymentWriteFails(t *testing.T) {
	var flaky *paymentFailStore
	h := newHarnessWith(t, func(s *memory.Store) store.Store {
		flaky = &paymentFailStore{Store: s}
		return flaky
	})
	ctx := t.Context()
	sub := subscribe(t, h, planDaily.ID)

	first, err := h.ledger.GenerateInvoice(ctx, sub.ID)
	require.NoError(t, err)

	// Two periods behind: each renewal advances one interval.
	h.clock.Advance(65 * 24 * time.Hour)
	body := eventBody(t, "evt_1", webhook.TypeSubscriptionRenewed, map[string]any{
		"subscription_id": sub.ID.String(),
		"payment_ref":     "pay_1",
	})

	flaky.failures.Store(1)
	res, err := deliver(t, h, body)
	require.Error(t, err)
	assert.Equal(t, payledger.ClassServerError, res.Class)

	h.clock.Advance(time.Second)
	res, err = deliver(t, h, body)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	invoices, err := h.ledger.ListInvoices(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, first.ID.String(), invoices[0].ID.String())
	assert.Equal(t, invoice.StatusOpen, invoices[0].Status)
	assert.Equal(t, invoice.StatusPaid, invoices[1].Status)
	assert.Equal(t, "pay_1", invoices[1].PaymentRef)
	assert.Equal(t, first.BillingPeriodEnd, invoices[1].BillingPeriodStart)

	h.clock.Advance(time.Second)
	res, err = deliver(t, h, body)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	invoices, err = h.ledger.ListInvoices(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, invoices, 2)
}
