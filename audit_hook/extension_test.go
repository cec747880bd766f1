package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audithook "github.com/xraph/payledger/audit_hook"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/types"
	"github.com/xraph/payledger/webhook"
)

type captured struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (c *captured) recorder() audithook.Recorder {
	return audithook.RecorderFunc(func(_ context.Context, e *audithook.AuditEvent) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, e)
		return nil
	})
}

func (c *captured) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Action
	}
	return out
}

func TestChargeEvents(t *testing.T) {
	var c captured
	ext := audithook.New(c.recorder())
	ctx := context.Background()

	ch := &charge.Charge{
		ID:           id.NewChargeID(),
		CustomerID:   "cus_1",
		Amount:       1000,
		Currency:     "USD",
		ProcessorRef: "ch_ref_1",
	}
	require.NoError(t, ext.OnChargeSucceeded(ctx, ch))
	require.NoError(t, ext.OnChargeRefunded(ctx, ch, &charge.Refund{ID: id.NewRefundID(), Amount: 250}))

	require.Len(t, c.events, 2)
	succeeded := c.events[0]
	assert.Equal(t, audithook.ActionChargeSucceeded, succeeded.Action)
	assert.Equal(t, audithook.ResourceCharge, succeeded.Resource)
	assert.Equal(t, ch.ID.String(), succeeded.ResourceID)
	assert.Equal(t, audithook.OutcomeSuccess, succeeded.Outcome)
	assert.Equal(t, "cus_1", succeeded.Metadata["customer_id"])
	assert.Equal(t, int64(1000), succeeded.Metadata["amount"])

	refunded := c.events[1]
	assert.Equal(t, audithook.ActionChargeRefunded, refunded.Action)
	assert.Equal(t, int64(250), refunded.Metadata["amount"])
	assert.Equal(t, false, refunded.Metadata["external"])
}

func TestFailureCarriesReason(t *testing.T) {
	var c captured
	ext := audithook.New(c.recorder())
	ctx := context.Background()

	inv := &invoice.Invoice{
		ID:              id.NewInvoiceID(),
		SubscriptionID:  id.NewSubscriptionID(),
		AmountDue:       types.USD(3000),
		PaymentAttempts: 2,
	}
	require.NoError(t, ext.OnInvoiceFailed(ctx, inv, errors.New("card expired")))

	evt := &webhook.Event{ID: id.NewDeliveryID(), EventID: "evt_1", Type: webhook.TypeChargeFailed}
	require.NoError(t, ext.OnWebhookRejected(ctx, evt, webhook.ErrInvalidSignature))

	require.Len(t, c.events, 2)
	assert.Equal(t, audithook.OutcomeFailure, c.events[0].Outcome)
	assert.Equal(t, audithook.SeverityError, c.events[0].Severity)
	assert.Equal(t, "card expired", c.events[0].Reason)
	assert.Equal(t, 2, c.events[0].Metadata["attempts"])

	assert.Equal(t, "evt_1", c.events[1].ResourceID)
	assert.Equal(t, webhook.ErrInvalidSignature.Error(), c.events[1].Reason)
}

func TestUnexpectedEntityIsIgnored(t *testing.T) {
	var c captured
	ext := audithook.New(c.recorder())

	require.NoError(t, ext.OnChargeSucceeded(context.Background(), "not a charge"))
	require.NoError(t, ext.OnSubscriptionCreated(context.Background(), 42))
	assert.Empty(t, c.events)
}

func TestEnabledActions(t *testing.T) {
	var c captured
	ext := audithook.New(c.recorder(),
		audithook.WithEnabledActions(audithook.ActionIdempotentReplay))
	ctx := context.Background()

	require.NoError(t, ext.OnChargeSucceeded(ctx, &charge.Charge{}))
	require.NoError(t, ext.OnIdempotentReplay(ctx, "order-1"))

	assert.Equal(t, []string{audithook.ActionIdempotentReplay}, c.actions())
}

func TestDisabledActions(t *testing.T) {
	var c captured
	ext := audithook.New(c.recorder(),
		audithook.WithDisabledActions(audithook.ActionWebhookReceived))
	ctx := context.Background()

	evt := &webhook.Event{ID: id.NewDeliveryID(), EventID: "evt_2", Type: webhook.TypeInvoicePaid}
	require.NoError(t, ext.OnWebhookReceived(ctx, evt))
	require.NoError(t, ext.OnWebhookProcessed(ctx, evt))

	assert.Equal(t, []string{audithook.ActionWebhookProcessed}, c.actions())
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	failing := audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	})
	ext := audithook.New(failing,
		audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	assert.NoError(t, ext.OnIdempotentReplay(context.Background(), "order-1"))
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ext := audithook.New(audithook.LogRecorder(logger))

	require.NoError(t, ext.OnChargeFailed(context.Background(), &charge.Charge{
		ID:            id.NewChargeID(),
		FailureReason: "insufficient_funds",
	}))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "action=charge.failed")
	assert.Contains(t, out, "insufficient_funds")
}
