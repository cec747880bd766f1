// Package storetest is a conformance suite shared by every store.Store
// implementation. Each store package runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/store"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/types"
	"github.com/xraph/payledger/webhook"
)

// Factory returns a fresh, migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// EventLogFactory returns a fresh, empty event log store.
type EventLogFactory func(t *testing.T) eventlog.Store

var base = types.Normalize(time.Date(2026, 3, 1, 9, 30, 0, 123_000_000, time.UTC))

// Run executes the full conformance suite.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	open := func(t *testing.T) store.Store {
		t.Helper()
		s := factory(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("Charges", func(t *testing.T) { testCharges(t, open) })
	t.Run("Refunds", func(t *testing.T) { testRefunds(t, open) })
	t.Run("ConcurrentSaveCharge", func(t *testing.T) { testConcurrentSaveCharge(t, open) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, open) })
	t.Run("Invoices", func(t *testing.T) { testInvoices(t, open) })
	t.Run("Webhooks", func(t *testing.T) { testWebhooks(t, open) })
	t.Run("EventLog", func(t *testing.T) {
		RunEventLog(t, func(t *testing.T) eventlog.Store { return open(t) })
	})
}

// RunEventLog executes the event log part of the suite on its own, for
// stores that only implement eventlog.Store.
func RunEventLog(t *testing.T, factory EventLogFactory) {
	t.Helper()

	t.Run("Records", func(t *testing.T) { testRecords(t, factory(t)) })
	t.Run("Entries", func(t *testing.T) { testEntries(t, factory(t)) })
}

func newCharge(customer, key string, created time.Time) *charge.Charge {
	return &charge.Charge{
		Entity:             types.NewEntityAt(created),
		ID:                 id.NewChargeID(),
		CustomerID:         customer,
		Amount:             5000,
		Currency:           "USD",
		PaymentMethodToken: "tok_ok",
		Status:             charge.StatusPending,
		IdempotencyKey:     key,
	}
}

func newRefund(c *charge.Charge, key string, amount int64, created time.Time) *charge.Refund {
	return &charge.Refund{
		Entity:         types.NewEntityAt(created),
		ID:             id.NewRefundID(),
		ChargeID:       c.ID,
		Amount:         amount,
		Status:         charge.RefundPending,
		IdempotencyKey: key,
	}
}

func newSubscription(customer string, created time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:             types.NewEntityAt(created),
		ID:                 id.NewSubscriptionID(),
		CustomerID:         customer,
		PlanID:             "pro-monthly",
		Status:             subscription.StatusActive,
		CurrentPeriodStart: types.Normalize(created),
		CurrentPeriodEnd:   types.Normalize(created.AddDate(0, 1, 0)),
	}
}

func newInvoice(sub *subscription.Subscription, start time.Time) *invoice.Invoice {
	start = types.Normalize(start)
	return &invoice.Invoice{
		Entity:             types.NewEntityAt(start),
		ID:                 id.NewInvoiceID(),
		SubscriptionID:     sub.ID,
		AmountDue:          types.USD(2900),
		Status:             invoice.StatusOpen,
		BillingPeriodStart: start,
		BillingPeriodEnd:   start.AddDate(0, 1, 0),
	}
}

func assertCharge(t *testing.T, want, got *charge.Charge) {
	t.Helper()
	assert.Equal(t, want.ID.String(), got.ID.String())
	assert.Equal(t, want.CustomerID, got.CustomerID)
	assert.Equal(t, want.Amount, got.Amount)
	assert.Equal(t, want.Currency, got.Currency)
	assert.Equal(t, want.PaymentMethodToken, got.PaymentMethodToken)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.IdempotencyKey, got.IdempotencyKey)
	assert.Equal(t, want.Version, got.Version)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
}

func testCharges(t *testing.T, open func(*testing.T) store.Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := open(t)
		c := newCharge("cus_1", "key-1", base)
		require.NoError(t, s.CreateCharge(ctx, c))

		got, err := s.GetCharge(ctx, c.ID)
		require.NoError(t, err)
		assertCharge(t, c, got)

		byKey, err := s.GetChargeByIdempotencyKey(ctx, "key-1")
		require.NoError(t, err)
		assert.Equal(t, c.ID.String(), byKey.ID.String())
	})

	t.Run("returned charges are copies", func(t *testing.T) {
		s := open(t)
		c := newCharge("cus_1", "key-copy", base)
		require.NoError(t, s.CreateCharge(ctx, c))

		got, err := s.GetCharge(ctx, c.ID)
		require.NoError(t, err)
		got.Status = charge.StatusFailed

		again, err := s.GetCharge(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, charge.StatusPending, again.Status)
	})

	t.Run("duplicate id or key", func(t *testing.T) {
		s := open(t)
		c := newCharge("cus_1", "key-dup", base)
		require.NoError(t, s.CreateCharge(ctx, c))

		err := s.CreateCharge(ctx, c)
		require.ErrorIs(t, err, payledger.ErrAlreadyExists)

		other := newCharge("cus_2", "key-dup", base)
		err = s.CreateCharge(ctx, other)
		require.ErrorIs(t, err, payledger.ErrAlreadyExists)
	})

	t.Run("not found", func(t *testing.T) {
		s := open(t)
		_, err := s.GetCharge(ctx, id.NewChargeID())
		require.ErrorIs(t, err, payledger.ErrChargeNotFound)

		_, err = s.GetChargeByIdempotencyKey(ctx, "missing")
		require.ErrorIs(t, err, payledger.ErrChargeNotFound)

		err = s.SaveCharge(ctx, newCharge("cus_1", "k", base), 0)
		require.ErrorIs(t, err, payledger.ErrChargeNotFound)
	})

	t.Run("save checks version", func(t *testing.T) {
		s := open(t)
		c := newCharge("cus_1", "key-v", base)
		require.NoError(t, s.CreateCharge(ctx, c))

		c.Status = charge.StatusSucceeded
		c.ProcessorRef = "pi_1"
		require.NoError(t, s.SaveCharge(ctx, c, 0))
		assert.Equal(t, int64(1), c.Version)

		stale := c.Clone()
		stale.Status = charge.StatusFailed
		err := s.SaveCharge(ctx, stale, 0)
		require.ErrorIs(t, err, payledger.ErrVersionConflict)

		got, err := s.GetCharge(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, charge.StatusSucceeded, got.Status)
		assert.Equal(t, "pi_1", got.ProcessorRef)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("list filters and order", func(t *testing.T) {
		s := open(t)
		first := newCharge("cus_a", "k1", base)
		second := newCharge("cus_b", "k2", base.Add(time.Second))
		third := newCharge("cus_a", "k3", base.Add(2*time.Second))
		for _, c := range []*charge.Charge{third, first, second} {
			require.NoError(t, s.CreateCharge(ctx, c))
		}

		all, err := s.ListCharges(ctx, charge.ListOpts{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, first.ID.String(), all[0].ID.String())
		assert.Equal(t, second.ID.String(), all[1].ID.String())
		assert.Equal(t, third.ID.String(), all[2].ID.String())

		byCustomer, err := s.ListCharges(ctx, charge.ListOpts{CustomerID: "cus_a"})
		require.NoError(t, err)
		require.Len(t, byCustomer, 2)

		before, err := s.ListCharges(ctx, charge.ListOpts{
			Status:        charge.StatusPending,
			CreatedBefore: base.Add(2 * time.Second),
			Limit:         1,
		})
		require.NoError(t, err)
		require.Len(t, before, 1)
		assert.Equal(t, first.ID.String(), before[0].ID.String())
	})
}

func testRefunds(t *testing.T, open func(*testing.T) store.Store) {
	ctx := context.Background()

	setup := func(t *testing.T) (store.Store, *charge.Charge) {
		s := open(t)
		c := newCharge("cus_1", "charge-key", base)
		c.Status = charge.StatusSucceeded
		require.NoError(t, s.CreateCharge(ctx, c))
		return s, c
	}

	t.Run("saved with charge", func(t *testing.T) {
		s, c := setup(t)
		r := newRefund(c, "refund-1", 1000, base.Add(time.Minute))
		c.AmountReserved = 1000
		require.NoError(t, s.SaveCharge(ctx, c, 0, r))

		got, err := s.GetRefund(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.ChargeID.String(), got.ChargeID.String())
		assert.Equal(t, r.Amount, got.Amount)
		assert.Equal(t, charge.RefundPending, got.Status)
		assert.False(t, got.External)
		assert.True(t, r.CreatedAt.Equal(got.CreatedAt))

		byKey, err := s.GetRefundByIdempotencyKey(ctx, "refund-1")
		require.NoError(t, err)
		assert.Equal(t, r.ID.String(), byKey.ID.String())

		// Upsert by ID.
		r.Status = charge.RefundSucceeded
		r.ProcessorRef = "rf_1"
		c.Settle(1000)
		require.NoError(t, s.SaveCharge(ctx, c, 1, r))

		got, err = s.GetRefund(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, charge.RefundSucceeded, got.Status)
		assert.Equal(t, "rf_1", got.ProcessorRef)

		stored, err := s.GetCharge(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), stored.AmountRefunded)
		assert.Equal(t, int64(0), stored.AmountReserved)
	})

	t.Run("version conflict writes no refund", func(t *testing.T) {
		s, c := setup(t)
		r := newRefund(c, "refund-x", 1000, base)
		err := s.SaveCharge(ctx, c, 7, r)
		require.ErrorIs(t, err, payledger.ErrVersionConflict)

		_, err = s.GetRefund(ctx, r.ID)
		require.ErrorIs(t, err, payledger.ErrRefundNotFound)
	})

	t.Run("duplicate refund key is atomic", func(t *testing.T) {
		s, c := setup(t)
		require.NoError(t, s.SaveCharge(ctx, c, 0, newRefund(c, "same", 100, base)))

		c.AmountReserved = 200
		err := s.SaveCharge(ctx, c, 1, newRefund(c, "same", 100, base))
		require.ErrorIs(t, err, payledger.ErrAlreadyExists)

		got, err := s.GetCharge(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, int64(0), got.AmountReserved)

		refunds, err := s.ListRefunds(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, refunds, 1)
	})

	t.Run("list and pending", func(t *testing.T) {
		s, c := setup(t)
		r1 := newRefund(c, "r1", 100, base.Add(time.Second))
		r2 := newRefund(c, "r2", 200, base.Add(2*time.Second))
		r3 := newRefund(c, "r3", 300, base.Add(3*time.Second))
		r2.Status = charge.RefundSucceeded
		require.NoError(t, s.SaveCharge(ctx, c, 0, r3, r1, r2))

		refunds, err := s.ListRefunds(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, refunds, 3)
		assert.Equal(t, r1.ID.String(), refunds[0].ID.String())
		assert.Equal(t, r2.ID.String(), refunds[1].ID.String())
		assert.Equal(t, r3.ID.String(), refunds[2].ID.String())

		pending, err := s.ListPendingRefunds(ctx, base.Add(3*time.Second), 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, r1.ID.String(), pending[0].ID.String())

		none, err := s.ListRefunds(ctx, id.NewChargeID())
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("refund not found", func(t *testing.T) {
		s, _ := setup(t)
		_, err := s.GetRefund(ctx, id.NewRefundID())
		require.ErrorIs(t, err, payledger.ErrRefundNotFound)
		_, err = s.GetRefundByIdempotencyKey(ctx, "nope")
		require.ErrorIs(t, err, payledger.ErrRefundNotFound)
	})
}

func testConcurrentSaveCharge(t *testing.T, open func(*testing.T) store.Store) {
	ctx := context.Background()
	s := open(t)
	c := newCharge("cus_1", "race", base)
	c.Status = charge.StatusSucceeded
	require.NoError(t, s.CreateCharge(ctx, c))

	const writers = 8
	results := make([]error, writers)
	var g errgroup.Group
	for i := range writers {
		g.Go(func() error {
			mine := c.Clone()
			mine.AmountReserved = int64(i + 1)
			results[i] = s.SaveCharge(ctx, mine, 0, newRefund(mine, "race-"+string(rune('a'+i)), 1, base))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, payledger.ErrVersionConflict)
	}
	assert.Equal(t, 1, wins)

	refunds, err := s.ListRefunds(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, refunds, 1)
}

func testSubscriptions(t *testing.T, open func(*testing.T) store.Store) {
	ctx := context.Background()

	t.Run("create get save", func(t *testing.T) {
		s := open(t)
		sub := newSubscription("cus_1", base)
		require.NoError(t, s.CreateSubscription(ctx, sub))
		require.ErrorIs(t, s.CreateSubscription(ctx, sub), payledger.ErrAlreadyExists)

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.CustomerID, got.CustomerID)
		assert.Equal(t, sub.PlanID, got.PlanID)
		assert.Equal(t, subscription.StatusActive, got.Status)
		assert.True(t, sub.CurrentPeriodEnd.Equal(got.CurrentPeriodEnd))
		assert.Nil(t, got.PastDueSince)
		assert.Nil(t, got.CanceledAt)

		since := base.Add(time.Hour)
		sub.Status = subscription.StatusPastDue
		sub.PastDueSince = &since
		require.NoError(t, s.SaveSubscription(ctx, sub, 0))
		assert.Equal(t, int64(1), sub.Version)

		got, err = s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		require.NotNil(t, got.PastDueSince)
		assert.True(t, since.Equal(*got.PastDueSince))

		require.ErrorIs(t, s.SaveSubscription(ctx, sub, 0), payledger.ErrVersionConflict)
	})

	t.Run("not found", func(t *testing.T) {
		s := open(t)
		_, err := s.GetSubscription(ctx, id.NewSubscriptionID())
		require.ErrorIs(t, err, payledger.ErrSubscriptionNotFound)

		err = s.SaveSubscription(ctx, newSubscription("cus_1", base), 0)
		require.ErrorIs(t, err, payledger.ErrSubscriptionNotFound)
	})

	t.Run("list past due", func(t *testing.T) {
		s := open(t)
		early := base.Add(-48 * time.Hour)
		late := base.Add(-time.Hour)

		a := newSubscription("cus_a", base)
		a.Status = subscription.StatusPastDue
		a.PastDueSince = &early
		b := newSubscription("cus_b", base.Add(time.Second))
		b.Status = subscription.StatusPastDue
		b.PastDueSince = &late
		c := newSubscription("cus_a", base.Add(2*time.Second))
		for _, sub := range []*subscription.Subscription{a, b, c} {
			require.NoError(t, s.CreateSubscription(ctx, sub))
		}

		due, err := s.ListSubscriptions(ctx, subscription.ListOpts{
			Status:        subscription.StatusPastDue,
			PastDueBefore: base.Add(-24 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, a.ID.String(), due[0].ID.String())

		mine, err := s.ListSubscriptions(ctx, subscription.ListOpts{CustomerID: "cus_a"})
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, a.ID.String(), mine[0].ID.String())
		assert.Equal(t, c.ID.String(), mine[1].ID.String())
	})
}

func testInvoices(t *testing.T, open func(*testing.T) store.Store) {
	ctx := context.Background()

	setup := func(t *testing.T) (store.Store, *subscription.Subscription) {
		s := open(t)
		sub := newSubscription("cus_1", base)
		require.NoError(t, s.CreateSubscription(ctx, sub))
		return s, sub
	}

	t.Run("saved with subscription", func(t *testing.T) {
		s, sub := setup(t)
		inv := newInvoice(sub, sub.CurrentPeriodStart)
		require.NoError(t, s.SaveSubscription(ctx, sub, 0, inv))

		got, err := s.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, inv.ID.String(), got.ID.String())
		assert.Equal(t, types.USD(2900), got.AmountDue)
		assert.True(t, inv.BillingPeriodStart.Equal(got.BillingPeriodStart))

		byPeriod, err := s.GetInvoiceByPeriod(ctx, sub.ID, sub.CurrentPeriodStart)
		require.NoError(t, err)
		assert.Equal(t, inv.ID.String(), byPeriod.ID.String())

		paidAt := base.Add(time.Hour)
		inv.Status = invoice.StatusPaid
		inv.PaidAt = &paidAt
		inv.PaymentRef = "pi_9"
		require.NoError(t, s.SaveSubscription(ctx, sub, 1, inv))

		got, err = s.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPaid, got.Status)
		assert.Equal(t, "pi_9", got.PaymentRef)
		require.NotNil(t, got.PaidAt)
		assert.True(t, paidAt.Equal(*got.PaidAt))
	})

	t.Run("one invoice per period", func(t *testing.T) {
		s, sub := setup(t)
		require.NoError(t, s.SaveSubscription(ctx, sub, 0, newInvoice(sub, sub.CurrentPeriodStart)))

		err := s.SaveSubscription(ctx, sub, 1, newInvoice(sub, sub.CurrentPeriodStart))
		require.ErrorIs(t, err, payledger.ErrAlreadyExists)

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("list in period order", func(t *testing.T) {
		s, sub := setup(t)
		second := newInvoice(sub, base.AddDate(0, 1, 0))
		first := newInvoice(sub, base)
		require.NoError(t, s.SaveSubscription(ctx, sub, 0, second, first))

		invs, err := s.ListInvoices(ctx, sub.ID)
		require.NoError(t, err)
		require.Len(t, invs, 2)
		assert.Equal(t, first.ID.String(), invs[0].ID.String())
		assert.Equal(t, second.ID.String(), invs[1].ID.String())
	})

	t.Run("not found", func(t *testing.T) {
		s, sub := setup(t)
		_, err := s.GetInvoice(ctx, id.NewInvoiceID())
		require.ErrorIs(t, err, payledger.ErrInvoiceNotFound)
		_, err = s.GetInvoiceByPeriod(ctx, sub.ID, base.Add(time.Hour))
		require.ErrorIs(t, err, payledger.ErrInvoiceNotFound)
	})
}

func testWebhooks(t *testing.T, open func(*testing.T) store.Store) {
	ctx := context.Background()
	s := open(t)

	newDelivery := func(received time.Time) *webhook.Event {
		return &webhook.Event{
			ID:         id.NewDeliveryID(),
			EventID:    "evt_1",
			Type:       webhook.TypeChargeSucceeded,
			Payload:    json.RawMessage(`{"id":"evt_1"}`),
			ReceivedAt: types.Normalize(received),
			Status:     webhook.StatusReceived,
		}
	}

	first := newDelivery(base)
	second := newDelivery(base.Add(time.Second))
	require.NoError(t, s.CreateWebhookEvent(ctx, second))
	require.NoError(t, s.CreateWebhookEvent(ctx, first))
	require.ErrorIs(t, s.CreateWebhookEvent(ctx, first), payledger.ErrAlreadyExists)

	got, err := s.GetWebhookEvent(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusReceived, got.Status)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(got.Payload))

	processed := base.Add(2 * time.Second)
	first.Status = webhook.StatusProcessed
	first.ProcessedAt = &processed
	require.NoError(t, s.FinishWebhookEvent(ctx, first))

	first.Status = webhook.StatusRejected
	require.ErrorIs(t, s.FinishWebhookEvent(ctx, first), payledger.ErrVersionConflict)

	missing := newDelivery(base)
	missing.Status = webhook.StatusProcessed
	require.ErrorIs(t, s.FinishWebhookEvent(ctx, missing), payledger.ErrNotFound)

	_, err = s.GetWebhookEvent(ctx, id.NewDeliveryID())
	require.ErrorIs(t, err, payledger.ErrNotFound)

	list, err := s.ListWebhookEvents(ctx, "evt_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID.String(), list[0].ID.String())
	assert.Equal(t, webhook.StatusProcessed, list[0].Status)
	assert.Equal(t, second.ID.String(), list[1].ID.String())
}

func testRecords(t *testing.T, s eventlog.Store) {
	ctx := context.Background()

	r := &eventlog.Record{
		Key:            "charge:k1",
		Action:         "charge.create",
		Fingerprint:    eventlog.NewFingerprint("charge.create", "5000", "USD"),
		State:          eventlog.StatePending,
		LeaseExpiresAt: base.Add(time.Minute),
		Attempts:       1,
		FirstSeenAt:    base,
	}
	require.NoError(t, s.InsertRecord(ctx, r))
	require.ErrorIs(t, s.InsertRecord(ctx, r.Clone()), payledger.ErrAlreadyExists)

	got, err := s.GetRecord(ctx, r.Key)
	require.NoError(t, err)
	assert.Equal(t, r.Fingerprint, got.Fingerprint)
	assert.Equal(t, eventlog.StatePending, got.State)
	assert.True(t, r.LeaseExpiresAt.Equal(got.LeaseExpiresAt))
	assert.Nil(t, got.CompletedAt)

	done := base.Add(time.Second)
	got.State = eventlog.StateCompleted
	got.EntityID = "ch_123"
	got.Result = json.RawMessage(`{"status":"succeeded"}`)
	got.CompletedAt = &done
	require.NoError(t, s.SaveRecord(ctx, got, 0))
	assert.Equal(t, int64(1), got.Version)

	stale := r.Clone()
	stale.State = eventlog.StateCompleted
	require.ErrorIs(t, s.SaveRecord(ctx, stale, 0), payledger.ErrVersionConflict)

	final, err := s.GetRecord(ctx, r.Key)
	require.NoError(t, err)
	assert.Equal(t, eventlog.StateCompleted, final.State)
	assert.Equal(t, "ch_123", final.EntityID)
	assert.JSONEq(t, `{"status":"succeeded"}`, string(final.Result))
	require.NotNil(t, final.CompletedAt)
	assert.True(t, done.Equal(*final.CompletedAt))

	_, err = s.GetRecord(ctx, "missing")
	require.ErrorIs(t, err, payledger.ErrNotFound)
}

func testEntries(t *testing.T, s eventlog.Store) {
	ctx := context.Background()

	actions := []string{"charge.created", "charge.succeeded", "charge.refunded"}
	for i, action := range actions {
		require.NoError(t, s.AppendEntry(ctx, &eventlog.Entry{
			ID:         id.NewEntryID(),
			Action:     action,
			EntityType: "charge",
			EntityID:   "ch_1",
			Detail:     map[string]string{"step": action},
			RecordedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.AppendEntry(ctx, &eventlog.Entry{
		ID:         id.NewEntryID(),
		Action:     "charge.created",
		EntityType: "charge",
		EntityID:   "ch_2",
		RecordedAt: base,
	}))

	entries, err := s.ListEntries(ctx, "ch_1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, actions[i], e.Action)
		assert.Equal(t, actions[i], e.Detail["step"])
	}

	limited, err := s.ListEntries(ctx, "ch_1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, actions[0], limited[0].Action)

	none, err := s.ListEntries(ctx, "ch_missing", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
