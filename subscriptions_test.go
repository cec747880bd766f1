package payledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/types"
)

func subscribe(t *testing.T, h *harness, planID string) *subscription.Subscription {
	t.Helper()
	sub, err := h.ledger.CreateSubscription(t.Context(), payledger.CreateSubscriptionParams{
		CustomerID: "cus_1",
		PlanID:     planID,
	})
	require.NoError(t, err)
	return sub
}

func TestCreateSubscription(t *testing.T) {
	h := newHarness(t)

	sub := subscribe(t, h, planMonthly.ID)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, h.clock.Now(), sub.CurrentPeriodStart)
	assert.Equal(t, time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC), sub.CurrentPeriodEnd)

	stored, err := h.ledger.GetSubscription(t.Context(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID.String(), stored.ID.String())
	assert.Equal(t, []string{"subscription.created"}, historyActions(t, h, sub.ID.String()))
}

func TestCreateSubscriptionIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	params := payledger.CreateSubscriptionParams{CustomerID: "cus_1", PlanID: planMonthly.ID, IdempotencyKey: "signup-1"}
	first, err := h.ledger.CreateSubscription(ctx, params)
	require.NoError(t, err)
	second, err := h.ledger.CreateSubscription(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, first.ID.String(), second.ID.String())

	subs, err := h.store.ListSubscriptions(ctx, subscription.ListOpts{CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	params.PlanID = planDaily.ID
	_, err = h.ledger.CreateSubscription(ctx, params)
	require.ErrorIs(t, err, payledger.ErrIdempotencyConflict)
}

func TestCreateSubscriptionUnknownPlan(t *testing.T) {
	h := newHarness(t)

	_, err := h.ledger.CreateSubscription(t.Context(), payledger.CreateSubscriptionParams{CustomerID: "cus_1", PlanID: "enterprise"})
	require.ErrorIs(t, err, payledger.ErrPlanNotFound)
	assert.Equal(t, payledger.KindNotFound, payledger.KindOf(err))
}

func TestGenerateInvoiceOncePerPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	sub := subscribe(t, h, planMonthly.ID)

	const callers = 6
	ids := make([]string, callers)
	var g errgroup.Group
	for i := range callers {
		g.Go(func() error {
			inv, err := h.ledger.GenerateInvoice(ctx, sub.ID)
			if err != nil {
				return err
			}
			ids[i] = inv.ID.String()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, got := range ids {
		assert.Equal(t, ids[0], got)
	}

	invoices, err := h.ledger.ListInvoices(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoice.StatusOpen, invoices[0].Status)
	assert.True(t, invoices[0].AmountDue.Equal(types.USD(3000)))
	assert.Equal(t, sub.CurrentPeriodStart, invoices[0].BillingPeriodStart)
	assert.Equal(t, sub.CurrentPeriodEnd, invoices[0].BillingPeriodEnd)
}

func TestGenerateInvoiceAdvancesOnePeriod(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	sub := subscribe(t, h, planMonthly.ID)

	first, err := h.ledger.GenerateInvoice(ctx, sub.ID)
	require.NoError(t, err)

	// Still inside the first period: same invoice.
	h.clock.Advance(20 * 24 * time.Hour)
	again, err := h.ledger.GenerateInvoice(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID.String(), again.ID.String())

	// Three months later the subscription moves forward one interval per call.
	h.clock.Advance(70 * 24 * time.Hour)
	second, err := h.ledger.GenerateInvoice(ctx, sub.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID.String(), second.ID.String())
	assert.Equal(t, time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC), second.BillingPeriodStart)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC), second.BillingPeriodEnd)

	third, err := h.ledger.GenerateInvoice(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC), third.BillingPeriodStart)

	sub, err = h.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC), sub.CurrentPeriodEnd)

	invoices, err := h.ledger.ListInvoices(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 3)
	for i := 1; i < len(invoices); i++ {
		assert.Equal(t, invoices[i-1].BillingPeriodEnd, invoices[i].BillingPeriodStart)
	}
}

func TestCancelSubscriptionProration(t *testing.T) {
	tests := []struct {
		policy payledger.ProrationPolicy
		want   int64
	}{
		{payledger.ProrationNone, 3000},
		{payledger.ProrationOpenInvoice, 1000},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			h := newHarness(t, func(c *payledger.Config) { c.ProrationPolicy = tt.policy })
			ctx := t.Context()
			sub := subscribe(t, h, planDaily.ID)

			inv, err := h.ledger.GenerateInvoice(ctx, sub.ID)
			require.NoError(t, err)

			h.clock.Advance(10 * 24 * time.Hour)
			canceled, err := h.ledger.CancelSubscription(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, subscription.StatusCanceled, canceled.Status)
			require.NotNil(t, canceled.CanceledAt)

			inv, err = h.ledger.GetInvoice(ctx, inv.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, inv.AmountDue.Amount)
			assert.Equal(t, invoice.StatusOpen, inv.Status)

			_, err = h.ledger.CancelSubscription(ctx, sub.ID)
			require.ErrorIs(t, err, payledger.ErrAlreadyCanceled)

			_, err = h.ledger.GenerateInvoice(ctx, sub.ID)
			require.ErrorIs(t, err, payledger.ErrSubscriptionCanceled)
		})
	}
}

func TestPaidInvoiceIsNotProrated(t *testing.T) {
	h := newHarness(t, func(c *payledger.Config) { c.ProrationPolicy = payledger.ProrationOpenInvoice })
	ctx := t.Context()
	sub := subscribe(t, h, planDaily.ID)

	inv, err := h.ledger.RenewSubscription(ctx, sub.ID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, inv.Status)

	h.clock.Advance(10 * 24 * time.Hour)
	_, err = h.ledger.CancelSubscription(ctx, sub.ID)
	require.NoError(t, err)

	inv, err = h.ledger.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), inv.AmountDue.Amount)
}

func TestPayInvoice(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	sub := subscribe(t, h, planMonthly.ID)

	inv, err := h.ledger.GenerateInvoice(ctx, sub.ID)
	require.NoError(t, err)

	paid, err := h.ledger.PayInvoice(ctx, inv.ID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status)
	assert.Equal(t, "pay_1", paid.PaymentRef)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, 1, paid.PaymentAttempts)

	again, err := h.ledger.PayInvoice(ctx, inv.ID, "pay_2")
	require.NoError(t, err)
	assert.Equal(t, "pay_1", again.PaymentRef)

	_, err = h.ledger.FailInvoicePayment(ctx, inv.ID, "card_expired")
	require.ErrorIs(t, err, payledger.ErrInvalidTransition)
}

func TestPastDueAndRecovery(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	sub := subscribe(t, h, planMonthly.ID)

	inv, err := h.ledger.GenerateInvoice(ctx, sub.ID)
	require.NoError(t, err)

	failed, err := h.ledger.FailInvoicePayment(ctx, inv.ID, "card_expired")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusOpen, failed.Status)
	assert.Equal(t, 1, failed.PaymentAttempts)
	assert.Equal(t, "card_expired", failed.LastPaymentError)

	sub, err = h.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, sub.Status)
	require.NotNil(t, sub.PastDueSince)

	h.clock.Advance(24 * time.Hour)
	_, err = h.ledger.PayInvoice(ctx, inv.ID, "pay_retry")
	require.NoError(t, err)

	sub, err = h.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Nil(t, sub.PastDueSince)

	actions := historyActions(t, h, sub.ID.String())
	assert.Contains(t, actions, "invoice.payment_failed")
	assert.Contains(t, actions, "subscription.reactivated")
}

func TestExpirePastDue(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	sub := subscribe(t, h, planMonthly.ID)

	inv, err := h.ledger.GenerateInvoice(ctx, sub.ID)
	require.NoError(t, err)
	_, err = h.ledger.FailInvoicePayment(ctx, inv.ID, "card_expired")
	require.NoError(t, err)

	h.clock.Advance(h.ledger.Config().GracePeriod - time.Hour)
	n, err := h.ledger.ExpirePastDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(2 * time.Hour)
	n, err = h.ledger.ExpirePastDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sub, err = h.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, sub.Status)

	inv, err = h.ledger.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusUncollectible, inv.Status)

	_, err = h.ledger.PayInvoice(ctx, inv.ID, "too_late")
	require.ErrorIs(t, err, payledger.ErrInvoiceUncollectible)

	n, err = h.ledger.ExpirePastDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListInvoicesUnknownSubscription(t *testing.T) {
	h := newHarness(t)
	other := newHarness(t)
	sub := subscribe(t, other, planMonthly.ID)

	_, err := h.ledger.ListInvoices(t.Context(), sub.ID)
	require.ErrorIs(t, err, payledger.ErrSubscriptionNotFound)
}
