package payledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/plan"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/types"
)

const (
	actionSubscriptionCreate = "subscription.create"
	actionSubscriptionRenew  = "subscription.renew"

	sweepBatch = 100
)

// CreateSubscriptionParams describes a new subscription. IdempotencyKey is
// optional; when set, retries return the first subscription.
type CreateSubscriptionParams struct {
	CustomerID     string `json:"customer_id" validate:"required,max=255"`
	PlanID         string `json:"plan_id" validate:"required,max=255"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=255"`
}

// ──────────────────────────────────────────────────
// Create / cancel
// ──────────────────────────────────────────────────

// CreateSubscription starts an active subscription whose first period
// begins now.
func (l *Ledger) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*subscription.Subscription, error) {
	if err := l.validateParams(&params); err != nil {
		return nil, err
	}

	if params.IdempotencyKey == "" {
		return l.createSubscription(ctx, params, id.NewSubscriptionID())
	}

	fp := eventlog.NewFingerprint(actionSubscriptionCreate, params.CustomerID, params.PlanID)
	claim, err := l.events.Record(ctx, params.IdempotencyKey, actionSubscriptionCreate, fp)
	if err != nil {
		return nil, err
	}

	if claim.Outcome == OutcomeDuplicate {
		var sub subscription.Subscription
		if err := claim.Decode(&sub); err != nil {
			return nil, err
		}
		l.plugins.EmitIdempotentReplay(ctx, claim.Key)
		return &sub, nil
	}

	sub, err := l.resumeSubscription(ctx, claim, params)
	if err != nil {
		l.events.Release(ctx, claim)
		return nil, err
	}

	if err := l.events.Complete(context.WithoutCancel(ctx), claim, sub.ID.String(), sub); err != nil {
		l.events.Release(ctx, claim)
		return nil, err
	}
	return sub, nil
}

// resumeSubscription creates the subscription bound to claim, or returns
// it if an earlier attempt already created it.
func (l *Ledger) resumeSubscription(ctx context.Context, claim *Claim, params CreateSubscriptionParams) (*subscription.Subscription, error) {
	if claim.EntityID != "" {
		subID, err := id.ParseSubscriptionID(claim.EntityID)
		if err != nil {
			return nil, fmt.Errorf("payledger: bound entity: %w", err)
		}
		sub, err := l.store.GetSubscription(ctx, subID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
		return l.createSubscription(ctx, params, subID)
	}

	subID := id.NewSubscriptionID()
	if err := l.events.Bind(ctx, claim, subID.String()); err != nil {
		return nil, err
	}
	return l.createSubscription(ctx, params, subID)
}

func (l *Ledger) createSubscription(ctx context.Context, params CreateSubscriptionParams, subID id.SubscriptionID) (*subscription.Subscription, error) {
	p, err := l.lookupPlan(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	sub := &subscription.Subscription{
		Entity:             types.NewEntityAt(now),
		ID:                 subID,
		CustomerID:         params.CustomerID,
		PlanID:             p.ID,
		Status:             subscription.StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   types.Normalize(p.Interval.Advance(now)),
		Version:            1,
	}

	if err := l.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("payledger: create subscription: %w", err)
	}

	l.journal(ctx, "subscription.created", "subscription", sub.ID.String(), params.IdempotencyKey, map[string]string{
		"plan_id":     sub.PlanID,
		"customer_id": sub.CustomerID,
	})
	l.plugins.EmitSubscriptionCreated(ctx, sub)
	l.logger.Info("subscription created",
		"subscription_id", sub.ID.String(),
		"plan_id", sub.PlanID,
		"period_end", sub.CurrentPeriodEnd,
	)
	return sub, nil
}

func (l *Ledger) lookupPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	p, err := l.plans.Lookup(ctx, planID)
	if errors.Is(err, plan.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if err != nil {
		return nil, fmt.Errorf("payledger: plan lookup: %w", err)
	}
	return p, nil
}

// CancelSubscription cancels a subscription immediately. Under the
// prorate_open_invoice policy the open invoice of the current period is
// reduced to the elapsed share of the period in the same write.
func (l *Ledger) CancelSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var prorated *invoice.Invoice
	sub, err := withCAS(ctx, func() (*subscription.Subscription, error) {
		prorated = nil
		sub, err := l.store.GetSubscription(ctx, subID)
		if err != nil {
			return nil, err
		}
		if sub.Status == subscription.StatusCanceled {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyCanceled, sub.ID)
		}

		now := l.now()
		expected := sub.Version

		var invoices []*invoice.Invoice
		if l.cfg.ProrationPolicy == ProrationOpenInvoice {
			inv, err := l.prorateOpenInvoice(ctx, sub, now)
			if err != nil {
				return nil, err
			}
			if inv != nil {
				prorated = inv
				invoices = append(invoices, inv)
			}
		}

		sub.Status = subscription.StatusCanceled
		sub.CanceledAt = &now
		sub.TouchAt(now)
		if err := l.store.SaveSubscription(ctx, sub, expected, invoices...); err != nil {
			return nil, err
		}
		return sub, nil
	})
	if err != nil {
		return nil, err
	}

	detail := map[string]string{"proration_policy": string(l.cfg.ProrationPolicy)}
	if prorated != nil {
		detail["invoice_id"] = prorated.ID.String()
		detail["amount_due"] = strconv.FormatInt(prorated.AmountDue.Amount, 10)
	}
	l.journal(ctx, "subscription.canceled", "subscription", sub.ID.String(), "", detail)
	l.plugins.EmitSubscriptionCanceled(ctx, sub)
	l.logger.Info("subscription canceled", "subscription_id", sub.ID.String())
	return sub, nil
}

// prorateOpenInvoice returns the current period's open invoice reduced to
// the elapsed share of the period, or nil if there is nothing to reduce.
func (l *Ledger) prorateOpenInvoice(ctx context.Context, sub *subscription.Subscription, now time.Time) (*invoice.Invoice, error) {
	inv, err := l.store.GetInvoiceByPeriod(ctx, sub.ID, sub.CurrentPeriodStart)
	if errors.Is(err, ErrInvoiceNotFound) {
		return nil, nil //nolint:nilnil // no invoice to prorate
	}
	if err != nil {
		return nil, err
	}
	if inv.Status != invoice.StatusOpen {
		return nil, nil //nolint:nilnil // settled invoices keep their amount
	}

	total := sub.CurrentPeriodEnd.Sub(sub.CurrentPeriodStart).Milliseconds()
	used := now.Sub(sub.CurrentPeriodStart).Milliseconds()
	if total <= 0 || used >= total {
		return nil, nil //nolint:nilnil // period fully used
	}

	inv.AmountDue = inv.AmountDue.Prorate(used, total)
	inv.TouchAt(now)
	return inv, nil
}

// ──────────────────────────────────────────────────
// Invoicing
// ──────────────────────────────────────────────────

// GenerateInvoice returns the open invoice of the current billing period,
// creating it if needed. If the current period already has an invoice and
// has elapsed, the subscription advances by exactly one interval first.
func (l *Ledger) GenerateInvoice(ctx context.Context, subID id.SubscriptionID) (*invoice.Invoice, error) {
	var created bool
	inv, err := withCAS(ctx, func() (*invoice.Invoice, error) {
		created = false
		sub, err := l.store.GetSubscription(ctx, subID)
		if err != nil {
			return nil, err
		}
		if sub.Status == subscription.StatusCanceled {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionCanceled, sub.ID)
		}

		p, err := l.lookupPlan(ctx, sub.PlanID)
		if err != nil {
			return nil, err
		}

		now := l.now()
		expected := sub.Version

		existing, err := l.store.GetInvoiceByPeriod(ctx, sub.ID, sub.CurrentPeriodStart)
		switch {
		case err == nil:
			if now.Before(sub.CurrentPeriodEnd) {
				return existing, nil
			}
			sub.CurrentPeriodStart = sub.CurrentPeriodEnd
			sub.CurrentPeriodEnd = types.Normalize(p.Interval.Advance(sub.CurrentPeriodStart))
		case !errors.Is(err, ErrInvoiceNotFound):
			return nil, err
		}

		inv := &invoice.Invoice{
			Entity:             types.NewEntityAt(now),
			ID:                 id.NewInvoiceID(),
			SubscriptionID:     sub.ID,
			AmountDue:          p.Price,
			Status:             invoice.StatusOpen,
			BillingPeriodStart: sub.CurrentPeriodStart,
			BillingPeriodEnd:   sub.CurrentPeriodEnd,
		}
		sub.TouchAt(now)

		err = l.store.SaveSubscription(ctx, sub, expected, inv)
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: invoice for period %s", ErrVersionConflict, inv.BillingPeriodStart)
		}
		if err != nil {
			return nil, err
		}
		created = true
		return inv, nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		l.journal(ctx, "invoice.generated", "subscription", inv.SubscriptionID.String(), "", map[string]string{
			"invoice_id":   inv.ID.String(),
			"period_start": inv.BillingPeriodStart.Format(time.RFC3339),
			"amount_due":   strconv.FormatInt(inv.AmountDue.Amount, 10),
		})
		l.plugins.EmitInvoiceGenerated(ctx, inv)
		l.logger.Info("invoice generated",
			"invoice_id", inv.ID.String(),
			"subscription_id", inv.SubscriptionID.String(),
			"amount_due", inv.AmountDue.String(),
		)
	}
	return inv, nil
}

// PayInvoice marks an open invoice paid. A past_due subscription with no
// other open invoice becomes active again. Paying a paid invoice is a no-op.
func (l *Ledger) PayInvoice(ctx context.Context, invID id.InvoiceID, paymentRef string) (*invoice.Invoice, error) {
	var (
		paid        bool
		reactivated *subscription.Subscription
	)
	inv, err := withCAS(ctx, func() (*invoice.Invoice, error) {
		paid, reactivated = false, nil
		inv, err := l.store.GetInvoice(ctx, invID)
		if err != nil {
			return nil, err
		}
		switch inv.Status {
		case invoice.StatusPaid:
			return inv, nil
		case invoice.StatusUncollectible:
			return nil, fmt.Errorf("%w: %s", ErrInvoiceUncollectible, inv.ID)
		}

		sub, err := l.store.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			return nil, err
		}

		now := l.now()
		expected := sub.Version
		inv.Status = invoice.StatusPaid
		inv.PaidAt = &now
		inv.PaymentRef = paymentRef
		inv.PaymentAttempts++
		inv.TouchAt(now)

		if sub.Status == subscription.StatusPastDue {
			open, err := l.otherOpenInvoices(ctx, sub.ID, inv.ID)
			if err != nil {
				return nil, err
			}
			if open == 0 {
				sub.Status = subscription.StatusActive
				sub.PastDueSince = nil
				reactivated = sub
			}
		}
		sub.TouchAt(now)

		if err := l.store.SaveSubscription(ctx, sub, expected, inv); err != nil {
			return nil, err
		}
		paid = true
		return inv, nil
	})
	if err != nil {
		return nil, err
	}

	if paid {
		l.journal(ctx, "invoice.paid", "subscription", inv.SubscriptionID.String(), "", map[string]string{
			"invoice_id":  inv.ID.String(),
			"payment_ref": paymentRef,
		})
		l.plugins.EmitInvoicePaid(ctx, inv)
		if reactivated != nil {
			l.journal(ctx, "subscription.reactivated", "subscription", reactivated.ID.String(), "", nil)
		}
	}
	return inv, nil
}

func (l *Ledger) otherOpenInvoices(ctx context.Context, subID id.SubscriptionID, except id.InvoiceID) (int, error) {
	invoices, err := l.store.ListInvoices(ctx, subID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, inv := range invoices {
		if inv.Status == invoice.StatusOpen && inv.ID != except {
			n++
		}
	}
	return n, nil
}

// FailInvoicePayment records a failed collection attempt. An active
// subscription becomes past_due; the grace period starts then.
func (l *Ledger) FailInvoicePayment(ctx context.Context, invID id.InvoiceID, reason string) (*invoice.Invoice, error) {
	var pastDue *subscription.Subscription
	inv, err := withCAS(ctx, func() (*invoice.Invoice, error) {
		pastDue = nil
		inv, err := l.store.GetInvoice(ctx, invID)
		if err != nil {
			return nil, err
		}
		switch inv.Status {
		case invoice.StatusPaid:
			return nil, fmt.Errorf("%w: invoice %s is paid", ErrInvalidTransition, inv.ID)
		case invoice.StatusUncollectible:
			return nil, fmt.Errorf("%w: %s", ErrInvoiceUncollectible, inv.ID)
		}

		sub, err := l.store.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			return nil, err
		}

		now := l.now()
		expected := sub.Version
		inv.PaymentAttempts++
		inv.LastPaymentError = reason
		inv.TouchAt(now)

		if sub.Status == subscription.StatusActive {
			sub.Status = subscription.StatusPastDue
			sub.PastDueSince = &now
			pastDue = sub
		}
		sub.TouchAt(now)

		if err := l.store.SaveSubscription(ctx, sub, expected, inv); err != nil {
			return nil, err
		}
		return inv, nil
	})
	if err != nil {
		return nil, err
	}

	l.journal(ctx, "invoice.payment_failed", "subscription", inv.SubscriptionID.String(), "", map[string]string{
		"invoice_id": inv.ID.String(),
		"reason":     reason,
		"attempts":   strconv.Itoa(inv.PaymentAttempts),
	})
	l.plugins.EmitInvoiceFailed(ctx, inv, errors.New(reason))
	if pastDue != nil {
		l.plugins.EmitSubscriptionPastDue(ctx, pastDue)
		l.logger.Warn("subscription past due",
			"subscription_id", pastDue.ID.String(),
			"invoice_id", inv.ID.String(),
		)
	}
	return inv, nil
}

// RenewSubscription generates the current period's invoice and pays it
// with paymentRef.
func (l *Ledger) RenewSubscription(ctx context.Context, subID id.SubscriptionID, paymentRef string) (*invoice.Invoice, error) {
	return l.renewSubscription(ctx, "", subID, paymentRef)
}

// renewSubscription renews under an idempotency key when key is set. The
// generated invoice is bound to the key before it is paid, so a retry pays
// that invoice instead of advancing the subscription again.
func (l *Ledger) renewSubscription(ctx context.Context, key string, subID id.SubscriptionID, paymentRef string) (*invoice.Invoice, error) {
	if key == "" {
		inv, err := l.GenerateInvoice(ctx, subID)
		if err != nil {
			return nil, err
		}
		return l.PayInvoice(ctx, inv.ID, paymentRef)
	}

	fp := eventlog.NewFingerprint(actionSubscriptionRenew, subID.String(), paymentRef)
	claim, err := l.events.Record(ctx, key, actionSubscriptionRenew, fp)
	if err != nil {
		return nil, err
	}

	if claim.Outcome == OutcomeDuplicate {
		var inv invoice.Invoice
		if err := claim.Decode(&inv); err != nil {
			return nil, err
		}
		l.plugins.EmitIdempotentReplay(ctx, claim.Key)
		return &inv, nil
	}

	inv, err := l.renewBound(ctx, claim, subID, paymentRef)
	if err != nil {
		l.events.Release(ctx, claim)
		return nil, err
	}

	if err := l.events.Complete(context.WithoutCancel(ctx), claim, inv.ID.String(), inv); err != nil {
		l.events.Release(ctx, claim)
		return nil, err
	}
	return inv, nil
}

func (l *Ledger) renewBound(ctx context.Context, claim *Claim, subID id.SubscriptionID, paymentRef string) (*invoice.Invoice, error) {
	var invID id.InvoiceID
	if claim.EntityID != "" {
		bound, err := id.ParseInvoiceID(claim.EntityID)
		if err != nil {
			return nil, fmt.Errorf("payledger: bound entity: %w", err)
		}
		invID = bound
	} else {
		inv, err := l.GenerateInvoice(ctx, subID)
		if err != nil {
			return nil, err
		}
		if err := l.events.Bind(ctx, claim, inv.ID.String()); err != nil {
			return nil, err
		}
		invID = inv.ID
	}
	return l.PayInvoice(ctx, invID, paymentRef)
}

// ExpirePastDue cancels subscriptions that stayed past_due longer than the
// grace period and marks their open invoices uncollectible. It returns the
// number canceled.
func (l *Ledger) ExpirePastDue(ctx context.Context) (int, error) {
	cutoff := l.now().Add(-l.cfg.GracePeriod)
	subs, err := l.store.ListSubscriptions(ctx, subscription.ListOpts{
		Status:        subscription.StatusPastDue,
		PastDueBefore: cutoff,
		Limit:         sweepBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("payledger: list past due subscriptions: %w", err)
	}

	var errs []error
	canceled := 0
	for _, candidate := range subs {
		sub, err := withCAS(ctx, func() (*subscription.Subscription, error) {
			sub, err := l.store.GetSubscription(ctx, candidate.ID)
			if err != nil {
				return nil, err
			}
			if sub.Status != subscription.StatusPastDue || sub.PastDueSince == nil || sub.PastDueSince.After(cutoff) {
				return nil, nil //nolint:nilnil // paid or changed since listing
			}

			invoices, err := l.store.ListInvoices(ctx, sub.ID)
			if err != nil {
				return nil, err
			}

			now := l.now()
			expected := sub.Version
			var writes []*invoice.Invoice
			for _, inv := range invoices {
				if inv.Status == invoice.StatusOpen {
					inv.Status = invoice.StatusUncollectible
					inv.TouchAt(now)
					writes = append(writes, inv)
				}
			}

			sub.Status = subscription.StatusCanceled
			sub.CanceledAt = &now
			sub.TouchAt(now)
			if err := l.store.SaveSubscription(ctx, sub, expected, writes...); err != nil {
				return nil, err
			}
			return sub, nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", candidate.ID, err))
			continue
		}
		if sub == nil {
			continue
		}

		canceled++
		l.journal(ctx, "subscription.expired", "subscription", sub.ID.String(), "", map[string]string{
			"past_due_since": sub.PastDueSince.Format(time.RFC3339),
		})
		l.plugins.EmitSubscriptionCanceled(ctx, sub)
		l.logger.Info("subscription canceled after grace period", "subscription_id", sub.ID.String())
	}

	return canceled, errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// GetSubscription retrieves a subscription by ID.
func (l *Ledger) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return l.store.GetSubscription(ctx, subID)
}

// GetInvoice retrieves an invoice by ID.
func (l *Ledger) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return l.store.GetInvoice(ctx, invID)
}

// ListInvoices lists a subscription's invoices by billing period.
func (l *Ledger) ListInvoices(ctx context.Context, subID id.SubscriptionID) ([]*invoice.Invoice, error) {
	if _, err := l.store.GetSubscription(ctx, subID); err != nil {
		return nil, err
	}
	return l.store.ListInvoices(ctx, subID)
}
