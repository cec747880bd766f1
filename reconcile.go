package payledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/processor"
)

const (
	reconcileBatch = 100

	// reasonNoRecord marks an operation the processor never received.
	reasonNoRecord = "processor_no_record"
)

// ReconcilePending resolves charges and refunds that have been pending for
// longer than the configured reconcile_after, asking the processor for the
// verdict of their idempotency keys. It returns the number resolved and
// does nothing if the processor cannot report past verdicts.
//
// An operation the processor has no record of is resolved as a decline:
// the charge fails, or the refund's reservation is released. Operations
// whose idempotency key is still leased by a caller are skipped.
func (l *Ledger) ReconcilePending(ctx context.Context) (int, error) {
	sc, ok := l.processor.(processor.StatusChecker)
	if !ok {
		return 0, nil
	}

	cutoff := l.now().Add(-l.cfg.ReconcileAfter)
	var errs []error
	resolved := 0

	charges, err := l.store.ListCharges(ctx, charge.ListOpts{
		Status:        charge.StatusPending,
		CreatedBefore: cutoff,
		Limit:         reconcileBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("payledger: list pending charges: %w", err)
	}

	for _, ch := range charges {
		if busy, err := l.events.InFlight(ctx, ch.IdempotencyKey); err != nil || busy {
			if err != nil {
				errs = append(errs, fmt.Errorf("charge %s: %w", ch.ID, err))
			}
			continue
		}
		d, err := l.callProcessor(ctx, func(ctx context.Context) (processor.Decision, error) {
			return sc.AuthorizationStatus(ctx, ch.IdempotencyKey)
		})
		if errors.Is(err, processor.ErrUnknownKey) {
			d, err = processor.Decision{Reason: reasonNoRecord}, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("charge %s: %w", ch.ID, err))
			continue
		}

		if _, err := l.applyDecision(ctx, ch.ID, d); err != nil {
			errs = append(errs, err)
			continue
		}
		resolved++
	}

	refunds, err := l.store.ListPendingRefunds(ctx, cutoff, reconcileBatch)
	if err != nil {
		return resolved, errors.Join(append(errs, fmt.Errorf("payledger: list pending refunds: %w", err))...)
	}

	for _, r := range refunds {
		if r.External {
			// settled by the provider; its webhook redelivery finishes it
			continue
		}
		if busy, err := l.events.InFlight(ctx, r.IdempotencyKey); err != nil || busy {
			if err != nil {
				errs = append(errs, fmt.Errorf("refund %s: %w", r.ID, err))
			}
			continue
		}
		d, err := l.callProcessor(ctx, func(ctx context.Context) (processor.Decision, error) {
			return sc.RefundStatus(ctx, r.IdempotencyKey)
		})
		if errors.Is(err, processor.ErrUnknownKey) {
			d, err = processor.Decision{Reason: reasonNoRecord}, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("refund %s: %w", r.ID, err))
			continue
		}

		if _, err := l.finalizeRefund(ctx, r.ChargeID, r.ID, d); err != nil {
			errs = append(errs, err)
			continue
		}
		resolved++
	}

	return resolved, errors.Join(errs...)
}
