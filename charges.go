package payledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/processor"
	"github.com/xraph/payledger/types"
)

const (
	actionChargeCreate = "charge.create"
	actionChargeRefund = "charge.refund"
)

// CreateChargeParams describes a new charge.
type CreateChargeParams struct {
	CustomerID         string `json:"customer_id" validate:"required,max=255"`
	Amount             int64  `json:"amount" validate:"gt=0"`
	Currency           string `json:"currency" validate:"required,iso4217"`
	PaymentMethodToken string `json:"payment_method_token" validate:"required"`
	IdempotencyKey     string `json:"idempotency_key" validate:"required,max=255"`
}

// RefundChargeParams describes a refund. Amount 0 refunds the remaining
// balance.
type RefundChargeParams struct {
	ChargeID       id.ChargeID `json:"-"`
	Amount         int64       `json:"amount" validate:"gte=0"`
	IdempotencyKey string      `json:"idempotency_key" validate:"required,max=255"`
}

// ──────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────

// CreateCharge authorizes a new charge exactly once per idempotency key.
//
// A repeated key with the same parameters returns the original charge
// without calling the processor. A declined authorization returns the
// failed charge and a nil error. ErrTimeout and ErrProcessorUnavailable
// leave the charge pending; retrying with the same key reconciles it.
func (l *Ledger) CreateCharge(ctx context.Context, params CreateChargeParams) (*charge.Charge, error) {
	params.Currency = types.NormalizeCurrency(params.Currency)
	if err := l.validateParams(&params); err != nil {
		return nil, err
	}

	fp := eventlog.NewFingerprint(actionChargeCreate,
		params.CustomerID,
		strconv.FormatInt(params.Amount, 10),
		params.Currency,
		params.PaymentMethodToken,
	)
	claim, err := l.events.Record(ctx, params.IdempotencyKey, actionChargeCreate, fp)
	if err != nil {
		return nil, err
	}

	if claim.Outcome == OutcomeDuplicate {
		var ch charge.Charge
		if err := claim.Decode(&ch); err != nil {
			return nil, err
		}
		l.plugins.EmitIdempotentReplay(ctx, claim.Key)
		return &ch, nil
	}

	ch, err := l.createCharge(ctx, claim, params)
	if err != nil {
		l.events.Release(ctx, claim)
		return nil, err
	}
	return ch, nil
}

func (l *Ledger) createCharge(ctx context.Context, claim *Claim, params CreateChargeParams) (*charge.Charge, error) {
	ch, err := l.store.GetChargeByIdempotencyKey(ctx, params.IdempotencyKey)
	switch {
	case errors.Is(err, ErrChargeNotFound):
		ch = &charge.Charge{
			Entity:             types.NewEntityAt(l.now()),
			ID:                 id.NewChargeID(),
			CustomerID:         params.CustomerID,
			Amount:             params.Amount,
			Currency:           params.Currency,
			PaymentMethodToken: params.PaymentMethodToken,
			Status:             charge.StatusPending,
			IdempotencyKey:     params.IdempotencyKey,
			Version:            1,
		}
		if err := l.store.CreateCharge(ctx, ch); err != nil {
			return nil, fmt.Errorf("payledger: create charge: %w", err)
		}
		l.journal(ctx, "charge.created", "charge", ch.ID.String(), params.IdempotencyKey, map[string]string{
			"amount":   strconv.FormatInt(ch.Amount, 10),
			"currency": ch.Currency,
		})
	case err != nil:
		return nil, err
	}

	if ch.Status == charge.StatusPending {
		decision, err := l.authorize(ctx, claim, ch)
		if err != nil {
			l.logger.Warn("charge left pending",
				"charge_id", ch.ID.String(),
				"error", err,
			)
			return nil, err
		}

		ch, err = l.applyDecision(context.WithoutCancel(ctx), ch.ID, decision)
		if err != nil {
			return nil, err
		}
	}

	if err := l.events.Complete(context.WithoutCancel(ctx), claim, ch.ID.String(), ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// authorize asks the processor for a verdict on ch. A resumed claim asks
// for the earlier verdict first when the processor can report it.
func (l *Ledger) authorize(ctx context.Context, claim *Claim, ch *charge.Charge) (processor.Decision, error) {
	if claim.Outcome == OutcomeResumed {
		if sc, ok := l.processor.(processor.StatusChecker); ok {
			d, err := l.callProcessor(ctx, func(ctx context.Context) (processor.Decision, error) {
				return sc.AuthorizationStatus(ctx, ch.IdempotencyKey)
			})
			if !errors.Is(err, processor.ErrUnknownKey) {
				return d, err
			}
		}
	}

	return l.callProcessor(ctx, func(ctx context.Context) (processor.Decision, error) {
		return l.processor.Authorize(ctx, processor.AuthorizeRequest{
			IdempotencyKey: ch.IdempotencyKey,
			Amount:         ch.Amount,
			Currency:       ch.Currency,
			Token:          ch.PaymentMethodToken,
		})
	})
}

// callProcessor runs fn under the configured processor timeout and maps
// failures to ErrTimeout or ErrProcessorUnavailable.
func (l *Ledger) callProcessor(ctx context.Context, fn func(context.Context) (processor.Decision, error)) (processor.Decision, error) {
	if l.processor == nil {
		return processor.Decision{}, fmt.Errorf("%w: no processor configured", ErrProcessorUnavailable)
	}

	if l.cfg.ProcessorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.ProcessorTimeout)
		defer cancel()
	}

	d, err := fn(ctx)
	switch {
	case err == nil:
		return d, nil
	case errors.Is(err, processor.ErrUnknownKey):
		return d, err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return d, fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return d, fmt.Errorf("%w: %w", ErrProcessorUnavailable, err)
	}
}

// applyDecision moves a pending charge to the processor's verdict. A charge
// that is no longer pending is returned unchanged.
func (l *Ledger) applyDecision(ctx context.Context, chargeID id.ChargeID, d processor.Decision) (*charge.Charge, error) {
	var resolved bool
	ch, err := withCAS(ctx, func() (*charge.Charge, error) {
		resolved = false
		ch, err := l.store.GetCharge(ctx, chargeID)
		if err != nil {
			return nil, err
		}
		expected := ch.Version
		if !ch.Resolve(d.Accepted, d.Reference, d.Reason) {
			return ch, nil
		}
		ch.TouchAt(l.now())
		if err := l.store.SaveCharge(ctx, ch, expected); err != nil {
			return nil, err
		}
		resolved = true
		return ch, nil
	})
	if err != nil {
		return nil, fmt.Errorf("payledger: resolve charge %s: %w", chargeID, err)
	}

	if resolved {
		l.chargeResolved(ctx, ch)
	}
	return ch, nil
}

func (l *Ledger) chargeResolved(ctx context.Context, ch *charge.Charge) {
	detail := map[string]string{"processor_ref": ch.ProcessorRef}
	if ch.Status == charge.StatusSucceeded {
		l.journal(ctx, "charge.succeeded", "charge", ch.ID.String(), ch.IdempotencyKey, detail)
		l.plugins.EmitChargeSucceeded(ctx, ch)
	} else {
		detail["reason"] = ch.FailureReason
		l.journal(ctx, "charge.failed", "charge", ch.ID.String(), ch.IdempotencyKey, detail)
		l.plugins.EmitChargeFailed(ctx, ch)
	}

	l.logger.Info("charge resolved",
		"charge_id", ch.ID.String(),
		"status", ch.Status,
		"amount", ch.Amount,
		"currency", ch.Currency,
	)
}

// ResolveCharge applies an asynchronous processor verdict to a charge.
// A pending charge moves to succeeded or failed. A charge already in the
// verdict's outcome is returned unchanged; a contradicting verdict returns
// ErrInvalidTransition.
func (l *Ledger) ResolveCharge(ctx context.Context, chargeID id.ChargeID, d processor.Decision) (*charge.Charge, error) {
	ch, err := l.applyDecision(ctx, chargeID, d)
	if err != nil {
		return nil, err
	}

	if d.Accepted == (ch.Status == charge.StatusFailed) {
		return nil, fmt.Errorf("%w: charge %s is %s", ErrInvalidTransition, ch.ID, ch.Status)
	}
	return ch, nil
}

// ──────────────────────────────────────────────────
// Refund
// ──────────────────────────────────────────────────

// RefundCharge returns part or all of a succeeded charge exactly once per
// idempotency key. The amount is reserved before the processor is called,
// so concurrent refunds can never exceed the charge amount.
func (l *Ledger) RefundCharge(ctx context.Context, params RefundChargeParams) (*charge.Refund, error) {
	if params.ChargeID.IsNil() {
		return nil, ValidationError{Field: "charge_id", Message: "is required"}
	}
	if err := l.validateParams(&params); err != nil {
		return nil, err
	}
	return l.refund(ctx, params, nil)
}

// providerRefund is a refund already settled by the processor.
type providerRefund struct {
	ref string
}

func (l *Ledger) refund(ctx context.Context, params RefundChargeParams, external *providerRefund) (*charge.Refund, error) {
	fp := eventlog.NewFingerprint(actionChargeRefund,
		params.ChargeID.String(),
		strconv.FormatInt(params.Amount, 10),
	)
	claim, err := l.events.Record(ctx, params.IdempotencyKey, actionChargeRefund, fp)
	if err != nil {
		return nil, err
	}

	if claim.Outcome == OutcomeDuplicate {
		var r charge.Refund
		if err := claim.Decode(&r); err != nil {
			return nil, err
		}
		l.plugins.EmitIdempotentReplay(ctx, claim.Key)
		return &r, nil
	}

	r, err := l.runRefund(ctx, claim, params, external)
	if err != nil {
		l.events.Release(ctx, claim)
		return nil, err
	}
	return r, nil
}

func (l *Ledger) runRefund(ctx context.Context, claim *Claim, params RefundChargeParams, external *providerRefund) (*charge.Refund, error) {
	r, err := l.store.GetRefundByIdempotencyKey(ctx, params.IdempotencyKey)
	switch {
	case errors.Is(err, ErrRefundNotFound):
		r, err = l.reserveRefund(ctx, params, external != nil)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if r.Status == charge.RefundPending {
		var d processor.Decision
		if external != nil {
			d = processor.Decision{Accepted: true, Reference: external.ref}
		} else {
			d, err = l.settle(ctx, claim, r)
			if err != nil {
				l.logger.Warn("refund left pending",
					"refund_id", r.ID.String(),
					"charge_id", r.ChargeID.String(),
					"error", err,
				)
				return nil, err
			}
		}

		r, err = l.finalizeRefund(context.WithoutCancel(ctx), r.ChargeID, r.ID, d)
		if err != nil {
			return nil, err
		}
	}

	if err := l.events.Complete(context.WithoutCancel(ctx), claim, r.ID.String(), r); err != nil {
		return nil, err
	}
	return r, nil
}

// reserveRefund holds the refund amount on the charge and inserts the
// pending refund in one conditional write.
func (l *Ledger) reserveRefund(ctx context.Context, params RefundChargeParams, external bool) (*charge.Refund, error) {
	r, err := withCAS(ctx, func() (*charge.Refund, error) {
		ch, err := l.store.GetCharge(ctx, params.ChargeID)
		if err != nil {
			return nil, err
		}

		amount := params.Amount
		if amount == 0 {
			amount = ch.Remaining()
		}

		expected := ch.Version
		if !ch.Reserve(amount) {
			return nil, fmt.Errorf("%w: charge %s is %s with %d %s refundable, requested %d",
				ErrInvalidRefundAmount, ch.ID, ch.Status, ch.Remaining(), ch.Currency, amount)
		}

		now := l.now()
		ch.TouchAt(now)
		r := &charge.Refund{
			Entity:         types.NewEntityAt(now),
			ID:             id.NewRefundID(),
			ChargeID:       ch.ID,
			Amount:         amount,
			Status:         charge.RefundPending,
			IdempotencyKey: params.IdempotencyKey,
			External:       external,
		}
		if err := l.store.SaveCharge(ctx, ch, expected, r); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	l.journal(ctx, "refund.reserved", "charge", r.ChargeID.String(), r.IdempotencyKey, map[string]string{
		"refund_id": r.ID.String(),
		"amount":    strconv.FormatInt(r.Amount, 10),
	})
	return r, nil
}

func (l *Ledger) settle(ctx context.Context, claim *Claim, r *charge.Refund) (processor.Decision, error) {
	if claim != nil && claim.Outcome == OutcomeResumed {
		if sc, ok := l.processor.(processor.StatusChecker); ok {
			d, err := l.callProcessor(ctx, func(ctx context.Context) (processor.Decision, error) {
				return sc.RefundStatus(ctx, r.IdempotencyKey)
			})
			if !errors.Is(err, processor.ErrUnknownKey) {
				return d, err
			}
		}
	}

	ch, err := l.store.GetCharge(ctx, r.ChargeID)
	if err != nil {
		return processor.Decision{}, err
	}

	return l.callProcessor(ctx, func(ctx context.Context) (processor.Decision, error) {
		return l.processor.SettleRefund(ctx, processor.RefundRequest{
			IdempotencyKey: r.IdempotencyKey,
			ChargeRef:      ch.ProcessorRef,
			Amount:         r.Amount,
			Currency:       ch.Currency,
		})
	})
}

// finalizeRefund applies the settlement verdict: an accepted refund moves
// its reservation to the refunded amount, a declined one releases it.
func (l *Ledger) finalizeRefund(ctx context.Context, chargeID id.ChargeID, refundID id.RefundID, d processor.Decision) (*charge.Refund, error) {
	var (
		ch      *charge.Charge
		settled bool
	)
	r, err := withCAS(ctx, func() (*charge.Refund, error) {
		settled = false
		var err error
		ch, err = l.store.GetCharge(ctx, chargeID)
		if err != nil {
			return nil, err
		}
		r, err := l.store.GetRefund(ctx, refundID)
		if err != nil {
			return nil, err
		}
		if r.Status != charge.RefundPending {
			return r, nil
		}

		expected := ch.Version
		now := l.now()
		if d.Accepted {
			ch.Settle(r.Amount)
			r.Status = charge.RefundSucceeded
			r.ProcessorRef = d.Reference
		} else {
			ch.Release(r.Amount)
			r.Status = charge.RefundFailed
			r.FailureReason = d.Reason
		}
		ch.TouchAt(now)
		r.TouchAt(now)

		if err := l.store.SaveCharge(ctx, ch, expected, r); err != nil {
			return nil, err
		}
		settled = true
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("payledger: finalize refund %s: %w", refundID, err)
	}

	if settled {
		detail := map[string]string{
			"refund_id": r.ID.String(),
			"amount":    strconv.FormatInt(r.Amount, 10),
			"status":    string(r.Status),
		}
		if r.Status == charge.RefundSucceeded {
			l.journal(ctx, "refund.succeeded", "charge", ch.ID.String(), r.IdempotencyKey, detail)
			l.plugins.EmitChargeRefunded(ctx, ch, r)
		} else {
			detail["reason"] = r.FailureReason
			l.journal(ctx, "refund.failed", "charge", ch.ID.String(), r.IdempotencyKey, detail)
		}
		l.logger.Info("refund finalized",
			"refund_id", r.ID.String(),
			"charge_id", ch.ID.String(),
			"status", r.Status,
			"charge_status", ch.Status,
		)
	}
	return r, nil
}

// applyProviderRefund records a refund the processor settled on its own,
// such as one issued from the provider's dashboard. A refund that matches
// an existing refund's processor reference is already accounted for.
//
// Our own refunds learn their processor reference only when they finalize.
// While one of the same amount is still pending the event may describe it,
// so ErrIdempotencyInFlight is returned and the provider redelivers once
// the reference is known.
func (l *Ledger) applyProviderRefund(ctx context.Context, chargeID id.ChargeID, amount int64, ref, key string) (*charge.Refund, error) {
	refunds, err := l.store.ListRefunds(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if ref != "" {
		for _, r := range refunds {
			if r.ProcessorRef == ref {
				return r, nil
			}
		}
	}
	for _, r := range refunds {
		if !r.External && r.Status == charge.RefundPending && r.Amount == amount {
			return nil, fmt.Errorf("%w: refund %s of charge %s is still settling", ErrIdempotencyInFlight, r.ID, chargeID)
		}
	}

	return l.refund(ctx, RefundChargeParams{
		ChargeID:       chargeID,
		Amount:         amount,
		IdempotencyKey: key,
	}, &providerRefund{ref: ref})
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// GetCharge retrieves a charge by ID.
func (l *Ledger) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return l.store.GetCharge(ctx, chargeID)
}

// ListCharges lists charges matching opts.
func (l *Ledger) ListCharges(ctx context.Context, opts charge.ListOpts) ([]*charge.Charge, error) {
	return l.store.ListCharges(ctx, opts)
}

// ListRefunds lists the refunds of a charge, oldest first.
func (l *Ledger) ListRefunds(ctx context.Context, chargeID id.ChargeID) ([]*charge.Refund, error) {
	if _, err := l.store.GetCharge(ctx, chargeID); err != nil {
		return nil, err
	}
	return l.store.ListRefunds(ctx, chargeID)
}
