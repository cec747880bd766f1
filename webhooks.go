package payledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/processor"
	"github.com/xraph/payledger/webhook"
)

const (
	actionWebhookEvent = "webhook.event"

	webhookEventKeyPrefix  = "webhook-event:"
	webhookRefundKeyPrefix = "webhook-refund:"
	webhookRenewKeyPrefix  = "webhook-renew:"
)

// WebhookResult reports how a delivery was handled.
type WebhookResult struct {
	DeliveryID id.DeliveryID  `json:"delivery_id"`
	EventID    string         `json:"event_id"`
	Type       string         `json:"type"`
	Status     webhook.Status `json:"status"`
	Duplicate  bool           `json:"duplicate"`
	Class      StatusClass    `json:"class"`
	Reason     string         `json:"reason,omitempty"`
}

// webhookOutcome is the idempotent result stored for an event id.
type webhookOutcome struct {
	Status webhook.Status `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Code   string         `json:"code,omitempty"`
}

// rejectionCodes name the caller-class errors a replayed rejection
// reproduces.
var rejectionCodes = []struct {
	code string
	err  error
}{
	{"unsupported_event_type", ErrUnsupportedEventType},
	{"invalid_refund_amount", ErrInvalidRefundAmount},
	{"invalid_transition", ErrInvalidTransition},
	{"charge_not_found", ErrChargeNotFound},
	{"subscription_not_found", ErrSubscriptionNotFound},
	{"invoice_not_found", ErrInvoiceNotFound},
	{"plan_not_found", ErrPlanNotFound},
	{"subscription_canceled", ErrSubscriptionCanceled},
	{"invoice_uncollectible", ErrInvoiceUncollectible},
	{"idempotency_conflict", ErrIdempotencyConflict},
	{"invalid_input", ErrInvalidInput},
}

func rejectionCode(err error) string {
	for _, rc := range rejectionCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return "invalid_input"
}

func rejectionError(o webhookOutcome) error {
	for _, rc := range rejectionCodes {
		if rc.code == o.Code {
			return fmt.Errorf("%w: %s", rc.err, o.Reason)
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, o.Reason)
}

// ReceiveWebhook authenticates, records and applies one webhook delivery.
//
// signature is the raw signature header and claimedEventID the event id
// the transport reported, if any. Deliveries that fail authentication or
// parsing are journaled but not stored and return a nil result. Every
// other delivery is stored, and the returned result carries its final
// status; the error is non-nil when the delivery was rejected.
//
// Each event id is applied at most once. A redelivery of a processed event
// succeeds without dispatching; a redelivery of a rejected event gets the
// same rejection. Retryable failures are not remembered, so the provider's
// next redelivery dispatches again.
func (l *Ledger) ReceiveWebhook(ctx context.Context, raw []byte, signature, claimedEventID string) (*WebhookResult, error) {
	if err := l.verifyWebhook(raw, signature); err != nil {
		l.rejectUnstored(ctx, claimedEventID, err)
		return nil, err
	}

	env, payload, err := webhook.Parse(raw)
	if err == nil && claimedEventID != "" && claimedEventID != env.ID {
		err = fmt.Errorf("event id %q does not match payload id %q", claimedEventID, env.ID)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		l.rejectUnstored(ctx, claimedEventID, err)
		return nil, err
	}

	delivery := &webhook.Event{
		ID:         id.NewDeliveryID(),
		EventID:    env.ID,
		Type:       env.Type,
		Payload:    raw,
		ReceivedAt: l.now(),
		Status:     webhook.StatusReceived,
	}
	if err := l.store.CreateWebhookEvent(ctx, delivery); err != nil {
		return nil, fmt.Errorf("payledger: store webhook delivery: %w", err)
	}
	l.plugins.EmitWebhookReceived(ctx, delivery)

	claim, err := l.events.Record(ctx, webhookEventKeyPrefix+env.ID, actionWebhookEvent,
		eventlog.HashPayload(actionWebhookEvent, raw))
	if err != nil {
		return l.finishWebhook(ctx, delivery, nil, err)
	}

	if claim.Outcome == OutcomeDuplicate {
		var prior webhookOutcome
		if err := claim.Decode(&prior); err != nil {
			return l.finishWebhook(ctx, delivery, nil, err)
		}
		delivery.Duplicate = true
		l.plugins.EmitIdempotentReplay(ctx, claim.Key)
		if prior.Status == webhook.StatusProcessed {
			return l.finishWebhook(ctx, delivery, nil, nil)
		}
		return l.finishWebhook(ctx, delivery, nil, rejectionError(prior))
	}

	err = l.dispatchWebhook(ctx, env, payload)
	return l.finishWebhook(ctx, delivery, claim, err)
}

func (l *Ledger) verifyWebhook(raw []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if l.cfg.Webhook.Secret == "" {
		return fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}
	if err := webhook.VerifySignature(raw, signature, l.cfg.Webhook.Secret, l.cfg.Webhook.Tolerance); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

// rejectUnstored journals a delivery that never reached the store.
func (l *Ledger) rejectUnstored(ctx context.Context, claimedEventID string, err error) {
	entityID := claimedEventID
	if entityID == "" {
		entityID = "unknown"
	}
	l.journal(ctx, "webhook.rejected", "webhook", entityID, "", map[string]string{
		"kind":   string(KindOf(err)),
		"reason": err.Error(),
	})
	l.logger.Warn("webhook rejected",
		"event_id", claimedEventID,
		"kind", KindOf(err),
		"error", err,
	)
}

// finishWebhook settles the claim and moves the delivery to its final
// status. It runs to completion even if ctx is canceled.
func (l *Ledger) finishWebhook(ctx context.Context, delivery *webhook.Event, claim *Claim, err error) (*WebhookResult, error) {
	ctx = context.WithoutCancel(ctx)
	class := ClassOf(err)

	if claim != nil {
		switch {
		case err == nil:
			if cerr := l.events.Complete(ctx, claim, delivery.EventID, webhookOutcome{Status: webhook.StatusProcessed}); cerr != nil {
				err = cerr
				class = ClassServerError
				l.events.Release(ctx, claim)
			}
		case class == ClassClientError:
			outcome := webhookOutcome{
				Status: webhook.StatusRejected,
				Reason: err.Error(),
				Code:   rejectionCode(err),
			}
			if cerr := l.events.Complete(ctx, claim, delivery.EventID, outcome); cerr != nil {
				l.logger.Error("failed to record webhook rejection", "event_id", delivery.EventID, "error", cerr)
				l.events.Release(ctx, claim)
			}
		default:
			l.events.Release(ctx, claim)
		}
	}

	now := l.now()
	delivery.ProcessedAt = &now
	if err == nil {
		delivery.Status = webhook.StatusProcessed
	} else {
		delivery.Status = webhook.StatusRejected
		delivery.Reason = err.Error()
	}

	if ferr := l.store.FinishWebhookEvent(ctx, delivery); ferr != nil {
		l.logger.Error("failed to finish webhook delivery",
			"delivery_id", delivery.ID.String(),
			"error", ferr,
		)
		if err == nil {
			err = fmt.Errorf("payledger: finish webhook delivery: %w", ferr)
			class = ClassServerError
		}
	}

	result := &WebhookResult{
		DeliveryID: delivery.ID,
		EventID:    delivery.EventID,
		Type:       delivery.Type,
		Status:     delivery.Status,
		Duplicate:  delivery.Duplicate,
		Class:      class,
		Reason:     delivery.Reason,
	}

	if err == nil {
		l.journal(ctx, "webhook.processed", "webhook", delivery.EventID, "", map[string]string{
			"delivery_id": delivery.ID.String(),
			"type":        delivery.Type,
			"duplicate":   fmt.Sprint(delivery.Duplicate),
		})
		l.plugins.EmitWebhookProcessed(ctx, delivery)
		return result, nil
	}

	l.journal(ctx, "webhook.rejected", "webhook", delivery.EventID, "", map[string]string{
		"delivery_id": delivery.ID.String(),
		"type":        delivery.Type,
		"kind":        string(KindOf(err)),
		"reason":      err.Error(),
	})
	l.plugins.EmitWebhookRejected(ctx, delivery, err)
	l.logger.Warn("webhook delivery rejected",
		"delivery_id", delivery.ID.String(),
		"event_id", delivery.EventID,
		"type", delivery.Type,
		"class", int(class),
		"error", err,
	)
	return result, err
}

// dispatchWebhook applies a parsed event to the engines. Every branch is
// idempotent by entity state or by a key derived from the event id, so a
// redelivery after a retryable failure is safe. Refunds and renewals, which
// create entities, use a derived key.
func (l *Ledger) dispatchWebhook(ctx context.Context, env *webhook.Envelope, payload webhook.Payload) error {
	switch p := payload.(type) {
	case webhook.ChargeSucceeded:
		chID, err := parseRef(p.ChargeID, "charge_id", id.ParseChargeID)
		if err != nil {
			return err
		}
		_, err = l.ResolveCharge(ctx, chID, processor.Decision{Accepted: true, Reference: p.ProcessorRef})
		return err

	case webhook.ChargeFailed:
		chID, err := parseRef(p.ChargeID, "charge_id", id.ParseChargeID)
		if err != nil {
			return err
		}
		_, err = l.ResolveCharge(ctx, chID, processor.Decision{Reason: p.Reason})
		return err

	case webhook.ChargeRefunded:
		chID, err := parseRef(p.ChargeID, "charge_id", id.ParseChargeID)
		if err != nil {
			return err
		}
		if p.Amount <= 0 {
			return ValidationError{Field: "data.object.amount", Message: "must be positive"}
		}
		_, err = l.applyProviderRefund(ctx, chID, p.Amount, p.ProcessorRef, webhookRefundKeyPrefix+env.ID)
		return err

	case webhook.InvoicePaid:
		invID, err := parseRef(p.InvoiceID, "invoice_id", id.ParseInvoiceID)
		if err != nil {
			return err
		}
		_, err = l.PayInvoice(ctx, invID, p.PaymentRef)
		return err

	case webhook.InvoicePaymentFailed:
		invID, err := parseRef(p.InvoiceID, "invoice_id", id.ParseInvoiceID)
		if err != nil {
			return err
		}
		_, err = l.FailInvoicePayment(ctx, invID, p.Reason)
		return err

	case webhook.SubscriptionRenewed:
		subID, err := parseRef(p.SubscriptionID, "subscription_id", id.ParseSubscriptionID)
		if err != nil {
			return err
		}
		inv, err := l.renewSubscription(ctx, webhookRenewKeyPrefix+env.ID, subID, p.PaymentRef)
		if err != nil {
			return err
		}
		if !p.Amount.IsZero() && !p.Amount.Equal(inv.AmountDue) {
			l.logger.Warn("renewal amount differs from invoice",
				"invoice_id", inv.ID.String(),
				"invoice_amount", inv.AmountDue.String(),
				"event_amount", p.Amount.String(),
			)
		}
		return nil

	case webhook.SubscriptionCanceled:
		subID, err := parseRef(p.SubscriptionID, "subscription_id", id.ParseSubscriptionID)
		if err != nil {
			return err
		}
		_, err = l.CancelSubscription(ctx, subID)
		if errors.Is(err, ErrAlreadyCanceled) {
			return nil
		}
		return err

	case webhook.Unknown:
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, p.Type)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, payload.EventType())
	}
}

func parseRef(s, field string, parse func(string) (id.ID, error)) (id.ID, error) {
	v, err := parse(s)
	if err != nil {
		return id.Nil, ValidationError{Field: "data.object." + field, Message: err.Error()}
	}
	return v, nil
}

// ListWebhookDeliveries lists every delivery of a provider event id.
func (l *Ledger) ListWebhookDeliveries(ctx context.Context, eventID string) ([]*webhook.Event, error) {
	return l.store.ListWebhookEvents(ctx, eventID)
}
