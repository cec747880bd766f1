package mongo

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/types"
	"github.com/xraph/payledger/webhook"
)

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// ==================== Charge models ====================

type chargeModel struct {
	grove.BaseModel `grove:"table:payledger_charges"`

	ID                 string    `grove:"id,pk"                bson:"_id"`
	CustomerID         string    `grove:"customer_id"          bson:"customer_id"`
	Amount             int64     `grove:"amount"               bson:"amount"`
	Currency           string    `grove:"currency"             bson:"currency"`
	PaymentMethodToken string    `grove:"payment_method_token" bson:"payment_method_token"`
	Status             string    `grove:"status"               bson:"status"`
	AmountRefunded     int64     `grove:"amount_refunded"      bson:"amount_refunded"`
	AmountReserved     int64     `grove:"amount_reserved"      bson:"amount_reserved"`
	ProcessorRef       string    `grove:"processor_ref"        bson:"processor_ref"`
	FailureReason      string    `grove:"failure_reason"       bson:"failure_reason"`
	IdempotencyKey     string    `grove:"idempotency_key"      bson:"idempotency_key"`
	Version            int64     `grove:"version"              bson:"version"`
	CreatedAt          time.Time `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time `grove:"updated_at"           bson:"updated_at"`
}

func toChargeModel(c *charge.Charge) *chargeModel {
	return &chargeModel{
		ID:                 c.ID.String(),
		CustomerID:         c.CustomerID,
		Amount:             c.Amount,
		Currency:           c.Currency,
		PaymentMethodToken: c.PaymentMethodToken,
		Status:             string(c.Status),
		AmountRefunded:     c.AmountRefunded,
		AmountReserved:     c.AmountReserved,
		ProcessorRef:       c.ProcessorRef,
		FailureReason:      c.FailureReason,
		IdempotencyKey:     c.IdempotencyKey,
		Version:            c.Version,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func fromChargeModel(m *chargeModel) (*charge.Charge, error) {
	chargeID, err := id.ParseChargeID(m.ID)
	if err != nil {
		return nil, err
	}
	return &charge.Charge{
		Entity:             types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:                 chargeID,
		CustomerID:         m.CustomerID,
		Amount:             m.Amount,
		Currency:           m.Currency,
		PaymentMethodToken: m.PaymentMethodToken,
		Status:             charge.Status(m.Status),
		AmountRefunded:     m.AmountRefunded,
		AmountReserved:     m.AmountReserved,
		ProcessorRef:       m.ProcessorRef,
		FailureReason:      m.FailureReason,
		IdempotencyKey:     m.IdempotencyKey,
		Version:            m.Version,
	}, nil
}

type refundModel struct {
	grove.BaseModel `grove:"table:payledger_refunds"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	ChargeID       string    `grove:"charge_id"       bson:"charge_id"`
	Amount         int64     `grove:"amount"          bson:"amount"`
	Status         string    `grove:"status"          bson:"status"`
	IdempotencyKey string    `grove:"idempotency_key" bson:"idempotency_key"`
	ProcessorRef   string    `grove:"processor_ref"   bson:"processor_ref"`
	FailureReason  string    `grove:"failure_reason"  bson:"failure_reason"`
	External       bool      `grove:"external"        bson:"external"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"      bson:"updated_at"`
}

func toRefundModel(r *charge.Refund) *refundModel {
	return &refundModel{
		ID:             r.ID.String(),
		ChargeID:       r.ChargeID.String(),
		Amount:         r.Amount,
		Status:         string(r.Status),
		IdempotencyKey: r.IdempotencyKey,
		ProcessorRef:   r.ProcessorRef,
		FailureReason:  r.FailureReason,
		External:       r.External,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromRefundModel(m *refundModel) (*charge.Refund, error) {
	refundID, err := id.ParseRefundID(m.ID)
	if err != nil {
		return nil, err
	}
	chargeID, err := id.ParseChargeID(m.ChargeID)
	if err != nil {
		return nil, err
	}
	return &charge.Refund{
		Entity:         types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:             refundID,
		ChargeID:       chargeID,
		Amount:         m.Amount,
		Status:         charge.RefundStatus(m.Status),
		IdempotencyKey: m.IdempotencyKey,
		ProcessorRef:   m.ProcessorRef,
		FailureReason:  m.FailureReason,
		External:       m.External,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:payledger_subscriptions"`

	ID                 string     `grove:"id,pk"                bson:"_id"`
	CustomerID         string     `grove:"customer_id"          bson:"customer_id"`
	PlanID             string     `grove:"plan_id"              bson:"plan_id"`
	Status             string     `grove:"status"               bson:"status"`
	CurrentPeriodStart time.Time  `grove:"current_period_start" bson:"current_period_start"`
	CurrentPeriodEnd   time.Time  `grove:"current_period_end"   bson:"current_period_end"`
	PastDueSince       *time.Time `grove:"past_due_since"       bson:"past_due_since,omitempty"`
	CanceledAt         *time.Time `grove:"canceled_at"          bson:"canceled_at,omitempty"`
	Version            int64      `grove:"version"              bson:"version"`
	CreatedAt          time.Time  `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"           bson:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 sub.ID.String(),
		CustomerID:         sub.CustomerID,
		PlanID:             sub.PlanID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		PastDueSince:       sub.PastDueSince,
		CanceledAt:         sub.CanceledAt,
		Version:            sub.Version,
		CreatedAt:          sub.CreatedAt,
		UpdatedAt:          sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity:             types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:                 subID,
		CustomerID:         m.CustomerID,
		PlanID:             m.PlanID,
		Status:             subscription.Status(m.Status),
		CurrentPeriodStart: m.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:   m.CurrentPeriodEnd.UTC(),
		PastDueSince:       utcPtr(m.PastDueSince),
		CanceledAt:         utcPtr(m.CanceledAt),
		Version:            m.Version,
	}, nil
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:payledger_invoices"`

	ID                 string     `grove:"id,pk"                bson:"_id"`
	SubscriptionID     string     `grove:"subscription_id"      bson:"subscription_id"`
	AmountDue          int64      `grove:"amount_due"           bson:"amount_due"`
	Currency           string     `grove:"currency"             bson:"currency"`
	Status             string     `grove:"status"               bson:"status"`
	BillingPeriodStart time.Time  `grove:"billing_period_start" bson:"billing_period_start"`
	BillingPeriodEnd   time.Time  `grove:"billing_period_end"   bson:"billing_period_end"`
	PaidAt             *time.Time `grove:"paid_at"              bson:"paid_at,omitempty"`
	PaymentRef         string     `grove:"payment_ref"          bson:"payment_ref"`
	PaymentAttempts    int        `grove:"payment_attempts"     bson:"payment_attempts"`
	LastPaymentError   string     `grove:"last_payment_error"   bson:"last_payment_error"`
	CreatedAt          time.Time  `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"           bson:"updated_at"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	return &invoiceModel{
		ID:                 inv.ID.String(),
		SubscriptionID:     inv.SubscriptionID.String(),
		AmountDue:          inv.AmountDue.Amount,
		Currency:           inv.AmountDue.Currency,
		Status:             string(inv.Status),
		BillingPeriodStart: inv.BillingPeriodStart,
		BillingPeriodEnd:   inv.BillingPeriodEnd,
		PaidAt:             inv.PaidAt,
		PaymentRef:         inv.PaymentRef,
		PaymentAttempts:    inv.PaymentAttempts,
		LastPaymentError:   inv.LastPaymentError,
		CreatedAt:          inv.CreatedAt,
		UpdatedAt:          inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return &invoice.Invoice{
		Entity:             types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:                 invID,
		SubscriptionID:     subID,
		AmountDue:          types.New(m.AmountDue, m.Currency),
		Status:             invoice.Status(m.Status),
		BillingPeriodStart: m.BillingPeriodStart.UTC(),
		BillingPeriodEnd:   m.BillingPeriodEnd.UTC(),
		PaidAt:             utcPtr(m.PaidAt),
		PaymentRef:         m.PaymentRef,
		PaymentAttempts:    m.PaymentAttempts,
		LastPaymentError:   m.LastPaymentError,
	}, nil
}

// ==================== Event log models ====================

type recordModel struct {
	grove.BaseModel `grove:"table:payledger_idempotency_records"`

	Key            string     `grove:"id,pk"            bson:"_id"`
	Action         string     `grove:"action"           bson:"action"`
	Fingerprint    string     `grove:"fingerprint"      bson:"fingerprint"`
	State          string     `grove:"state"            bson:"state"`
	EntityID       string     `grove:"entity_id"        bson:"entity_id"`
	Result         string     `grove:"result"           bson:"result,omitempty"`
	LeaseExpiresAt time.Time  `grove:"lease_expires_at" bson:"lease_expires_at"`
	Attempts       int        `grove:"attempts"         bson:"attempts"`
	FirstSeenAt    time.Time  `grove:"first_seen_at"    bson:"first_seen_at"`
	CompletedAt    *time.Time `grove:"completed_at"     bson:"completed_at,omitempty"`
	Version        int64      `grove:"version"          bson:"version"`
}

func toRecordModel(r *eventlog.Record) *recordModel {
	return &recordModel{
		Key:            r.Key,
		Action:         r.Action,
		Fingerprint:    string(r.Fingerprint),
		State:          string(r.State),
		EntityID:       r.EntityID,
		Result:         string(r.Result),
		LeaseExpiresAt: r.LeaseExpiresAt,
		Attempts:       r.Attempts,
		FirstSeenAt:    r.FirstSeenAt,
		CompletedAt:    r.CompletedAt,
		Version:        r.Version,
	}
}

func fromRecordModel(m *recordModel) *eventlog.Record {
	r := &eventlog.Record{
		Key:            m.Key,
		Action:         m.Action,
		Fingerprint:    eventlog.Fingerprint(m.Fingerprint),
		State:          eventlog.State(m.State),
		EntityID:       m.EntityID,
		LeaseExpiresAt: m.LeaseExpiresAt.UTC(),
		Attempts:       m.Attempts,
		FirstSeenAt:    m.FirstSeenAt.UTC(),
		CompletedAt:    utcPtr(m.CompletedAt),
		Version:        m.Version,
	}
	if m.Result != "" {
		r.Result = json.RawMessage(m.Result)
	}
	return r
}

type entryModel struct {
	grove.BaseModel `grove:"table:payledger_journal_entries"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	Seq            int64             `grove:"seq"             bson:"seq"`
	Action         string            `grove:"action"          bson:"action"`
	EntityType     string            `grove:"entity_type"     bson:"entity_type"`
	EntityID       string            `grove:"entity_id"       bson:"entity_id"`
	IdempotencyKey string            `grove:"idempotency_key" bson:"idempotency_key"`
	Detail         map[string]string `grove:"detail"          bson:"detail,omitempty"`
	RecordedAt     time.Time         `grove:"recorded_at"     bson:"recorded_at"`
}

func toEntryModel(e *eventlog.Entry, seq int64) *entryModel {
	return &entryModel{
		ID:             e.ID.String(),
		Seq:            seq,
		Action:         e.Action,
		EntityType:     e.EntityType,
		EntityID:       e.EntityID,
		IdempotencyKey: e.IdempotencyKey,
		Detail:         e.Detail,
		RecordedAt:     e.RecordedAt,
	}
}

func fromEntryModel(m *entryModel) (*eventlog.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	return &eventlog.Entry{
		ID:             entryID,
		Action:         m.Action,
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		IdempotencyKey: m.IdempotencyKey,
		Detail:         m.Detail,
		RecordedAt:     m.RecordedAt.UTC(),
	}, nil
}

// ==================== Webhook models ====================

type deliveryModel struct {
	grove.BaseModel `grove:"table:payledger_webhook_deliveries"`

	ID          string     `grove:"id,pk"        bson:"_id"`
	EventID     string     `grove:"event_id"     bson:"event_id"`
	Type        string     `grove:"type"         bson:"type"`
	Payload     string     `grove:"payload"      bson:"payload"`
	ReceivedAt  time.Time  `grove:"received_at"  bson:"received_at"`
	Status      string     `grove:"status"       bson:"status"`
	Reason      string     `grove:"reason"       bson:"reason"`
	Duplicate   bool       `grove:"duplicate"    bson:"duplicate"`
	ProcessedAt *time.Time `grove:"processed_at" bson:"processed_at,omitempty"`
}

func toDeliveryModel(e *webhook.Event) *deliveryModel {
	return &deliveryModel{
		ID:          e.ID.String(),
		EventID:     e.EventID,
		Type:        e.Type,
		Payload:     string(e.Payload),
		ReceivedAt:  e.ReceivedAt,
		Status:      string(e.Status),
		Reason:      e.Reason,
		Duplicate:   e.Duplicate,
		ProcessedAt: e.ProcessedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*webhook.Event, error) {
	deliveryID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, err
	}
	return &webhook.Event{
		ID:          deliveryID,
		EventID:     m.EventID,
		Type:        m.Type,
		Payload:     json.RawMessage(m.Payload),
		ReceivedAt:  m.ReceivedAt.UTC(),
		Status:      webhook.Status(m.Status),
		Reason:      m.Reason,
		Duplicate:   m.Duplicate,
		ProcessedAt: utcPtr(m.ProcessedAt),
	}, nil
}
