package sqlstore

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

// Times are stored as BIGINT unix milliseconds so both engines compare
// and order them identically.

// ToMillis converts t to unix milliseconds.
func ToMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func toNullMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromNullMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

func toNullJSON(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

// ==================== Charge models ====================

// ChargeModel is the payledger_charges row.
type ChargeModel struct {
	grove.BaseModel `grove:"table:payledger_charges"`

	ID                 string `grove:"id,pk"`
	CustomerID         string `grove:"customer_id"`
	Amount             int64  `grove:"amount"`
	Currency           string `grove:"currency"`
	PaymentMethodToken string `grove:"payment_method_token"`
	Status             string `grove:"status"`
	AmountRefunded     int64  `grove:"amount_refunded"`
	AmountReserved     int64  `grove:"amount_reserved"`
	ProcessorRef       string `grove:"processor_ref"`
	FailureReason      string `grove:"failure_reason"`
	IdempotencyKey     string `grove:"idempotency_key"`
	Version            int64  `grove:"version"`
	CreatedAt          int64  `grove:"created_at"`
	UpdatedAt          int64  `grove:"updated_at"`
}

func ToChargeModel(c *charge.Charge) *ChargeModel {
	return &ChargeModel{
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
		CreatedAt:          ToMillis(c.CreatedAt),
		UpdatedAt:          ToMillis(c.UpdatedAt),
	}
}

func FromChargeModel(m *ChargeModel) (*charge.Charge, error) {
	chargeID, err := id.ParseChargeID(m.ID)
	if err != nil {
		return nil, err
	}
	return &charge.Charge{
		Entity:             types.Entity{CreatedAt: fromMillis(m.CreatedAt), UpdatedAt: fromMillis(m.UpdatedAt)},
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

// RefundModel is the payledger_refunds row.
type RefundModel struct {
	grove.BaseModel `grove:"table:payledger_refunds"`

	ID             string `grove:"id,pk"`
	ChargeID       string `grove:"charge_id"`
	Amount         int64  `grove:"amount"`
	Status         string `grove:"status"`
	IdempotencyKey string `grove:"idempotency_key"`
	ProcessorRef   string `grove:"processor_ref"`
	FailureReason  string `grove:"failure_reason"`
	External       bool   `grove:"external"`
	CreatedAt      int64  `grove:"created_at"`
	UpdatedAt      int64  `grove:"updated_at"`
}

func ToRefundModel(r *charge.Refund) *RefundModel {
	return &RefundModel{
		ID:             r.ID.String(),
		ChargeID:       r.ChargeID.String(),
		Amount:         r.Amount,
		Status:         string(r.Status),
		IdempotencyKey: r.IdempotencyKey,
		ProcessorRef:   r.ProcessorRef,
		FailureReason:  r.FailureReason,
		External:       r.External,
		CreatedAt:      ToMillis(r.CreatedAt),
		UpdatedAt:      ToMillis(r.UpdatedAt),
	}
}

func FromRefundModel(m *RefundModel) (*charge.Refund, error) {
	refundID, err := id.ParseRefundID(m.ID)
	if err != nil {
		return nil, err
	}
	chargeID, err := id.ParseChargeID(m.ChargeID)
	if err != nil {
		return nil, err
	}
	return &charge.Refund{
		Entity:         types.Entity{CreatedAt: fromMillis(m.CreatedAt), UpdatedAt: fromMillis(m.UpdatedAt)},
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

// SubscriptionModel is the payledger_subscriptions row.
type SubscriptionModel struct {
	grove.BaseModel `grove:"table:payledger_subscriptions"`

	ID                 string `grove:"id,pk"`
	CustomerID         string `grove:"customer_id"`
	PlanID             string `grove:"plan_id"`
	Status             string `grove:"status"`
	CurrentPeriodStart int64  `grove:"current_period_start"`
	CurrentPeriodEnd   int64  `grove:"current_period_end"`
	PastDueSince       *int64 `grove:"past_due_since"`
	CanceledAt         *int64 `grove:"canceled_at"`
	Version            int64  `grove:"version"`
	CreatedAt          int64  `grove:"created_at"`
	UpdatedAt          int64  `grove:"updated_at"`
}

func ToSubscriptionModel(sub *subscription.Subscription) *SubscriptionModel {
	return &SubscriptionModel{
		ID:                 sub.ID.String(),
		CustomerID:         sub.CustomerID,
		PlanID:             sub.PlanID,
		Status:             string(sub.Status),
		CurrentPeriodStart: ToMillis(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   ToMillis(sub.CurrentPeriodEnd),
		PastDueSince:       toNullMillis(sub.PastDueSince),
		CanceledAt:         toNullMillis(sub.CanceledAt),
		Version:            sub.Version,
		CreatedAt:          ToMillis(sub.CreatedAt),
		UpdatedAt:          ToMillis(sub.UpdatedAt),
	}
}

func FromSubscriptionModel(m *SubscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity:             types.Entity{CreatedAt: fromMillis(m.CreatedAt), UpdatedAt: fromMillis(m.UpdatedAt)},
		ID:                 subID,
		CustomerID:         m.CustomerID,
		PlanID:             m.PlanID,
		Status:             subscription.Status(m.Status),
		CurrentPeriodStart: fromMillis(m.CurrentPeriodStart),
		CurrentPeriodEnd:   fromMillis(m.CurrentPeriodEnd),
		PastDueSince:       fromNullMillis(m.PastDueSince),
		CanceledAt:         fromNullMillis(m.CanceledAt),
		Version:            m.Version,
	}, nil
}

// ==================== Invoice models ====================

// InvoiceModel is the payledger_invoices row.
type InvoiceModel struct {
	grove.BaseModel `grove:"table:payledger_invoices"`

	ID                 string `grove:"id,pk"`
	SubscriptionID     string `grove:"subscription_id"`
	AmountDue          int64  `grove:"amount_due"`
	Currency           string `grove:"currency"`
	Status             string `grove:"status"`
	BillingPeriodStart int64  `grove:"billing_period_start"`
	BillingPeriodEnd   int64  `grove:"billing_period_end"`
	PaidAt             *int64 `grove:"paid_at"`
	PaymentRef         string `grove:"payment_ref"`
	PaymentAttempts    int    `grove:"payment_attempts"`
	LastPaymentError   string `grove:"last_payment_error"`
	CreatedAt          int64  `grove:"created_at"`
	UpdatedAt          int64  `grove:"updated_at"`
}

func ToInvoiceModel(inv *invoice.Invoice) *InvoiceModel {
	return &InvoiceModel{
		ID:                 inv.ID.String(),
		SubscriptionID:     inv.SubscriptionID.String(),
		AmountDue:          inv.AmountDue.Amount,
		Currency:           inv.AmountDue.Currency,
		Status:             string(inv.Status),
		BillingPeriodStart: ToMillis(inv.BillingPeriodStart),
		BillingPeriodEnd:   ToMillis(inv.BillingPeriodEnd),
		PaidAt:             toNullMillis(inv.PaidAt),
		PaymentRef:         inv.PaymentRef,
		PaymentAttempts:    inv.PaymentAttempts,
		LastPaymentError:   inv.LastPaymentError,
		CreatedAt:          ToMillis(inv.CreatedAt),
		UpdatedAt:          ToMillis(inv.UpdatedAt),
	}
}

func FromInvoiceModel(m *InvoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return &invoice.Invoice{
		Entity:             types.Entity{CreatedAt: fromMillis(m.CreatedAt), UpdatedAt: fromMillis(m.UpdatedAt)},
		ID:                 invID,
		SubscriptionID:     subID,
		AmountDue:          types.New(m.AmountDue, m.Currency),
		Status:             invoice.Status(m.Status),
		BillingPeriodStart: fromMillis(m.BillingPeriodStart),
		BillingPeriodEnd:   fromMillis(m.BillingPeriodEnd),
		PaidAt:             fromNullMillis(m.PaidAt),
		PaymentRef:         m.PaymentRef,
		PaymentAttempts:    m.PaymentAttempts,
		LastPaymentError:   m.LastPaymentError,
	}, nil
}

// ==================== Event log models ====================

// RecordModel is the payledger_idempotency_records row.
type RecordModel struct {
	grove.BaseModel `grove:"table:payledger_idempotency_records"`

	Key            string  `grove:"idem_key,pk"`
	Action         string  `grove:"action"`
	Fingerprint    string  `grove:"fingerprint"`
	State          string  `grove:"state"`
	EntityID       string  `grove:"entity_id"`
	Result         *string `grove:"result"`
	LeaseExpiresAt int64   `grove:"lease_expires_at"`
	Attempts       int     `grove:"attempts"`
	FirstSeenAt    int64   `grove:"first_seen_at"`
	CompletedAt    *int64  `grove:"completed_at"`
	Version        int64   `grove:"version"`
}

func ToRecordModel(r *eventlog.Record) *RecordModel {
	return &RecordModel{
		Key:            r.Key,
		Action:         r.Action,
		Fingerprint:    string(r.Fingerprint),
		State:          string(r.State),
		EntityID:       r.EntityID,
		Result:         toNullJSON(r.Result),
		LeaseExpiresAt: ToMillis(r.LeaseExpiresAt),
		Attempts:       r.Attempts,
		FirstSeenAt:    ToMillis(r.FirstSeenAt),
		CompletedAt:    toNullMillis(r.CompletedAt),
		Version:        r.Version,
	}
}

func FromRecordModel(m *RecordModel) *eventlog.Record {
	r := &eventlog.Record{
		Key:            m.Key,
		Action:         m.Action,
		Fingerprint:    eventlog.Fingerprint(m.Fingerprint),
		State:          eventlog.State(m.State),
		EntityID:       m.EntityID,
		LeaseExpiresAt: fromMillis(m.LeaseExpiresAt),
		Attempts:       m.Attempts,
		FirstSeenAt:    fromMillis(m.FirstSeenAt),
		CompletedAt:    fromNullMillis(m.CompletedAt),
		Version:        m.Version,
	}
	if m.Result != nil {
		r.Result = json.RawMessage(*m.Result)
	}
	return r
}

// EntryModel is the payledger_journal_entries row. The seq column is
// assigned by the database and only used for ordering.
type EntryModel struct {
	grove.BaseModel `grove:"table:payledger_journal_entries"`

	ID             string  `grove:"id,pk"`
	Action         string  `grove:"action"`
	EntityType     string  `grove:"entity_type"`
	EntityID       string  `grove:"entity_id"`
	IdempotencyKey string  `grove:"idempotency_key"`
	Detail         *string `grove:"detail"`
	RecordedAt     int64   `grove:"recorded_at"`
}

func ToEntryModel(e *eventlog.Entry) (*EntryModel, error) {
	m := &EntryModel{
		ID:             e.ID.String(),
		Action:         e.Action,
		EntityType:     e.EntityType,
		EntityID:       e.EntityID,
		IdempotencyKey: e.IdempotencyKey,
		RecordedAt:     ToMillis(e.RecordedAt),
	}
	if len(e.Detail) > 0 {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return nil, err
		}
		detail := string(data)
		m.Detail = &detail
	}
	return m, nil
}

func FromEntryModel(m *EntryModel) (*eventlog.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	e := &eventlog.Entry{
		ID:             entryID,
		Action:         m.Action,
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		IdempotencyKey: m.IdempotencyKey,
		RecordedAt:     fromMillis(m.RecordedAt),
	}
	if m.Detail != nil {
		if err := json.Unmarshal([]byte(*m.Detail), &e.Detail); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ==================== Webhook models ====================

// DeliveryModel is the payledger_webhook_deliveries row.
type DeliveryModel struct {
	grove.BaseModel `grove:"table:payledger_webhook_deliveries"`

	ID          string `grove:"id,pk"`
	EventID     string `grove:"event_id"`
	Type        string `grove:"type"`
	Payload     string `grove:"payload"`
	ReceivedAt  int64  `grove:"received_at"`
	Status      string `grove:"status"`
	Reason      string `grove:"reason"`
	Duplicate   bool   `grove:"duplicate"`
	ProcessedAt *int64 `grove:"processed_at"`
}

func ToDeliveryModel(e *webhook.Event) *DeliveryModel {
	return &DeliveryModel{
		ID:          e.ID.String(),
		EventID:     e.EventID,
		Type:        e.Type,
		Payload:     string(e.Payload),
		ReceivedAt:  ToMillis(e.ReceivedAt),
		Status:      string(e.Status),
		Reason:      e.Reason,
		Duplicate:   e.Duplicate,
		ProcessedAt: toNullMillis(e.ProcessedAt),
	}
}

func FromDeliveryModel(m *DeliveryModel) (*webhook.Event, error) {
	deliveryID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, err
	}
	return &webhook.Event{
		ID:          deliveryID,
		EventID:     m.EventID,
		Type:        m.Type,
		Payload:     json.RawMessage(m.Payload),
		ReceivedAt:  fromMillis(m.ReceivedAt),
		Status:      webhook.Status(m.Status),
		Reason:      m.Reason,
		Duplicate:   m.Duplicate,
		ProcessedAt: fromNullMillis(m.ProcessedAt),
	}, nil
}

// FromModels converts a scanned slice.
func FromModels[M, T any](models []M, from func(*M) (*T, error)) ([]*T, error) {
	result := make([]*T, 0, len(models))
	for i := range models {
		item, err := from(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, nil
}
