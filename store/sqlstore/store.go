// Package sqlstore holds what the grove-backed SQL stores share: the row
// models and the version-checked writes that touch more than one table.
// The postgres and sqlite packages supply a Dialect and their migration
// groups, and run single-table queries through their own typed builders.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/webhook"
)

// Dialect captures the differences between SQL engines.
type Dialect struct {
	// Name prefixes wrapped errors, e.g. "sqlite".
	Name string

	// Numbered reports whether placeholders are $1, $2... instead of ?.
	Numbered bool

	// IsUniqueViolation reports whether err is a unique-constraint failure.
	IsUniqueViolation func(err error) bool
}

// Wrap maps driver errors onto payledger sentinels.
func (d Dialect) Wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case payledger.IsNotFound(err),
		errors.Is(err, payledger.ErrAlreadyExists),
		errors.Is(err, payledger.ErrVersionConflict):
		return err
	case d.IsUniqueViolation != nil && d.IsUniqueViolation(err):
		return fmt.Errorf("payledger/%s: %s: %w", d.Name, op, payledger.ErrAlreadyExists)
	case errors.Is(err, grove.ErrDriverClosed), errors.Is(err, sql.ErrConnDone),
		strings.Contains(err.Error(), "database is closed"),
		strings.Contains(err.Error(), "closed pool"):
		return fmt.Errorf("payledger/%s: %s: %w", d.Name, op, payledger.ErrStoreClosed)
	default:
		return fmt.Errorf("payledger/%s: %s: %w", d.Name, op, err)
	}
}

// Rebind rewrites ? placeholders for numbered dialects.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsNoRows reports whether a single-row scan found nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, grove.ErrNoRows)
}

// Writer performs the version-checked saves. Each runs in one driver
// transaction so the aggregate row and its children commit together.
type Writer struct {
	drv     driver.Driver
	dialect Dialect
}

// NewWriter returns a Writer over drv.
func NewWriter(drv driver.Driver, dialect Dialect) *Writer {
	return &Writer{drv: drv, dialect: dialect}
}

func (w *Writer) inTx(ctx context.Context, fn func(tx driver.Tx) error) error {
	tx, err := w.drv.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (w *Writer) exec(ctx context.Context, tx driver.Tx, query string, args ...any) (driver.Result, error) {
	return tx.Exec(ctx, w.dialect.Rebind(query), args...)
}

// swapped interprets a conditional UPDATE: nil when a row changed,
// notFound when key has no row, ErrVersionConflict otherwise.
func (w *Writer) swapped(ctx context.Context, tx driver.Tx, res driver.Result, table, keyCol, key string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var count int64
	err = tx.QueryRow(ctx, w.dialect.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE `+keyCol+` = ?`), key).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return payledger.ErrVersionConflict
}

// ==================== Charges ====================

const updateCharge = `UPDATE payledger_charges SET
    status = ?, amount_refunded = ?, amount_reserved = ?, processor_ref = ?,
    failure_reason = ?, version = ?, updated_at = ?
WHERE id = ? AND version = ?`

const upsertRefund = `INSERT INTO payledger_refunds (
    id, charge_id, amount, status, idempotency_key, processor_ref,
    failure_reason, external, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    status = excluded.status,
    processor_ref = excluded.processor_ref,
    failure_reason = excluded.failure_reason,
    updated_at = excluded.updated_at`

func (w *Writer) SaveCharge(ctx context.Context, c *charge.Charge, expectedVersion int64, refunds ...*charge.Refund) error {
	next := expectedVersion + 1
	err := w.inTx(ctx, func(tx driver.Tx) error {
		res, err := w.exec(ctx, tx, updateCharge,
			string(c.Status), c.AmountRefunded, c.AmountReserved, c.ProcessorRef,
			c.FailureReason, next, ToMillis(c.UpdatedAt),
			c.ID.String(), expectedVersion)
		if err != nil {
			return err
		}
		if err := w.swapped(ctx, tx, res, "payledger_charges", "id", c.ID.String(), payledger.ErrChargeNotFound); err != nil {
			return err
		}

		for _, r := range refunds {
			m := ToRefundModel(r)
			_, err := w.exec(ctx, tx, upsertRefund,
				m.ID, m.ChargeID, m.Amount, m.Status, m.IdempotencyKey, m.ProcessorRef,
				m.FailureReason, m.External, m.CreatedAt, m.UpdatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return w.dialect.Wrap("save charge", err)
	}
	c.Version = next
	return nil
}

// ==================== Subscriptions ====================

const updateSubscription = `UPDATE payledger_subscriptions SET
    status = ?, current_period_start = ?, current_period_end = ?, past_due_since = ?,
    canceled_at = ?, version = ?, updated_at = ?
WHERE id = ? AND version = ?`

const upsertInvoice = `INSERT INTO payledger_invoices (
    id, subscription_id, amount_due, currency, status, billing_period_start,
    billing_period_end, paid_at, payment_ref, payment_attempts, last_payment_error,
    created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    amount_due = excluded.amount_due,
    status = excluded.status,
    paid_at = excluded.paid_at,
    payment_ref = excluded.payment_ref,
    payment_attempts = excluded.payment_attempts,
    last_payment_error = excluded.last_payment_error,
    updated_at = excluded.updated_at`

func (w *Writer) SaveSubscription(ctx context.Context, sub *subscription.Subscription, expectedVersion int64, invoices ...*invoice.Invoice) error {
	next := expectedVersion + 1
	err := w.inTx(ctx, func(tx driver.Tx) error {
		m := ToSubscriptionModel(sub)
		res, err := w.exec(ctx, tx, updateSubscription,
			m.Status, m.CurrentPeriodStart, m.CurrentPeriodEnd, m.PastDueSince,
			m.CanceledAt, next, m.UpdatedAt,
			m.ID, expectedVersion)
		if err != nil {
			return err
		}
		if err := w.swapped(ctx, tx, res, "payledger_subscriptions", "id", m.ID, payledger.ErrSubscriptionNotFound); err != nil {
			return err
		}

		for _, inv := range invoices {
			im := ToInvoiceModel(inv)
			_, err := w.exec(ctx, tx, upsertInvoice,
				im.ID, im.SubscriptionID, im.AmountDue, im.Currency, im.Status, im.BillingPeriodStart,
				im.BillingPeriodEnd, im.PaidAt, im.PaymentRef, im.PaymentAttempts, im.LastPaymentError,
				im.CreatedAt, im.UpdatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return w.dialect.Wrap("save subscription", err)
	}
	sub.Version = next
	return nil
}

// ==================== Event log ====================

const updateRecord = `UPDATE payledger_idempotency_records SET
    state = ?, entity_id = ?, result = ?, lease_expires_at = ?, attempts = ?,
    completed_at = ?, version = ?
WHERE idem_key = ? AND version = ?`

func (w *Writer) SaveRecord(ctx context.Context, r *eventlog.Record, expectedVersion int64) error {
	next := expectedVersion + 1
	err := w.inTx(ctx, func(tx driver.Tx) error {
		m := ToRecordModel(r)
		res, err := w.exec(ctx, tx, updateRecord,
			m.State, m.EntityID, m.Result, m.LeaseExpiresAt, m.Attempts,
			m.CompletedAt, next,
			m.Key, expectedVersion)
		if err != nil {
			return err
		}
		return w.swapped(ctx, tx, res, "payledger_idempotency_records", "idem_key", m.Key, payledger.ErrNotFound)
	})
	if err != nil {
		return w.dialect.Wrap("save record", err)
	}
	r.Version = next
	return nil
}

// ==================== Webhooks ====================

const finishDelivery = `UPDATE payledger_webhook_deliveries SET
    status = ?, reason = ?, duplicate = ?, processed_at = ?
WHERE id = ? AND status = ?`

// FinishWebhookEvent records the outcome of a delivery that is still in
// the received state.
func (w *Writer) FinishWebhookEvent(ctx context.Context, e *webhook.Event) error {
	err := w.inTx(ctx, func(tx driver.Tx) error {
		m := ToDeliveryModel(e)
		res, err := w.exec(ctx, tx, finishDelivery,
			m.Status, m.Reason, m.Duplicate, m.ProcessedAt,
			m.ID, string(webhook.StatusReceived))
		if err != nil {
			return err
		}
		return w.swapped(ctx, tx, res, "payledger_webhook_deliveries", "id", m.ID, payledger.ErrNotFound)
	})
	return w.dialect.Wrap("finish webhook event", err)
}
