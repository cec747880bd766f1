// Package postgres provides a PostgreSQL-backed store.Store on Grove ORM.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the "pg" migration executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/invoice"
	ledgerstore "github.com/xraph/payledger/store"
	"github.com/xraph/payledger/store/sqlstore"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/webhook"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Dialect is the PostgreSQL flavour of the shared SQL models.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Numbered:          true,
	IsUniqueViolation: isUniqueViolation,
}

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	*sqlstore.Writer

	db *grove.DB
	pg *pgdriver.PgDB
}

// Open connects to dsn, verifies the connection, and runs migrations.
func Open(ctx context.Context, dsn string, opts ...driver.Option) (*Store, error) {
	pgdb := pgdriver.New()
	if err := pgdb.Open(ctx, dsn, opts...); err != nil {
		return nil, fmt.Errorf("payledger/postgres: open: %w", err)
	}
	db, err := grove.Open(pgdb)
	if err != nil {
		_ = pgdb.Close()
		return nil, fmt.Errorf("payledger/postgres: open: %w", err)
	}

	s := New(db)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	pg := pgdriver.Unwrap(db)
	return &Store{
		Writer: sqlstore.NewWriter(pg, Dialect),
		db:     db,
		pg:     pg,
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("payledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("payledger/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return Dialect.Wrap("ping", s.db.Ping(ctx))
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Charge Store ====================

func (s *Store) CreateCharge(ctx context.Context, c *charge.Charge) error {
	_, err := s.pg.NewInsert(sqlstore.ToChargeModel(c)).Exec(ctx)
	return Dialect.Wrap("create charge", err)
}

func (s *Store) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return s.findCharge(ctx, "get charge", "id = $1", chargeID.String())
}

func (s *Store) GetChargeByIdempotencyKey(ctx context.Context, key string) (*charge.Charge, error) {
	return s.findCharge(ctx, "get charge by key", "idempotency_key = $1", key)
}

func (s *Store) findCharge(ctx context.Context, op, where string, arg any) (*charge.Charge, error) {
	m := new(sqlstore.ChargeModel)
	if err := s.pg.NewSelect(m).Where(where, arg).Scan(ctx); err != nil {
		if sqlstore.IsNoRows(err) {
			return nil, payledger.ErrChargeNotFound
		}
		return nil, Dialect.Wrap(op, err)
	}
	return sqlstore.FromChargeModel(m)
}

func (s *Store) ListCharges(ctx context.Context, opts charge.ListOpts) ([]*charge.Charge, error) {
	var models []sqlstore.ChargeModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.CustomerID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_id = $%d", argIdx), opts.CustomerID)
	}
	if !opts.CreatedBefore.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at < $%d", argIdx), sqlstore.ToMillis(opts.CreatedBefore))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, Dialect.Wrap("list charges", err)
	}
	return sqlstore.FromModels(models, sqlstore.FromChargeModel)
}

func (s *Store) GetRefund(ctx context.Context, refundID id.RefundID) (*charge.Refund, error) {
	return s.findRefund(ctx, "get refund", "id = $1", refundID.String())
}

func (s *Store) GetRefundByIdempotencyKey(ctx context.Context, key string) (*charge.Refund, error) {
	return s.findRefund(ctx, "get refund by key", "idempotency_key = $1", key)
}

func (s *Store) findRefund(ctx context.Context, op, where string, arg any) (*charge.Refund, error) {
	m := new(sqlstore.RefundModel)
	if err := s.pg.NewSelect(m).Where(where, arg).Scan(ctx); err != nil {
		if sqlstore.IsNoRows(err) {
			return nil, payledger.ErrRefundNotFound
		}
		return nil, Dialect.Wrap(op, err)
	}
	return sqlstore.FromRefundModel(m)
}

func (s *Store) ListRefunds(ctx context.Context, chargeID id.ChargeID) ([]*charge.Refund, error) {
	var models []sqlstore.RefundModel
	err := s.pg.NewSelect(&models).
		Where("charge_id = $1", chargeID.String()).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, Dialect.Wrap("list refunds", err)
	}
	return sqlstore.FromModels(models, sqlstore.FromRefundModel)
}

func (s *Store) ListPendingRefunds(ctx context.Context, createdBefore time.Time, limit int) ([]*charge.Refund, error) {
	var models []sqlstore.RefundModel
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(charge.RefundPending)).
		Where("created_at < $2", sqlstore.ToMillis(createdBefore)).
		OrderExpr("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, Dialect.Wrap("list pending refunds", err)
	}
	return sqlstore.FromModels(models, sqlstore.FromRefundModel)
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.pg.NewInsert(sqlstore.ToSubscriptionModel(sub)).Exec(ctx)
	return Dialect.Wrap("create subscription", err)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(sqlstore.SubscriptionModel)
	if err := s.pg.NewSelect(m).Where("id = $1", subID.String()).Scan(ctx); err != nil {
		if sqlstore.IsNoRows(err) {
			return nil, payledger.ErrSubscriptionNotFound
		}
		return nil, Dialect.Wrap("get subscription", err)
	}
	return sqlstore.FromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []sqlstore.SubscriptionModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.CustomerID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_id = $%d", argIdx), opts.CustomerID)
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if !opts.PastDueBefore.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("past_due_since IS NOT NULL AND past_due_since <= $%d", argIdx),
			sqlstore.ToMillis(opts.PastDueBefore))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, Dialect.Wrap("list subscriptions", err)
	}
	return sqlstore.FromModels(models, sqlstore.FromSubscriptionModel)
}

// ==================== Invoice Store ====================

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	m := new(sqlstore.InvoiceModel)
	if err := s.pg.NewSelect(m).Where("id = $1", invID.String()).Scan(ctx); err != nil {
		if sqlstore.IsNoRows(err) {
			return nil, payledger.ErrInvoiceNotFound
		}
		return nil, Dialect.Wrap("get invoice", err)
	}
	return sqlstore.FromInvoiceModel(m)
}

func (s *Store) GetInvoiceByPeriod(ctx context.Context, subID id.SubscriptionID, periodStart time.Time) (*invoice.Invoice, error) {
	m := new(sqlstore.InvoiceModel)
	err := s.pg.NewSelect(m).
		Where("subscription_id = $1", subID.String()).
		Where("billing_period_start = $2", sqlstore.ToMillis(periodStart)).
		Scan(ctx)
	if err != nil {
		if sqlstore.IsNoRows(err) {
			return nil, payledger.ErrInvoiceNotFound
		}
		return nil, Dialect.Wrap("get invoice by period", err)
	}
	return sqlstore.FromInvoiceModel(m)
}

func (s *Store) ListInvoices(ctx context.Context, subID id.SubscriptionID) ([]*invoice.Invoice, error) {
	var models []sqlstore.InvoiceModel
	err := s.pg.NewSelect(&models).
		Where("subscription_id = $1", subID.String()).
		OrderExpr("billing_period_start ASC").
		Scan(ctx)
	if err != nil {
		return nil, Dialect.Wrap("list invoices", err)
	}
	return sqlstore.FromModels(models, sqlstore.FromInvoiceModel)
}

// ==================== Event log Store ====================

func (s *Store) InsertRecord(ctx context.Context, r *eventlog.Record) error {
	_, err := s.pg.NewInsert(sqlstore.ToRecordModel(r)).Exec(ctx)
	return Dialect.Wrap("insert record", err)
}

func (s *Store) GetRecord(ctx context.Context, key string) (*eventlog.Record, error) {
	m := new(sqlstore.RecordModel)
	if err := s.pg.NewSelect(m).Where("idem_key = $1", key).Scan(ctx); err != nil {
		if sqlstore.IsNoRows(err) {
			return nil, payledger.ErrNotFound
		}
		return nil, Dialect.Wrap("get record", err)
	}
	return sqlstore.FromRecordModel(m), nil
}

func (s *Store) AppendEntry(ctx context.Context, e *eventlog.Entry) error {
	m, err := sqlstore.ToEntryModel(e)
	if err != nil {
		return Dialect.Wrap("append entry", err)
	}
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return Dialect.Wrap("append entry", err)
}

func (s *Store) ListEntries(ctx context.Context, entityID string, limit int) ([]*eventlog.Entry, error) {
	var models []sqlstore.EntryModel
	q := s.pg.NewSelect(&models).
		Where("entity_id = $1", entityID).
		OrderExpr("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, Dialect.Wrap("list entries", err)
	}
	return sqlstore.FromModels(models, sqlstore.FromEntryModel)
}

// ==================== Webhook Store ====================

func (s *Store) CreateWebhookEvent(ctx context.Context, e *webhook.Event) error {
	_, err := s.pg.NewInsert(sqlstore.ToDeliveryModel(e)).Exec(ctx)
	return Dialect.Wrap("create webhook event", err)
}

func (s *Store) GetWebhookEvent(ctx context.Context, deliveryID id.DeliveryID) (*webhook.Event, error) {
	m := new(sqlstore.DeliveryModel)
	if err := s.pg.NewSelect(m).Where("id = $1", deliveryID.String()).Scan(ctx); err != nil {
		if sqlstore.IsNoRows(err) {
			return nil, payledger.ErrNotFound
		}
		return nil, Dialect.Wrap("get webhook event", err)
	}
	return sqlstore.FromDeliveryModel(m)
}

func (s *Store) ListWebhookEvents(ctx context.Context, eventID string) ([]*webhook.Event, error) {
	var models []sqlstore.DeliveryModel
	err := s.pg.NewSelect(&models).
		Where("event_id = $1", eventID).
		OrderExpr("received_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, Dialect.Wrap("list webhook events", err)
	}
	return sqlstore.FromModels(models, sqlstore.FromDeliveryModel)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
