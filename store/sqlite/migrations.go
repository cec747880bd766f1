package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the payledger store (SQLite).
var Migrations = migrate.NewGroup("payledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_payledger_charges",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS payledger_charges (
    id                   TEXT PRIMARY KEY,
    customer_id          TEXT NOT NULL DEFAULT '',
    amount               INTEGER NOT NULL,
    currency             TEXT NOT NULL,
    payment_method_token TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'pending',
    amount_refunded      INTEGER NOT NULL DEFAULT 0,
    amount_reserved      INTEGER NOT NULL DEFAULT 0,
    processor_ref        TEXT NOT NULL DEFAULT '',
    failure_reason       TEXT NOT NULL DEFAULT '',
    idempotency_key      TEXT NOT NULL UNIQUE,
    version              INTEGER NOT NULL DEFAULT 0,
    created_at           INTEGER NOT NULL,
    updated_at           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payledger_charges_customer ON payledger_charges (customer_id, created_at);

CREATE INDEX IF NOT EXISTS idx_payledger_charges_status ON payledger_charges (status, created_at);

CREATE TABLE IF NOT EXISTS payledger_refunds (
    id              TEXT PRIMARY KEY,
    charge_id       TEXT NOT NULL REFERENCES payledger_charges (id),
    amount          INTEGER NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    idempotency_key TEXT NOT NULL UNIQUE,
    processor_ref   TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT '',
    external        BOOLEAN NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payledger_refunds_charge ON payledger_refunds (charge_id, created_at);

CREATE INDEX IF NOT EXISTS idx_payledger_refunds_status ON payledger_refunds (status, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payledger_refunds;
DROP TABLE IF EXISTS payledger_charges`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_payledger_subscriptions",
			Version: "20260301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS payledger_subscriptions (
    id                   TEXT PRIMARY KEY,
    customer_id          TEXT NOT NULL,
    plan_id              TEXT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'active',
    current_period_start INTEGER NOT NULL,
    current_period_end   INTEGER NOT NULL,
    past_due_since       INTEGER,
    canceled_at          INTEGER,
    version              INTEGER NOT NULL DEFAULT 0,
    created_at           INTEGER NOT NULL,
    updated_at           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payledger_subs_customer ON payledger_subscriptions (customer_id);

CREATE INDEX IF NOT EXISTS idx_payledger_subs_past_due ON payledger_subscriptions (status, past_due_since);

CREATE TABLE IF NOT EXISTS payledger_invoices (
    id                   TEXT PRIMARY KEY,
    subscription_id      TEXT NOT NULL REFERENCES payledger_subscriptions (id),
    amount_due           INTEGER NOT NULL,
    currency             TEXT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'open',
    billing_period_start INTEGER NOT NULL,
    billing_period_end   INTEGER NOT NULL,
    paid_at              INTEGER,
    payment_ref          TEXT NOT NULL DEFAULT '',
    payment_attempts     INTEGER NOT NULL DEFAULT 0,
    last_payment_error   TEXT NOT NULL DEFAULT '',
    created_at           INTEGER NOT NULL,
    updated_at           INTEGER NOT NULL,
    UNIQUE (subscription_id, billing_period_start)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payledger_invoices;
DROP TABLE IF EXISTS payledger_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_payledger_event_log",
			Version: "20260301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS payledger_idempotency_records (
    idem_key         TEXT PRIMARY KEY,
    action           TEXT NOT NULL,
    fingerprint      TEXT NOT NULL,
    state            TEXT NOT NULL,
    entity_id        TEXT NOT NULL DEFAULT '',
    result           TEXT,
    lease_expires_at INTEGER NOT NULL,
    attempts         INTEGER NOT NULL DEFAULT 0,
    first_seen_at    INTEGER NOT NULL,
    completed_at     INTEGER,
    version          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS payledger_journal_entries (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    action          TEXT NOT NULL,
    entity_type     TEXT NOT NULL,
    entity_id       TEXT NOT NULL,
    idempotency_key TEXT NOT NULL DEFAULT '',
    detail          TEXT,
    recorded_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payledger_entries_entity ON payledger_journal_entries (entity_id, seq);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payledger_journal_entries;
DROP TABLE IF EXISTS payledger_idempotency_records`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_payledger_webhook_deliveries",
			Version: "20260301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS payledger_webhook_deliveries (
    id           TEXT PRIMARY KEY,
    event_id     TEXT NOT NULL,
    type         TEXT NOT NULL DEFAULT '',
    payload      TEXT NOT NULL DEFAULT '',
    received_at  INTEGER NOT NULL,
    status       TEXT NOT NULL DEFAULT 'received',
    reason       TEXT NOT NULL DEFAULT '',
    duplicate    BOOLEAN NOT NULL DEFAULT 0,
    processed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_payledger_deliveries_event ON payledger_webhook_deliveries (event_id, received_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payledger_webhook_deliveries`)
				return err
			},
		},
	)
}
