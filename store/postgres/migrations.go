package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the payledger store (PostgreSQL).
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
    amount               BIGINT NOT NULL,
    currency             TEXT NOT NULL,
    payment_method_token TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'pending',
    amount_refunded      BIGINT NOT NULL DEFAULT 0,
    amount_reserved      BIGINT NOT NULL DEFAULT 0,
    processor_ref        TEXT NOT NULL DEFAULT '',
    failure_reason       TEXT NOT NULL DEFAULT '',
    idempotency_key      TEXT NOT NULL UNIQUE,
    version              BIGINT NOT NULL DEFAULT 0,
    created_at           BIGINT NOT NULL,
    updated_at           BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payledger_charges_customer ON payledger_charges (customer_id, created_at);

CREATE INDEX IF NOT EXISTS idx_payledger_charges_status ON payledger_charges (status, created_at);

CREATE TABLE IF NOT EXISTS payledger_refunds (
    id              TEXT PRIMARY KEY,
    charge_id       TEXT NOT NULL REFERENCES payledger_charges (id),
    amount          BIGINT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    idempotency_key TEXT NOT NULL UNIQUE,
    processor_ref   TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT '',
    external        BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      BIGINT NOT NULL,
    updated_at      BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payledger_refunds_charge ON payledger_refunds (charge_id, created_at);

CREATE INDEX IF NOT EXISTS idx_payledger_refunds_status ON payledger_refunds (status, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payledger_refunds, payledger_charges`)
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
    current_period_start BIGINT NOT NULL,
    current_period_end   BIGINT NOT NULL,
    past_due_since       BIGINT,
    canceled_at          BIGINT,
    version              BIGINT NOT NULL DEFAULT 0,
    created_at           BIGINT NOT NULL,
    updated_at           BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payledger_subs_customer ON payledger_subscriptions (customer_id);

CREATE INDEX IF NOT EXISTS idx_payledger_subs_past_due ON payledger_subscriptions (status, past_due_since);

CREATE TABLE IF NOT EXISTS payledger_invoices (
    id                   TEXT PRIMARY KEY,
    subscription_id      TEXT NOT NULL REFERENCES payledger_subscriptions (id),
    amount_due           BIGINT NOT NULL,
    currency             TEXT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'open',
    billing_period_start BIGINT NOT NULL,
    billing_period_end   BIGINT NOT NULL,
    paid_at              BIGINT,
    payment_ref          TEXT NOT NULL DEFAULT '',
    payment_attempts     BIGINT NOT NULL DEFAULT 0,
    last_payment_error   TEXT NOT NULL DEFAULT '',
    created_at           BIGINT NOT NULL,
    updated_at           BIGINT NOT NULL,
    UNIQUE (subscription_id, billing_period_start)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payledger_invoices, payledger_subscriptions`)
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
    lease_expires_at BIGINT NOT NULL,
    attempts         BIGINT NOT NULL DEFAULT 0,
    first_seen_at    BIGINT NOT NULL,
    completed_at     BIGINT,
    version          BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS payledger_journal_entries (
    seq             BIGSERIAL PRIMARY KEY,
    id              TEXT NOT NULL UNIQUE,
    action          TEXT NOT NULL,
    entity_type     TEXT NOT NULL,
    entity_id       TEXT NOT NULL,
    idempotency_key TEXT NOT NULL DEFAULT '',
    detail          TEXT,
    recorded_at     BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payledger_entries_entity ON payledger_journal_entries (entity_id, seq);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS payledger_journal_entries, payledger_idempotency_records`)
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
    received_at  BIGINT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'received',
    reason       TEXT NOT NULL DEFAULT '',
    duplicate    BOOLEAN NOT NULL DEFAULT FALSE,
    processed_at BIGINT
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
