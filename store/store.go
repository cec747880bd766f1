// Package store defines the aggregate persistence port of payledger.
package store

import (
	"context"

	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/webhook"
)

// Store is the unified storage interface for all payledger entities.
//
// Implementations return the payledger sentinels: ErrChargeNotFound,
// ErrRefundNotFound, ErrSubscriptionNotFound, ErrInvoiceNotFound and
// ErrNotFound for misses, ErrAlreadyExists for unique-key violations and
// ErrVersionConflict for failed conditional writes. Times round-trip at
// millisecond precision in UTC.
type Store interface {
	charge.Store
	subscription.Store
	invoice.Store
	eventlog.Store
	webhook.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
