// Package mongo provides a MongoDB-backed store.Store on Grove ORM.
//
// Version-checked saves that write child documents (refunds with their
// charge, invoices with their subscription) run in a multi-document
// transaction, so the deployment must be a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/payledger"
	ledgerstore "github.com/xraph/payledger/store"
)

// Collection name constants.
const (
	colCharges       = "payledger_charges"
	colRefunds       = "payledger_refunds"
	colSubscriptions = "payledger_subscriptions"
	colInvoices      = "payledger_invoices"
	colRecords       = "payledger_idempotency_records"
	colEntries       = "payledger_journal_entries"
	colDeliveries    = "payledger_webhook_deliveries"
	colCounters      = "payledger_counters"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// Open connects to uri, pings the primary, and ensures indexes exist in
// the named database. An empty database uses the one in the URI path.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	mdb := mongodriver.New()
	var err error
	if database != "" {
		err = mdb.Open(ctx, uri, mongodriver.WithDatabase(database))
	} else {
		err = mdb.Open(ctx, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("payledger/mongo: connect: %w", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		_ = mdb.Close()
		return nil, fmt.Errorf("payledger/mongo: connect: %w", err)
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

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Database returns the MongoDB database the store writes to.
func (s *Store) Database() *mongo.Database { return s.mdb.Database() }

// Migrate creates indexes for all payledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("payledger/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.db.Ping(ctx))
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) col(name string) *mongo.Collection { return s.mdb.Collection(name) }

// inTx runs fn inside a multi-document transaction. The driver retries fn
// on transient transaction errors.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := s.mdb.Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// casUpdate replaces the document with _id docID if its version equals
// expected. It distinguishes a missing document from a stale version.
func (s *Store) casUpdate(ctx context.Context, col, docID string, expected int64, doc any, notFound error) error {
	res, err := s.col(col).ReplaceOne(ctx, bson.M{"_id": docID, "version": expected}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.col(col).CountDocuments(ctx, bson.M{"_id": docID})
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return payledger.ErrVersionConflict
}

// fromModels converts a scanned slice.
func fromModels[M, T any](models []M, from func(*M) (*T, error)) ([]*T, error) {
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

// wrap returns payledger sentinels unchanged and annotates driver errors.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case payledger.IsNotFound(err),
		errors.Is(err, payledger.ErrAlreadyExists),
		errors.Is(err, payledger.ErrVersionConflict):
		return err
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("payledger/mongo: %s: %w", op, payledger.ErrAlreadyExists)
	case errors.Is(err, mongo.ErrClientDisconnected), errors.Is(err, grove.ErrDriverClosed):
		return fmt.Errorf("payledger/mongo: %s: %w", op, payledger.ErrStoreClosed)
	default:
		return fmt.Errorf("payledger/mongo: %s: %w", op, err)
	}
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func ascending(fields ...string) bson.D {
	d := make(bson.D, 0, len(fields))
	for _, f := range fields {
		d = append(d, bson.E{Key: f, Value: 1})
	}
	return d
}

// migrationIndexes returns the index definitions for all payledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colCharges: {
			{Keys: ascending("idempotency_key"), Options: options.Index().SetUnique(true)},
			{Keys: ascending("customer_id", "created_at")},
			{Keys: ascending("status", "created_at")},
		},
		colRefunds: {
			{Keys: ascending("idempotency_key"), Options: options.Index().SetUnique(true)},
			{Keys: ascending("charge_id", "created_at")},
			{Keys: ascending("status", "created_at")},
		},
		colSubscriptions: {
			{Keys: ascending("customer_id", "created_at")},
			{Keys: ascending("status", "past_due_since")},
		},
		colInvoices: {
			{Keys: ascending("subscription_id", "billing_period_start"), Options: options.Index().SetUnique(true)},
		},
		colEntries: {
			{Keys: ascending("entity_id", "seq")},
		},
		colDeliveries: {
			{Keys: ascending("event_id", "received_at")},
		},
	}
}
