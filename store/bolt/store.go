// Package bolt implements store.Store on an embedded BoltDB file.
//
// Entities are stored as JSON under their ID. Secondary indexes (idempotency
// keys, refunds per charge, invoices per billing period) live in their own
// buckets and are written in the same transaction as the entity, so a
// version-checked save and its child rows commit together or not at all.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/store"
)

var _ store.Store = (*Store)(nil)

var (
	bucketCharges       = []byte("charges")
	bucketChargeKeys    = []byte("charge_keys")
	bucketRefunds       = []byte("refunds")
	bucketRefundKeys    = []byte("refund_keys")
	bucketChargeRefunds = []byte("charge_refunds")
	bucketSubscriptions = []byte("subscriptions")
	bucketInvoices      = []byte("invoices")
	bucketPeriods       = []byte("invoice_periods")
	bucketRecords       = []byte("idempotency_records")
	bucketEntries       = []byte("journal_entries")
	bucketDeliveries    = []byte("webhook_deliveries")
)

var allBuckets = [][]byte{
	bucketCharges, bucketChargeKeys, bucketRefunds, bucketRefundKeys,
	bucketChargeRefunds, bucketSubscriptions, bucketInvoices, bucketPeriods,
	bucketRecords, bucketEntries, bucketDeliveries,
}

// Store wraps a BoltDB database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database file at path and ensures every
// bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("payledger/bolt: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing buckets. It is safe to run on every startup.
func (s *Store) Migrate(_ context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap("migrate", err)
	}
	return nil
}

// Ping checks that the database file is still open.
func (s *Store) Ping(_ context.Context) error {
	return wrap("ping", s.db.View(func(*bolt.Tx) error { return nil }))
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.db.Path() }

// wrap returns payledger sentinels unchanged and annotates driver errors.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return fmt.Errorf("payledger/bolt: %s: %w", op, payledger.ErrStoreClosed)
	case payledger.IsNotFound(err),
		errors.Is(err, payledger.ErrAlreadyExists),
		errors.Is(err, payledger.ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("payledger/bolt: %s: %w", op, err)
	}
}

func put(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// get decodes the value under key into v. It reports false when the key is
// absent.
func get(b *bolt.Bucket, key string, v any) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// scan decodes every value whose key starts with prefix, in key order.
func scan[T any](b *bolt.Bucket, prefix string, keep func(*T) bool) ([]*T, error) {
	result := make([]*T, 0)
	c := b.Cursor()
	var k, v []byte
	if prefix == "" {
		k, v = c.First()
	} else {
		k, v = c.Seek([]byte(prefix))
	}
	for ; k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		item := new(T)
		if err := json.Unmarshal(v, item); err != nil {
			return nil, err
		}
		if keep == nil || keep(item) {
			result = append(result, item)
		}
	}
	return result, nil
}

func hasPrefix(k []byte, prefix string) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == prefix
}

// indexKey joins parts with a NUL separator so prefixes never collide.
func indexKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "\x00"
		}
		key += p
	}
	return key
}

// millisKey renders t as a fixed-width sortable string.
func millisKey(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixMilli())
}

func olderFirst(a, b time.Time, aID, bID id.ID) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID.String() < bID.String()
}

func sortBy[T any](items []*T, created func(*T) time.Time, ident func(*T) id.ID) {
	sort.Slice(items, func(i, j int) bool {
		return olderFirst(created(items[i]), created(items[j]), ident(items[i]), ident(items[j]))
	})
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
