// Package redis implements eventlog.Store on Redis, for deployments that
// keep idempotency records and journal entries out of the main database.
//
// Records are JSON strings under "<prefix>record:<key>". Conditional
// writes use WATCH/MULTI so a concurrent save aborts the transaction and
// surfaces as a version conflict. Journal entries are appended to a list
// per entity.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/eventlog"
)

var _ eventlog.Store = (*Store)(nil)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "payledger:"

// Store implements eventlog.Store on a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to addr and pings the server.
func Open(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("payledger/redis: connect %s: %w", addr, err)
	}
	return New(client, opts...), nil
}

// Ping checks server connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) recordKey(key string) string { return s.prefix + "record:" + key }

func (s *Store) entriesKey(entityID string) string { return s.prefix + "entries:" + entityID }

func (s *Store) InsertRecord(ctx context.Context, r *eventlog.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return wrap("insert record", err)
	}
	ok, err := s.client.SetNX(ctx, s.recordKey(r.Key), data, 0).Result()
	if err != nil {
		return wrap("insert record", err)
	}
	if !ok {
		return payledger.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, key string) (*eventlog.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, payledger.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get record", err)
	}
	r := new(eventlog.Record)
	if err := json.Unmarshal(data, r); err != nil {
		return nil, wrap("decode record", err)
	}
	return r, nil
}

func (s *Store) SaveRecord(ctx context.Context, r *eventlog.Record, expectedVersion int64) error {
	key := s.recordKey(r.Key)
	next := r.Clone()
	next.Version = expectedVersion + 1
	data, err := json.Marshal(next)
	if err != nil {
		return wrap("save record", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return payledger.ErrNotFound
		}
		if err != nil {
			return err
		}
		var stored eventlog.Record
		if err := json.Unmarshal(current, &stored); err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return payledger.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return payledger.ErrVersionConflict
	}
	if err != nil {
		return wrap("save record", err)
	}
	r.Version = next.Version
	return nil
}

func (s *Store) AppendEntry(ctx context.Context, e *eventlog.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return wrap("append entry", err)
	}
	return wrap("append entry", s.client.RPush(ctx, s.entriesKey(e.EntityID), data).Err())
}

func (s *Store) ListEntries(ctx context.Context, entityID string, limit int) ([]*eventlog.Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := s.client.LRange(ctx, s.entriesKey(entityID), 0, stop).Result()
	if err != nil {
		return nil, wrap("list entries", err)
	}
	result := make([]*eventlog.Entry, 0, len(raw))
	for _, item := range raw {
		e := new(eventlog.Entry)
		if err := json.Unmarshal([]byte(item), e); err != nil {
			return nil, wrap("decode entry", err)
		}
		result = append(result, e)
	}
	return result, nil
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case payledger.IsNotFound(err),
		errors.Is(err, payledger.ErrAlreadyExists),
		errors.Is(err, payledger.ErrVersionConflict):
		return err
	case errors.Is(err, redis.ErrClosed):
		return fmt.Errorf("payledger/redis: %s: %w", op, payledger.ErrStoreClosed)
	default:
		return fmt.Errorf("payledger/redis: %s: %w", op, err)
	}
}
