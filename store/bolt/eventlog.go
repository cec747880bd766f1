package bolt

import (
	"context"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/webhook"
)

// ==================== Event log Store ====================

func (s *Store) InsertRecord(_ context.Context, r *eventlog.Record) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b.Get([]byte(r.Key)) != nil {
			return payledger.ErrAlreadyExists
		}
		return put(b, r.Key, r)
	})
	return wrap("insert record", err)
}

func (s *Store) GetRecord(_ context.Context, key string) (*eventlog.Record, error) {
	r := new(eventlog.Record)
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx.Bucket(bucketRecords), key, r)
		if err == nil && !found {
			return payledger.ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, wrap("get record", err)
	}
	return r, nil
}

func (s *Store) SaveRecord(_ context.Context, r *eventlog.Record, expectedVersion int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		stored := new(eventlog.Record)
		found, err := get(b, r.Key, stored)
		if err != nil {
			return err
		}
		if !found {
			return payledger.ErrNotFound
		}
		if stored.Version != expectedVersion {
			return payledger.ErrVersionConflict
		}
		next := r.Clone()
		next.Version = expectedVersion + 1
		return put(b, r.Key, next)
	})
	if err != nil {
		return wrap("save record", err)
	}
	r.Version = expectedVersion + 1
	return nil
}

// AppendEntry keys entries by entity and a bucket-wide sequence, so a
// prefix scan returns one entity's history in append order.
func (s *Store) AppendEntry(_ context.Context, e *eventlog.Entry) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return put(b, indexKey(e.EntityID, fmt.Sprintf("%020d", seq)), e)
	})
	return wrap("append entry", err)
}

func (s *Store) ListEntries(_ context.Context, entityID string, n int) ([]*eventlog.Entry, error) {
	var result []*eventlog.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		result, err = scan[eventlog.Entry](tx.Bucket(bucketEntries), indexKey(entityID, ""), nil)
		return err
	})
	if err != nil {
		return nil, wrap("list entries", err)
	}
	return limit(result, n), nil
}

// ==================== Webhook Store ====================

func (s *Store) CreateWebhookEvent(_ context.Context, e *webhook.Event) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeliveries)
		if b.Get([]byte(e.ID.String())) != nil {
			return payledger.ErrAlreadyExists
		}
		return put(b, e.ID.String(), e)
	})
	return wrap("create webhook event", err)
}

func (s *Store) FinishWebhookEvent(_ context.Context, e *webhook.Event) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeliveries)
		stored := new(webhook.Event)
		found, err := get(b, e.ID.String(), stored)
		if err != nil {
			return err
		}
		if !found {
			return payledger.ErrNotFound
		}
		if stored.Status != webhook.StatusReceived {
			return payledger.ErrVersionConflict
		}
		return put(b, e.ID.String(), e)
	})
	return wrap("finish webhook event", err)
}

func (s *Store) GetWebhookEvent(_ context.Context, deliveryID id.DeliveryID) (*webhook.Event, error) {
	e := new(webhook.Event)
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx.Bucket(bucketDeliveries), deliveryID.String(), e)
		if err == nil && !found {
			return payledger.ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, wrap("get webhook event", err)
	}
	return e, nil
}

func (s *Store) ListWebhookEvents(_ context.Context, eventID string) ([]*webhook.Event, error) {
	var result []*webhook.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		result, err = scan(tx.Bucket(bucketDeliveries), "", func(e *webhook.Event) bool {
			return e.EventID == eventID
		})
		return err
	})
	if err != nil {
		return nil, wrap("list webhook events", err)
	}
	sortBy(result, func(e *webhook.Event) time.Time { return e.ReceivedAt }, func(e *webhook.Event) id.ID { return e.ID })
	return result, nil
}
