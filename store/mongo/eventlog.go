package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/webhook"
)

// ==================== Event log Store ====================

func (s *Store) InsertRecord(ctx context.Context, r *eventlog.Record) error {
	_, err := s.mdb.NewInsert(toRecordModel(r)).Exec(ctx)
	return wrap("insert record", err)
}

func (s *Store) GetRecord(ctx context.Context, key string) (*eventlog.Record, error) {
	var m recordModel
	if err := s.mdb.NewFind(&m).Filter(bson.M{"_id": key}).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, payledger.ErrNotFound
		}
		return nil, wrap("get record", err)
	}
	return fromRecordModel(&m), nil
}

func (s *Store) SaveRecord(ctx context.Context, r *eventlog.Record, expectedVersion int64) error {
	next := r.Clone()
	next.Version = expectedVersion + 1
	if err := s.casUpdate(ctx, colRecords, r.Key, expectedVersion, toRecordModel(next), payledger.ErrNotFound); err != nil {
		return wrap("save record", err)
	}
	r.Version = next.Version
	return nil
}

// AppendEntry stamps each entry with a sequence from the counters
// collection so history lists in append order.
func (s *Store) AppendEntry(ctx context.Context, e *eventlog.Entry) error {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.col(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": colEntries},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return wrap("append entry: next sequence", err)
	}

	_, err = s.mdb.NewInsert(toEntryModel(e, counter.Seq)).Exec(ctx)
	return wrap("append entry", err)
}

func (s *Store) ListEntries(ctx context.Context, entityID string, limit int) ([]*eventlog.Entry, error) {
	var models []entryModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{"entity_id": entityID}).
		Sort(ascending("seq"))
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list entries", err)
	}
	return fromModels(models, fromEntryModel)
}

// ==================== Webhook Store ====================

func (s *Store) CreateWebhookEvent(ctx context.Context, e *webhook.Event) error {
	_, err := s.mdb.NewInsert(toDeliveryModel(e)).Exec(ctx)
	return wrap("create webhook event", err)
}

func (s *Store) FinishWebhookEvent(ctx context.Context, e *webhook.Event) error {
	res, err := s.col(colDeliveries).ReplaceOne(ctx,
		bson.M{"_id": e.ID.String(), "status": string(webhook.StatusReceived)},
		toDeliveryModel(e))
	if err != nil {
		return wrap("finish webhook event", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.col(colDeliveries).CountDocuments(ctx, bson.M{"_id": e.ID.String()})
	if err != nil {
		return wrap("finish webhook event", err)
	}
	if n == 0 {
		return payledger.ErrNotFound
	}
	return payledger.ErrVersionConflict
}

func (s *Store) GetWebhookEvent(ctx context.Context, deliveryID id.DeliveryID) (*webhook.Event, error) {
	var m deliveryModel
	if err := s.mdb.NewFind(&m).Filter(bson.M{"_id": deliveryID.String()}).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, payledger.ErrNotFound
		}
		return nil, wrap("get webhook event", err)
	}
	return fromDeliveryModel(&m)
}

func (s *Store) ListWebhookEvents(ctx context.Context, eventID string) ([]*webhook.Event, error) {
	var models []deliveryModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"event_id": eventID}).
		Sort(ascending("received_at", "_id")).
		Scan(ctx)
	if err != nil {
		return nil, wrap("list webhook events", err)
	}
	return fromModels(models, fromDeliveryModel)
}
