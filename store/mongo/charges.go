package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/id"
)

// ==================== Charge Store ====================

func (s *Store) CreateCharge(ctx context.Context, c *charge.Charge) error {
	_, err := s.mdb.NewInsert(toChargeModel(c)).Exec(ctx)
	return wrap("create charge", err)
}

func (s *Store) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return s.findCharge(ctx, "get charge", bson.M{"_id": chargeID.String()})
}

func (s *Store) GetChargeByIdempotencyKey(ctx context.Context, key string) (*charge.Charge, error) {
	return s.findCharge(ctx, "get charge by key", bson.M{"idempotency_key": key})
}

func (s *Store) findCharge(ctx context.Context, op string, filter bson.M) (*charge.Charge, error) {
	var m chargeModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, payledger.ErrChargeNotFound
		}
		return nil, wrap(op, err)
	}
	return fromChargeModel(&m)
}

func (s *Store) SaveCharge(ctx context.Context, c *charge.Charge, expectedVersion int64, refunds ...*charge.Refund) error {
	next := c.Clone()
	next.Version = expectedVersion + 1

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.casUpdate(ctx, colCharges, c.ID.String(), expectedVersion, toChargeModel(next), payledger.ErrChargeNotFound); err != nil {
			return err
		}
		for _, r := range refunds {
			_, err := s.col(colRefunds).ReplaceOne(ctx, bson.M{"_id": r.ID.String()}, toRefundModel(r),
				options.Replace().SetUpsert(true))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap("save charge", err)
	}
	c.Version = next.Version
	return nil
}

func (s *Store) ListCharges(ctx context.Context, opts charge.ListOpts) ([]*charge.Charge, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.CustomerID != "" {
		filter["customer_id"] = opts.CustomerID
	}
	if !opts.CreatedBefore.IsZero() {
		filter["created_at"] = bson.M{"$lt": opts.CreatedBefore}
	}

	var models []chargeModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(ascending("created_at", "_id"))
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list charges", err)
	}
	return fromModels(models, fromChargeModel)
}

func (s *Store) GetRefund(ctx context.Context, refundID id.RefundID) (*charge.Refund, error) {
	return s.findRefund(ctx, "get refund", bson.M{"_id": refundID.String()})
}

func (s *Store) GetRefundByIdempotencyKey(ctx context.Context, key string) (*charge.Refund, error) {
	return s.findRefund(ctx, "get refund by key", bson.M{"idempotency_key": key})
}

func (s *Store) findRefund(ctx context.Context, op string, filter bson.M) (*charge.Refund, error) {
	var m refundModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, payledger.ErrRefundNotFound
		}
		return nil, wrap(op, err)
	}
	return fromRefundModel(&m)
}

func (s *Store) ListRefunds(ctx context.Context, chargeID id.ChargeID) ([]*charge.Refund, error) {
	var models []refundModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"charge_id": chargeID.String()}).
		Sort(ascending("created_at", "_id")).
		Scan(ctx)
	if err != nil {
		return nil, wrap("list refunds", err)
	}
	return fromModels(models, fromRefundModel)
}

func (s *Store) ListPendingRefunds(ctx context.Context, createdBefore time.Time, limit int) ([]*charge.Refund, error) {
	var models []refundModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":     string(charge.RefundPending),
			"created_at": bson.M{"$lt": createdBefore},
		}).
		Sort(ascending("created_at", "_id"))
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list pending refunds", err)
	}
	return fromModels(models, fromRefundModel)
}
