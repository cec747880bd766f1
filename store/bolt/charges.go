package bolt

import (
	"context"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/id"
)

// ==================== Charge Store ====================

func (s *Store) CreateCharge(_ context.Context, c *charge.Charge) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		charges := tx.Bucket(bucketCharges)
		keys := tx.Bucket(bucketChargeKeys)

		if charges.Get([]byte(c.ID.String())) != nil || keys.Get([]byte(c.IdempotencyKey)) != nil {
			return payledger.ErrAlreadyExists
		}
		if err := put(charges, c.ID.String(), c); err != nil {
			return err
		}
		return keys.Put([]byte(c.IdempotencyKey), []byte(c.ID.String()))
	})
	return wrap("create charge", err)
}

func (s *Store) GetCharge(_ context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	c := new(charge.Charge)
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx.Bucket(bucketCharges), chargeID.String(), c)
		if err == nil && !found {
			return payledger.ErrChargeNotFound
		}
		return err
	})
	if err != nil {
		return nil, wrap("get charge", err)
	}
	return c, nil
}

func (s *Store) GetChargeByIdempotencyKey(_ context.Context, key string) (*charge.Charge, error) {
	c := new(charge.Charge)
	err := s.db.View(func(tx *bolt.Tx) error {
		chargeID := tx.Bucket(bucketChargeKeys).Get([]byte(key))
		if chargeID == nil {
			return payledger.ErrChargeNotFound
		}
		_, err := get(tx.Bucket(bucketCharges), string(chargeID), c)
		return err
	})
	if err != nil {
		return nil, wrap("get charge by key", err)
	}
	return c, nil
}

func (s *Store) SaveCharge(_ context.Context, c *charge.Charge, expectedVersion int64, refunds ...*charge.Refund) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		charges := tx.Bucket(bucketCharges)
		refundsB := tx.Bucket(bucketRefunds)
		refundKeys := tx.Bucket(bucketRefundKeys)
		index := tx.Bucket(bucketChargeRefunds)

		stored := new(charge.Charge)
		found, err := get(charges, c.ID.String(), stored)
		if err != nil {
			return err
		}
		if !found {
			return payledger.ErrChargeNotFound
		}
		if stored.Version != expectedVersion {
			return payledger.ErrVersionConflict
		}

		for _, r := range refunds {
			owner := refundKeys.Get([]byte(r.IdempotencyKey))
			if owner != nil && string(owner) != r.ID.String() {
				return payledger.ErrAlreadyExists
			}
			if err := put(refundsB, r.ID.String(), r); err != nil {
				return err
			}
			if err := refundKeys.Put([]byte(r.IdempotencyKey), []byte(r.ID.String())); err != nil {
				return err
			}
			if err := index.Put([]byte(indexKey(c.ID.String(), r.ID.String())), nil); err != nil {
				return err
			}
		}

		next := c.Clone()
		next.Version = expectedVersion + 1
		return put(charges, c.ID.String(), next)
	})
	if err != nil {
		return wrap("save charge", err)
	}
	c.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListCharges(_ context.Context, opts charge.ListOpts) ([]*charge.Charge, error) {
	var result []*charge.Charge
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		result, err = scan(tx.Bucket(bucketCharges), "", func(c *charge.Charge) bool {
			if opts.Status != "" && c.Status != opts.Status {
				return false
			}
			if opts.CustomerID != "" && c.CustomerID != opts.CustomerID {
				return false
			}
			return opts.CreatedBefore.IsZero() || c.CreatedAt.Before(opts.CreatedBefore)
		})
		return err
	})
	if err != nil {
		return nil, wrap("list charges", err)
	}
	sortBy(result, func(c *charge.Charge) time.Time { return c.CreatedAt }, func(c *charge.Charge) id.ID { return c.ID })
	return limit(result, opts.Limit), nil
}

func (s *Store) GetRefund(_ context.Context, refundID id.RefundID) (*charge.Refund, error) {
	r := new(charge.Refund)
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx.Bucket(bucketRefunds), refundID.String(), r)
		if err == nil && !found {
			return payledger.ErrRefundNotFound
		}
		return err
	})
	if err != nil {
		return nil, wrap("get refund", err)
	}
	return r, nil
}

func (s *Store) GetRefundByIdempotencyKey(_ context.Context, key string) (*charge.Refund, error) {
	r := new(charge.Refund)
	err := s.db.View(func(tx *bolt.Tx) error {
		refundID := tx.Bucket(bucketRefundKeys).Get([]byte(key))
		if refundID == nil {
			return payledger.ErrRefundNotFound
		}
		_, err := get(tx.Bucket(bucketRefunds), string(refundID), r)
		return err
	})
	if err != nil {
		return nil, wrap("get refund by key", err)
	}
	return r, nil
}

func (s *Store) ListRefunds(_ context.Context, chargeID id.ChargeID) ([]*charge.Refund, error) {
	result := make([]*charge.Refund, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		refunds := tx.Bucket(bucketRefunds)
		prefix := indexKey(chargeID.String(), "")
		c := tx.Bucket(bucketChargeRefunds).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			r := new(charge.Refund)
			if _, err := get(refunds, string(k[len(prefix):]), r); err != nil {
				return err
			}
			result = append(result, r)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list refunds", err)
	}
	sortBy(result, func(r *charge.Refund) time.Time { return r.CreatedAt }, func(r *charge.Refund) id.ID { return r.ID })
	return result, nil
}

func (s *Store) ListPendingRefunds(_ context.Context, createdBefore time.Time, n int) ([]*charge.Refund, error) {
	var result []*charge.Refund
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		result, err = scan(tx.Bucket(bucketRefunds), "", func(r *charge.Refund) bool {
			return r.Status == charge.RefundPending && r.CreatedAt.Before(createdBefore)
		})
		return err
	})
	if err != nil {
		return nil, wrap("list pending refunds", err)
	}
	sortBy(result, func(r *charge.Refund) time.Time { return r.CreatedAt }, func(r *charge.Refund) id.ID { return r.ID })
	return limit(result, n), nil
}
