package bolt

import (
	"context"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/subscription"
)

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions)
		if b.Get([]byte(sub.ID.String())) != nil {
			return payledger.ErrAlreadyExists
		}
		return put(b, sub.ID.String(), sub)
	})
	return wrap("create subscription", err)
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	sub := new(subscription.Subscription)
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx.Bucket(bucketSubscriptions), subID.String(), sub)
		if err == nil && !found {
			return payledger.ErrSubscriptionNotFound
		}
		return err
	})
	if err != nil {
		return nil, wrap("get subscription", err)
	}
	return sub, nil
}

func (s *Store) SaveSubscription(_ context.Context, sub *subscription.Subscription, expectedVersion int64, invoices ...*invoice.Invoice) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		subs := tx.Bucket(bucketSubscriptions)
		invs := tx.Bucket(bucketInvoices)
		periods := tx.Bucket(bucketPeriods)

		stored := new(subscription.Subscription)
		found, err := get(subs, sub.ID.String(), stored)
		if err != nil {
			return err
		}
		if !found {
			return payledger.ErrSubscriptionNotFound
		}
		if stored.Version != expectedVersion {
			return payledger.ErrVersionConflict
		}

		for _, inv := range invoices {
			period := indexKey(inv.SubscriptionID.String(), millisKey(inv.BillingPeriodStart))
			owner := periods.Get([]byte(period))
			if owner != nil && string(owner) != inv.ID.String() {
				return payledger.ErrAlreadyExists
			}
			if err := put(invs, inv.ID.String(), inv); err != nil {
				return err
			}
			if err := periods.Put([]byte(period), []byte(inv.ID.String())); err != nil {
				return err
			}
		}

		next := sub.Clone()
		next.Version = expectedVersion + 1
		return put(subs, sub.ID.String(), next)
	})
	if err != nil {
		return wrap("save subscription", err)
	}
	sub.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var result []*subscription.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		result, err = scan(tx.Bucket(bucketSubscriptions), "", func(sub *subscription.Subscription) bool {
			if opts.CustomerID != "" && sub.CustomerID != opts.CustomerID {
				return false
			}
			if opts.Status != "" && sub.Status != opts.Status {
				return false
			}
			if !opts.PastDueBefore.IsZero() {
				return sub.PastDueSince != nil && !sub.PastDueSince.After(opts.PastDueBefore)
			}
			return true
		})
		return err
	})
	if err != nil {
		return nil, wrap("list subscriptions", err)
	}
	sortBy(result,
		func(sub *subscription.Subscription) time.Time { return sub.CreatedAt },
		func(sub *subscription.Subscription) id.ID { return sub.ID })
	return limit(result, opts.Limit), nil
}

// ==================== Invoice Store ====================

func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	inv := new(invoice.Invoice)
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx.Bucket(bucketInvoices), invID.String(), inv)
		if err == nil && !found {
			return payledger.ErrInvoiceNotFound
		}
		return err
	})
	if err != nil {
		return nil, wrap("get invoice", err)
	}
	return inv, nil
}

func (s *Store) GetInvoiceByPeriod(_ context.Context, subID id.SubscriptionID, periodStart time.Time) (*invoice.Invoice, error) {
	inv := new(invoice.Invoice)
	err := s.db.View(func(tx *bolt.Tx) error {
		invID := tx.Bucket(bucketPeriods).Get([]byte(indexKey(subID.String(), millisKey(periodStart))))
		if invID == nil {
			return payledger.ErrInvoiceNotFound
		}
		_, err := get(tx.Bucket(bucketInvoices), string(invID), inv)
		return err
	})
	if err != nil {
		return nil, wrap("get invoice by period", err)
	}
	return inv, nil
}

// ListInvoices walks the period index, whose keys already sort by
// billing period start.
func (s *Store) ListInvoices(_ context.Context, subID id.SubscriptionID) ([]*invoice.Invoice, error) {
	result := make([]*invoice.Invoice, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		invs := tx.Bucket(bucketInvoices)
		prefix := indexKey(subID.String(), "")
		c := tx.Bucket(bucketPeriods).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			inv := new(invoice.Invoice)
			if _, err := get(invs, string(v), inv); err != nil {
				return err
			}
			result = append(result, inv)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list invoices", err)
	}
	return result, nil
}
