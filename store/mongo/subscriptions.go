package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/subscription"
)

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.mdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	return wrap("create subscription", err)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, payledger.ErrSubscriptionNotFound
		}
		return nil, wrap("get subscription", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) SaveSubscription(ctx context.Context, sub *subscription.Subscription, expectedVersion int64, invoices ...*invoice.Invoice) error {
	next := sub.Clone()
	next.Version = expectedVersion + 1

	err := s.inTx(ctx, func(ctx context.Context) error {
		err := s.casUpdate(ctx, colSubscriptions, sub.ID.String(), expectedVersion,
			toSubscriptionModel(next), payledger.ErrSubscriptionNotFound)
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			_, err := s.col(colInvoices).ReplaceOne(ctx, bson.M{"_id": inv.ID.String()}, toInvoiceModel(inv),
				options.Replace().SetUpsert(true))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap("save subscription", err)
	}
	sub.Version = next.Version
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := bson.M{}
	if opts.CustomerID != "" {
		filter["customer_id"] = opts.CustomerID
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.PastDueBefore.IsZero() {
		filter["past_due_since"] = bson.M{"$ne": nil, "$lte": opts.PastDueBefore}
	}

	var models []subscriptionModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(ascending("created_at", "_id"))
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list subscriptions", err)
	}
	return fromModels(models, fromSubscriptionModel)
}

// ==================== Invoice Store ====================

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, "get invoice", bson.M{"_id": invID.String()})
}

func (s *Store) GetInvoiceByPeriod(ctx context.Context, subID id.SubscriptionID, periodStart time.Time) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, "get invoice by period", bson.M{
		"subscription_id":      subID.String(),
		"billing_period_start": periodStart,
	})
}

func (s *Store) findInvoice(ctx context.Context, op string, filter bson.M) (*invoice.Invoice, error) {
	var m invoiceModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, payledger.ErrInvoiceNotFound
		}
		return nil, wrap(op, err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoices(ctx context.Context, subID id.SubscriptionID) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"subscription_id": subID.String()}).
		Sort(ascending("billing_period_start")).
		Scan(ctx)
	if err != nil {
		return nil, wrap("list invoices", err)
	}
	return fromModels(models, fromInvoiceModel)
}
