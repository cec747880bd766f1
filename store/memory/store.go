// Package memory is an in-process store.Store for tests and local runs.
// Every read returns a copy, so callers never alias stored state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/store"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/webhook"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	// Charge storage
	charges        map[string]*charge.Charge
	chargesByKey   map[string]string
	refunds        map[string]*charge.Refund
	refundsByKey   map[string]string
	refundsByCharge map[string][]string

	// Subscription storage
	subscriptions map[string]*subscription.Subscription

	// Invoice storage
	invoices      map[string]*invoice.Invoice
	invoicesBySub map[string][]string

	// Event log storage
	records map[string]*eventlog.Record
	entries []*eventlog.Entry

	// Webhook storage
	deliveries map[string]*webhook.Event
}

func New() *Store {
	return &Store{
		charges:         make(map[string]*charge.Charge),
		chargesByKey:    make(map[string]string),
		refunds:         make(map[string]*charge.Refund),
		refundsByKey:    make(map[string]string),
		refundsByCharge: make(map[string][]string),
		subscriptions:   make(map[string]*subscription.Subscription),
		invoices:        make(map[string]*invoice.Invoice),
		invoicesBySub:   make(map[string][]string),
		records:         make(map[string]*eventlog.Record),
		deliveries:      make(map[string]*webhook.Event),
	}
}

// Core methods
func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return payledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Charge Store implementation
func (s *Store) CreateCharge(_ context.Context, c *charge.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.charges[c.ID.String()]; exists {
		return payledger.ErrAlreadyExists
	}
	if _, exists := s.chargesByKey[c.IdempotencyKey]; exists {
		return payledger.ErrAlreadyExists
	}
	s.charges[c.ID.String()] = c.Clone()
	s.chargesByKey[c.IdempotencyKey] = c.ID.String()
	return nil
}

func (s *Store) GetCharge(_ context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.charges[chargeID.String()]; ok {
		return c.Clone(), nil
	}
	return nil, payledger.ErrChargeNotFound
}

func (s *Store) GetChargeByIdempotencyKey(_ context.Context, key string) (*charge.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if chID, ok := s.chargesByKey[key]; ok {
		return s.charges[chID].Clone(), nil
	}
	return nil, payledger.ErrChargeNotFound
}

func (s *Store) SaveCharge(_ context.Context, c *charge.Charge, expectedVersion int64, refunds ...*charge.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.charges[c.ID.String()]
	if !ok {
		return payledger.ErrChargeNotFound
	}
	if stored.Version != expectedVersion {
		return payledger.ErrVersionConflict
	}

	// Validate every refund before writing anything.
	for _, r := range refunds {
		if ownerID, ok := s.refundsByKey[r.IdempotencyKey]; ok && ownerID != r.ID.String() {
			return payledger.ErrAlreadyExists
		}
		if existing, ok := s.refunds[r.ID.String()]; ok && existing.ChargeID != c.ID {
			return payledger.ErrAlreadyExists
		}
	}

	c.Version = expectedVersion + 1
	s.charges[c.ID.String()] = c.Clone()

	for _, r := range refunds {
		if _, exists := s.refunds[r.ID.String()]; !exists {
			s.refundsByCharge[c.ID.String()] = append(s.refundsByCharge[c.ID.String()], r.ID.String())
			s.refundsByKey[r.IdempotencyKey] = r.ID.String()
		}
		s.refunds[r.ID.String()] = r.Clone()
	}
	return nil
}

func (s *Store) ListCharges(_ context.Context, opts charge.ListOpts) ([]*charge.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*charge.Charge, 0)
	for _, c := range s.charges {
		if opts.Status != "" && c.Status != opts.Status {
			continue
		}
		if opts.CustomerID != "" && c.CustomerID != opts.CustomerID {
			continue
		}
		if !opts.CreatedBefore.IsZero() && !c.CreatedAt.Before(opts.CreatedBefore) {
			continue
		}
		result = append(result, c.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return olderFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return limit(result, opts.Limit), nil
}

func (s *Store) GetRefund(_ context.Context, refundID id.RefundID) (*charge.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.refunds[refundID.String()]; ok {
		return r.Clone(), nil
	}
	return nil, payledger.ErrRefundNotFound
}

func (s *Store) GetRefundByIdempotencyKey(_ context.Context, key string) (*charge.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rID, ok := s.refundsByKey[key]; ok {
		return s.refunds[rID].Clone(), nil
	}
	return nil, payledger.ErrRefundNotFound
}

func (s *Store) ListRefunds(_ context.Context, chargeID id.ChargeID) ([]*charge.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.refundsByCharge[chargeID.String()]
	result := make([]*charge.Refund, 0, len(ids))
	for _, rID := range ids {
		result = append(result, s.refunds[rID].Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		return olderFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

func (s *Store) ListPendingRefunds(_ context.Context, createdBefore time.Time, n int) ([]*charge.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*charge.Refund, 0)
	for _, r := range s.refunds {
		if r.Status == charge.RefundPending && r.CreatedAt.Before(createdBefore) {
			result = append(result, r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return olderFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return limit(result, n), nil
}

// Subscription Store implementation
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return payledger.ErrAlreadyExists
	}
	s.subscriptions[sub.ID.String()] = sub.Clone()
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return sub.Clone(), nil
	}
	return nil, payledger.ErrSubscriptionNotFound
}

func (s *Store) SaveSubscription(_ context.Context, sub *subscription.Subscription, expectedVersion int64, invoices ...*invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.subscriptions[sub.ID.String()]
	if !ok {
		return payledger.ErrSubscriptionNotFound
	}
	if stored.Version != expectedVersion {
		return payledger.ErrVersionConflict
	}

	for _, inv := range invoices {
		for _, otherID := range s.invoicesBySub[inv.SubscriptionID.String()] {
			other := s.invoices[otherID]
			if otherID != inv.ID.String() && other.BillingPeriodStart.Equal(inv.BillingPeriodStart) {
				return payledger.ErrAlreadyExists
			}
		}
	}

	sub.Version = expectedVersion + 1
	s.subscriptions[sub.ID.String()] = sub.Clone()

	for _, inv := range invoices {
		if _, exists := s.invoices[inv.ID.String()]; !exists {
			subID := inv.SubscriptionID.String()
			s.invoicesBySub[subID] = append(s.invoicesBySub[subID], inv.ID.String())
		}
		s.invoices[inv.ID.String()] = inv.Clone()
	}
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if opts.CustomerID != "" && sub.CustomerID != opts.CustomerID {
			continue
		}
		if opts.Status != "" && sub.Status != opts.Status {
			continue
		}
		if !opts.PastDueBefore.IsZero() && (sub.PastDueSince == nil || sub.PastDueSince.After(opts.PastDueBefore)) {
			continue
		}
		result = append(result, sub.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return olderFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return limit(result, opts.Limit), nil
}

// Invoice Store implementation
func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invoices[invID.String()]; ok {
		return inv.Clone(), nil
	}
	return nil, payledger.ErrInvoiceNotFound
}

func (s *Store) GetInvoiceByPeriod(_ context.Context, subID id.SubscriptionID, periodStart time.Time) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, invID := range s.invoicesBySub[subID.String()] {
		if inv := s.invoices[invID]; inv.BillingPeriodStart.Equal(periodStart) {
			return inv.Clone(), nil
		}
	}
	return nil, payledger.ErrInvoiceNotFound
}

func (s *Store) ListInvoices(_ context.Context, subID id.SubscriptionID) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.invoicesBySub[subID.String()]
	result := make([]*invoice.Invoice, 0, len(ids))
	for _, invID := range ids {
		result = append(result, s.invoices[invID].Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BillingPeriodStart.Before(result[j].BillingPeriodStart)
	})
	return result, nil
}

func olderFirst(a, b time.Time, aID, bID id.ID) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID.String() < bID.String()
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func sortDeliveries(events []*webhook.Event) {
	sort.Slice(events, func(i, j int) bool {
		return olderFirst(events[i].ReceivedAt, events[j].ReceivedAt, events[i].ID, events[j].ID)
	})
}
