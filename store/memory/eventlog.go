package memory

import (
	"context"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/webhook"
)

// Event log Store implementation
func (s *Store) InsertRecord(_ context.Context, r *eventlog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.Key]; exists {
		return payledger.ErrAlreadyExists
	}
	s.records[r.Key] = r.Clone()
	return nil
}

func (s *Store) GetRecord(_ context.Context, key string) (*eventlog.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.records[key]; ok {
		return r.Clone(), nil
	}
	return nil, payledger.ErrNotFound
}

func (s *Store) SaveRecord(_ context.Context, r *eventlog.Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[r.Key]
	if !ok {
		return payledger.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return payledger.ErrVersionConflict
	}
	r.Version = expectedVersion + 1
	s.records[r.Key] = r.Clone()
	return nil
}

func (s *Store) AppendEntry(_ context.Context, e *eventlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e.Clone())
	return nil
}

func (s *Store) ListEntries(_ context.Context, entityID string, limit int) ([]*eventlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*eventlog.Entry, 0)
	for _, e := range s.entries {
		if e.EntityID != entityID {
			continue
		}
		result = append(result, e.Clone())
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Webhook Store implementation
func (s *Store) CreateWebhookEvent(_ context.Context, e *webhook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deliveries[e.ID.String()]; exists {
		return payledger.ErrAlreadyExists
	}
	s.deliveries[e.ID.String()] = e.Clone()
	return nil
}

func (s *Store) FinishWebhookEvent(_ context.Context, e *webhook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.deliveries[e.ID.String()]
	if !ok {
		return payledger.ErrNotFound
	}
	if stored.Status != webhook.StatusReceived {
		return payledger.ErrVersionConflict
	}
	s.deliveries[e.ID.String()] = e.Clone()
	return nil
}

func (s *Store) GetWebhookEvent(_ context.Context, deliveryID id.DeliveryID) (*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.deliveries[deliveryID.String()]; ok {
		return e.Clone(), nil
	}
	return nil, payledger.ErrNotFound
}

func (s *Store) ListWebhookEvents(_ context.Context, eventID string) ([]*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*webhook.Event, 0)
	for _, e := range s.deliveries {
		if e.EventID == eventID {
			result = append(result, e.Clone())
		}
	}
	sortDeliveries(result)
	return result, nil
}
