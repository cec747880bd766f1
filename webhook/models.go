// Package webhook defines inbound provider notifications: the signed
// envelope, its typed payload variants, and the per-delivery record.
package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/payledger/id"
)

// Status is the processing state of a delivery.
type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusRejected  Status = "rejected"
)

// Event is one delivery of a provider event. A provider may deliver the
// same EventID many times; each delivery gets its own row. A row leaves
// StatusReceived exactly once.
type Event struct {
	ID          id.DeliveryID   `json:"id"`
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	ReceivedAt  time.Time       `json:"received_at"`
	Status      Status          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Duplicate   bool            `json:"duplicate"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// Clone returns a deep copy of the delivery.
func (e *Event) Clone() *Event {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

// Store persists deliveries.
//
// FinishWebhookEvent moves a received delivery to its final status. It
// fails with a version conflict if the delivery is no longer received.
type Store interface {
	CreateWebhookEvent(ctx context.Context, e *Event) error
	FinishWebhookEvent(ctx context.Context, e *Event) error
	GetWebhookEvent(ctx context.Context, deliveryID id.DeliveryID) (*Event, error)
	ListWebhookEvents(ctx context.Context, eventID string) ([]*Event, error)
}
