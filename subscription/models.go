// Package subscription defines recurring subscriptions to a catalog plan.
package subscription

import (
	"time"

	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

type Subscription struct {
	types.Entity
	ID                 id.SubscriptionID `json:"id"`
	CustomerID         string            `json:"customer_id"`
	PlanID             string            `json:"plan_id"`
	Status             Status            `json:"status"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	PastDueSince       *time.Time        `json:"past_due_since,omitempty"`
	CanceledAt         *time.Time        `json:"canceled_at,omitempty"`
	Version            int64             `json:"version"`
}

// Clone returns a deep copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	cp := *s
	if s.PastDueSince != nil {
		t := *s.PastDueSince
		cp.PastDueSince = &t
	}
	if s.CanceledAt != nil {
		t := *s.CanceledAt
		cp.CanceledAt = &t
	}
	return &cp
}
