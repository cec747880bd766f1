// Package charge defines charges, their refunds, and the charge state machine.
package charge

import (
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/types"
)

// Status is the lifecycle state of a Charge.
type Status string

const (
	StatusPending           Status = "pending"
	StatusSucceeded         Status = "succeeded"
	StatusFailed            Status = "failed"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusRefunded          Status = "refunded"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Refundable reports whether refunds may be issued against the charge.
func (s Status) Refundable() bool {
	return s == StatusSucceeded || s == StatusPartiallyRefunded
}

// Charge is a single payment attempt against a payment method.
type Charge struct {
	types.Entity
	ID                 id.ChargeID `json:"id"`
	CustomerID         string      `json:"customer_id"`
	Amount             int64       `json:"amount"`
	Currency           string      `json:"currency"`
	PaymentMethodToken string      `json:"payment_method_token"`
	Status             Status      `json:"status"`
	AmountRefunded     int64       `json:"amount_refunded"`
	AmountReserved     int64       `json:"amount_reserved"`
	ProcessorRef       string      `json:"processor_ref,omitempty"`
	FailureReason      string      `json:"failure_reason,omitempty"`
	IdempotencyKey     string      `json:"idempotency_key"`
	Version            int64       `json:"version"`
}

// Remaining is the amount still available to refund. Amounts held by
// pending refunds are not available.
func (c *Charge) Remaining() int64 {
	return c.Amount - c.AmountRefunded - c.AmountReserved
}

// Clone returns a copy of the charge.
func (c *Charge) Clone() *Charge {
	cp := *c
	return &cp
}

// Resolve moves a pending charge to succeeded or failed. It reports false
// if the charge is no longer pending.
func (c *Charge) Resolve(accepted bool, ref, reason string) bool {
	if c.Status != StatusPending {
		return false
	}
	if accepted {
		c.Status = StatusSucceeded
		c.ProcessorRef = ref
		c.FailureReason = ""
	} else {
		c.Status = StatusFailed
		c.FailureReason = reason
	}
	return true
}

// Reserve holds amount for a pending refund. It reports false if the
// charge is not refundable or amount is outside (0, Remaining()].
func (c *Charge) Reserve(amount int64) bool {
	if !c.Status.Refundable() || amount <= 0 || amount > c.Remaining() {
		return false
	}
	c.AmountReserved += amount
	return true
}

// Settle converts a reservation into a refunded amount and advances the
// status to partially_refunded or refunded.
func (c *Charge) Settle(amount int64) {
	c.AmountReserved -= amount
	c.AmountRefunded += amount
	if c.AmountRefunded >= c.Amount {
		c.Status = StatusRefunded
	} else {
		c.Status = StatusPartiallyRefunded
	}
}

// Release returns a reservation to the refundable balance.
func (c *Charge) Release(amount int64) {
	c.AmountReserved -= amount
}

// RefundStatus is the lifecycle state of a Refund.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

// Refund returns part or all of a charge. It is owned by exactly one Charge
// and only ever written together with it.
type Refund struct {
	types.Entity
	ID             id.RefundID  `json:"id"`
	ChargeID       id.ChargeID  `json:"charge_id"`
	Amount         int64        `json:"amount"`
	Status         RefundStatus `json:"status"`
	IdempotencyKey string       `json:"idempotency_key"`
	ProcessorRef   string       `json:"processor_ref,omitempty"`
	FailureReason  string       `json:"failure_reason,omitempty"`
	External       bool         `json:"external"`
}

// Clone returns a copy of the refund.
func (r *Refund) Clone() *Refund {
	cp := *r
	return &cp
}
