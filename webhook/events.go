package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/payledger/types"
)

// Event type names carried in the envelope.
const (
	TypeChargeSucceeded      = "charge.succeeded"
	TypeChargeFailed         = "charge.failed"
	TypeChargeRefunded       = "charge.refunded"
	TypeInvoicePaid          = "invoice.paid"
	TypeInvoicePaymentFailed = "invoice.payment_failed"
	TypeSubscriptionRenewed  = "subscription.renewed"
	TypeSubscriptionCanceled = "subscription.canceled"
)

// ErrMalformed is wrapped by every Parse failure.
var ErrMalformed = errors.New("webhook: malformed payload")

// Envelope is the outer shape shared by every provider event.
type Envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CreatedAt returns the provider's creation time, or zero if absent.
func (e *Envelope) CreatedAt() time.Time {
	if e.Created == 0 {
		return time.Time{}
	}
	return time.Unix(e.Created, 0).UTC()
}

// Payload is the typed content of an event. The set of implementations is
// closed; dispatch switches over all of them.
type Payload interface {
	EventType() string
	isPayload()
}

// ChargeSucceeded reports that a pending charge was authorized.
type ChargeSucceeded struct {
	ChargeID     string `json:"charge_id"`
	ProcessorRef string `json:"processor_ref"`
}

// ChargeFailed reports that a pending charge was declined.
type ChargeFailed struct {
	ChargeID string `json:"charge_id"`
	Reason   string `json:"reason"`
}

// ChargeRefunded reports a refund settled on the provider side.
type ChargeRefunded struct {
	ChargeID     string `json:"charge_id"`
	Amount       int64  `json:"amount"`
	ProcessorRef string `json:"processor_ref"`
}

// InvoicePaid reports a successful invoice collection.
type InvoicePaid struct {
	InvoiceID  string `json:"invoice_id"`
	PaymentRef string `json:"payment_ref"`
}

// InvoicePaymentFailed reports a failed collection attempt.
type InvoicePaymentFailed struct {
	InvoiceID string `json:"invoice_id"`
	Reason    string `json:"reason"`
}

// SubscriptionRenewed reports that the provider collected the next period.
type SubscriptionRenewed struct {
	SubscriptionID string      `json:"subscription_id"`
	PaymentRef     string      `json:"payment_ref"`
	Amount         types.Money `json:"amount"`
}

// SubscriptionCanceled reports a provider-side cancellation.
type SubscriptionCanceled struct {
	SubscriptionID string `json:"subscription_id"`
}

// Unknown carries an event type this package does not model.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (ChargeSucceeded) EventType() string      { return TypeChargeSucceeded }
func (ChargeFailed) EventType() string         { return TypeChargeFailed }
func (ChargeRefunded) EventType() string       { return TypeChargeRefunded }
func (InvoicePaid) EventType() string          { return TypeInvoicePaid }
func (InvoicePaymentFailed) EventType() string { return TypeInvoicePaymentFailed }
func (SubscriptionRenewed) EventType() string  { return TypeSubscriptionRenewed }
func (SubscriptionCanceled) EventType() string { return TypeSubscriptionCanceled }
func (u Unknown) EventType() string            { return u.Type }

func (ChargeSucceeded) isPayload()      {}
func (ChargeFailed) isPayload()         {}
func (ChargeRefunded) isPayload()       {}
func (InvoicePaid) isPayload()          {}
func (InvoicePaymentFailed) isPayload() {}
func (SubscriptionRenewed) isPayload()  {}
func (SubscriptionCanceled) isPayload() {}
func (Unknown) isPayload()              {}

// Parse decodes raw into its envelope and typed payload.
func Parse(raw []byte) (*Envelope, Payload, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.ID == "" {
		return nil, nil, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if env.Type == "" {
		return nil, nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var p Payload
	var err error
	switch env.Type {
	case TypeChargeSucceeded:
		p, err = decode[ChargeSucceeded](env.Data.Object, "charge_id")
	case TypeChargeFailed:
		p, err = decode[ChargeFailed](env.Data.Object, "charge_id")
	case TypeChargeRefunded:
		p, err = decode[ChargeRefunded](env.Data.Object, "charge_id")
	case TypeInvoicePaid:
		p, err = decode[InvoicePaid](env.Data.Object, "invoice_id")
	case TypeInvoicePaymentFailed:
		p, err = decode[InvoicePaymentFailed](env.Data.Object, "invoice_id")
	case TypeSubscriptionRenewed:
		p, err = decode[SubscriptionRenewed](env.Data.Object, "subscription_id")
	case TypeSubscriptionCanceled:
		p, err = decode[SubscriptionCanceled](env.Data.Object, "subscription_id")
	default:
		p = Unknown{Type: env.Type, Raw: append(json.RawMessage(nil), env.Data.Object...)}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrMalformed, env.Type, err)
	}
	return &env, p, nil
}

// decode unmarshals obj into T and requires the named reference field.
func decode[T Payload](obj json.RawMessage, refField string) (Payload, error) {
	var v T
	if len(obj) == 0 {
		return nil, errors.New("missing data.object")
	}
	if err := json.Unmarshal(obj, &v); err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil {
		return nil, err
	}
	if ref, ok := fields[refField]; !ok || string(ref) == `""` || string(ref) == "null" {
		return nil, fmt.Errorf("missing %s", refField)
	}
	return v, nil
}
