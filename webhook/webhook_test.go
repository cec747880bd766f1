package webhook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/payledger/types"
	"github.com/xraph/payledger/webhook"
)

const secret = "whsec_test"

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	header := webhook.Sign(payload, secret, time.Now())

	require.NoError(t, webhook.VerifySignature(payload, header, secret, webhook.DefaultTolerance))

	t.Run("tampered payload", func(t *testing.T) {
		err := webhook.VerifySignature([]byte(`{"id":"evt_2"}`), header, secret, webhook.DefaultTolerance)
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		err := webhook.VerifySignature(payload, header, "whsec_other", webhook.DefaultTolerance)
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	})

	t.Run("garbage header", func(t *testing.T) {
		err := webhook.VerifySignature(payload, "not-a-signature", secret, webhook.DefaultTolerance)
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		err := webhook.VerifySignature(payload, "", secret, webhook.DefaultTolerance)
		assert.ErrorIs(t, err, webhook.ErrNoSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := webhook.Sign(payload, secret, time.Now().Add(-time.Hour))
		assert.ErrorIs(t, webhook.VerifySignature(payload, old, secret, webhook.DefaultTolerance), webhook.ErrInvalidSignature)
		assert.NoError(t, webhook.VerifySignature(payload, old, secret, 0))
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want webhook.Payload
	}{
		{
			name: "charge succeeded",
			raw:  `{"id":"evt_1","type":"charge.succeeded","created":1700000000,"data":{"object":{"charge_id":"ch_1","processor_ref":"pi_1"}}}`,
			want: webhook.ChargeSucceeded{ChargeID: "ch_1", ProcessorRef: "pi_1"},
		},
		{
			name: "charge refunded",
			raw:  `{"id":"evt_2","type":"charge.refunded","data":{"object":{"charge_id":"ch_1","amount":500}}}`,
			want: webhook.ChargeRefunded{ChargeID: "ch_1", Amount: 500},
		},
		{
			name: "subscription renewed",
			raw:  `{"id":"evt_3","type":"subscription.renewed","data":{"object":{"subscription_id":"sub_1","payment_ref":"py_1","amount":{"amount":4900,"currency":"USD"}}}}`,
			want: webhook.SubscriptionRenewed{SubscriptionID: "sub_1", PaymentRef: "py_1", Amount: types.USD(4900)},
		},
		{
			name: "invoice payment failed",
			raw:  `{"id":"evt_4","type":"invoice.payment_failed","data":{"object":{"invoice_id":"inv_1","reason":"card_declined"}}}`,
			want: webhook.InvoicePaymentFailed{InvoiceID: "inv_1", Reason: "card_declined"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, p, err := webhook.Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
			assert.Equal(t, tt.want.EventType(), env.Type)
		})
	}
}

func TestParseUnknown(t *testing.T) {
	env, p, err := webhook.Parse([]byte(`{"id":"evt_9","type":"customer.updated","data":{"object":{"x":1}}}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_9", env.ID)

	u, ok := p.(webhook.Unknown)
	require.True(t, ok)
	assert.Equal(t, "customer.updated", u.Type)
	assert.JSONEq(t, `{"x":1}`, string(u.Raw))
}

func TestParseMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":         `{"id":`,
		"missing id":       `{"type":"charge.succeeded","data":{"object":{"charge_id":"ch_1"}}}`,
		"missing type":     `{"id":"evt_1","data":{}}`,
		"missing object":   `{"id":"evt_1","type":"charge.failed"}`,
		"missing ref":      `{"id":"evt_1","type":"charge.failed","data":{"object":{"reason":"x"}}}`,
		"wrong field type": `{"id":"evt_1","type":"charge.refunded","data":{"object":{"charge_id":"ch_1","amount":"ten"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := webhook.Parse([]byte(raw))
			assert.ErrorIs(t, err, webhook.ErrMalformed)
		})
	}
}

func TestEnvelopeCreatedAt(t *testing.T) {
	env := &webhook.Envelope{Created: 1700000000}
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), env.CreatedAt())
	assert.True(t, (&webhook.Envelope{}).CreatedAt().IsZero())
}
