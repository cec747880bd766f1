package webhook

import (
	"errors"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// DefaultTolerance is the maximum accepted age of a signature timestamp.
const DefaultTolerance = 5 * time.Minute

var (
	ErrNoSignature      = errors.New("webhook: missing signature")
	ErrInvalidSignature = errors.New("webhook: invalid signature")
)

// VerifySignature checks header, of the form "t=<unix>,v1=<hex hmac>",
// against payload. The MAC is HMAC-SHA256 over "<t>.<payload>". A
// tolerance <= 0 disables the timestamp age check.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) error {
	if header == "" {
		return ErrNoSignature
	}

	var err error
	if tolerance > 0 {
		err = stripewebhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance)
	} else {
		err = stripewebhook.ValidatePayloadIgnoringTolerance(payload, header, secret)
	}
	if err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	return nil
}

// Sign returns a signature header for payload at ts. It is the inverse of
// VerifySignature and is used by tests and the CLI.
func Sign(payload []byte, secret string, ts time.Time) string {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
		Scheme:    "v1",
	})
	return signed.Header
}
