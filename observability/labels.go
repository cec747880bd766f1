package observability

import (
	"strings"

	"github.com/xraph/payledger/webhook"
)

// maxLabelLen is the maximum length for a metric label value.
const maxLabelLen = 64

// sanitizeLabel bounds free-form text, such as a processor decline reason,
// before it becomes a label value.
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ToLower(strings.ReplaceAll(s, " ", "_"))
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// eventType labels a delivery by type. Types outside the known set are
// collapsed so a misbehaving sender cannot grow the label space.
func eventType(v interface{}) string {
	evt, ok := v.(*webhook.Event)
	if !ok {
		return "unknown"
	}
	switch evt.Type {
	case webhook.TypeChargeSucceeded,
		webhook.TypeChargeFailed,
		webhook.TypeChargeRefunded,
		webhook.TypeInvoicePaid,
		webhook.TypeInvoicePaymentFailed,
		webhook.TypeSubscriptionRenewed,
		webhook.TypeSubscriptionCanceled:
		return evt.Type
	}
	return "other"
}
