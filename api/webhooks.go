package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xraph/payledger"
)

// receiveWebhook answers 200 for processed and duplicate deliveries, 4xx
// for deliveries the provider must not resend and 5xx for deliveries it
// should retry.
func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	cfg := h.ledger.Config().Webhook

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.failWith(w, r, http.StatusRequestEntityTooLarge,
				fmt.Errorf("%w: body exceeds %d bytes", payledger.ErrMalformedPayload, tooLarge.Limit))
			return
		}
		h.failWith(w, r, http.StatusBadRequest, fmt.Errorf("%w: %w", payledger.ErrMalformedPayload, err))
		return
	}

	result, err := h.ledger.ReceiveWebhook(r.Context(), raw,
		r.Header.Get(cfg.SignatureHeader), r.Header.Get(WebhookIDHeader))
	if err != nil {
		h.failWith(w, r, webhookStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// webhookStatus reports authentication failures as 400 so providers stop
// resending forged or stale payloads.
func webhookStatus(err error) int {
	if payledger.IsSecurity(err) {
		return http.StatusBadRequest
	}
	return statusFor(err)
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := h.ledger.ListWebhookDeliveries(r.Context(), r.PathValue("eventID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveries)
}
