package api

import (
	"net/http"
	"strconv"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/id"
)

const maxListLimit = 500

func (h *Handler) createCharge(w http.ResponseWriter, r *http.Request) {
	var params payledger.CreateChargeParams
	if err := decode(w, r, &params); err != nil {
		h.fail(w, r, err)
		return
	}
	params.IdempotencyKey = idempotencyKey(r, params.IdempotencyKey)

	ch, err := h.ledger.CreateCharge(r.Context(), params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *Handler) getCharge(w http.ResponseWriter, r *http.Request) {
	chargeID, err := pathID(r, "charge_id", id.ParseChargeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ch, err := h.ledger.GetCharge(r.Context(), chargeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// listCharges accepts status, customer_id and limit query parameters.
func (h *Handler) listCharges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := charge.ListOpts{
		Status:     charge.Status(q.Get("status")),
		CustomerID: q.Get("customer_id"),
		Limit:      100,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			h.fail(w, r, payledger.ValidationError{Field: "limit", Message: "must be between 1 and 500"})
			return
		}
		opts.Limit = n
	}

	charges, err := h.ledger.ListCharges(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, charges)
}

func (h *Handler) refundCharge(w http.ResponseWriter, r *http.Request) {
	chargeID, err := pathID(r, "charge_id", id.ParseChargeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var params payledger.RefundChargeParams
	if err := decode(w, r, &params); err != nil {
		h.fail(w, r, err)
		return
	}
	params.ChargeID = chargeID
	params.IdempotencyKey = idempotencyKey(r, params.IdempotencyKey)

	refund, err := h.ledger.RefundCharge(r.Context(), params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

func (h *Handler) listRefunds(w http.ResponseWriter, r *http.Request) {
	chargeID, err := pathID(r, "charge_id", id.ParseChargeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	refunds, err := h.ledger.ListRefunds(r.Context(), chargeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refunds)
}
