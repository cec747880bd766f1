package api

import (
	"net/http"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/id"
)

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var params payledger.CreateSubscriptionParams
	if err := decode(w, r, &params); err != nil {
		h.fail(w, r, err)
		return
	}
	params.IdempotencyKey = idempotencyKey(r, params.IdempotencyKey)

	sub, err := h.ledger.CreateSubscription(r.Context(), params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := pathID(r, "subscription_id", id.ParseSubscriptionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.ledger.GetSubscription(r.Context(), subID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := pathID(r, "subscription_id", id.ParseSubscriptionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.ledger.CancelSubscription(r.Context(), subID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) generateInvoice(w http.ResponseWriter, r *http.Request) {
	subID, err := pathID(r, "subscription_id", id.ParseSubscriptionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.ledger.GenerateInvoice(r.Context(), subID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	subID, err := pathID(r, "subscription_id", id.ParseSubscriptionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	invoices, err := h.ledger.ListInvoices(r.Context(), subID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	invID, err := pathID(r, "invoice_id", id.ParseInvoiceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.ledger.GetInvoice(r.Context(), invID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

type payInvoiceRequest struct {
	PaymentRef string `json:"payment_ref"`
}

func (h *Handler) payInvoice(w http.ResponseWriter, r *http.Request) {
	invID, err := pathID(r, "invoice_id", id.ParseInvoiceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req payInvoiceRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.PaymentRef == "" {
		h.fail(w, r, payledger.ValidationError{Field: "payment_ref", Message: "is required"})
		return
	}

	inv, err := h.ledger.PayInvoice(r.Context(), invID, req.PaymentRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
