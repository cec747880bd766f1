// Package api exposes a Ledger over HTTP.
//
// Routes are registered on a net/http ServeMux using method and wildcard
// patterns. Mutating charge and refund endpoints read the idempotency key
// from the Idempotency-Key header, falling back to the JSON body.
//
//	POST /v1/charges                       create a charge
//	GET  /v1/charges                       list charges
//	GET  /v1/charges/{id}                  fetch a charge
//	POST /v1/charges/{id}/refunds          refund a charge
//	GET  /v1/charges/{id}/refunds          list refunds
//	POST /v1/subscriptions                 create a subscription
//	GET  /v1/subscriptions/{id}            fetch a subscription
//	POST /v1/subscriptions/{id}/cancel     cancel a subscription
//	POST /v1/subscriptions/{id}/invoices   generate the period invoice
//	GET  /v1/subscriptions/{id}/invoices   list invoices
//	GET  /v1/invoices/{id}                 fetch an invoice
//	POST /v1/invoices/{id}/pay             record an invoice payment
//	POST /v1/webhooks                      receive a provider event
//	GET  /v1/webhooks/{eventID}/deliveries list deliveries of an event
//	GET  /v1/history/{entityID}            journal entries of an entity
//	GET  /healthz                          store liveness
//	GET  /metrics                          Prometheus exposition
package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/payledger"
)

const (
	// IdempotencyKeyHeader carries the client's idempotency key.
	IdempotencyKeyHeader = "Idempotency-Key"

	// WebhookIDHeader carries the provider's event id.
	WebhookIDHeader = "Webhook-Id"
)

// Handler serves the payledger HTTP API.
type Handler struct {
	ledger    *payledger.Ledger
	logger    *slog.Logger
	gatherer  prometheus.Gatherer
	mux       *http.ServeMux
	endpoints []Endpoint
}

// Endpoint is one mounted route. Path uses net/http wildcard syntax.
type Endpoint struct {
	Method string
	Path   string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithGatherer serves /metrics from g. Without it /metrics is not mounted.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

// New creates a Handler for l.
func New(l *payledger.Ledger, opts ...Option) *Handler {
	h := &Handler{
		ledger: l,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.handle(http.MethodPost, "/v1/charges", h.createCharge)
	h.handle(http.MethodGet, "/v1/charges", h.listCharges)
	h.handle(http.MethodGet, "/v1/charges/{id}", h.getCharge)
	h.handle(http.MethodPost, "/v1/charges/{id}/refunds", h.refundCharge)
	h.handle(http.MethodGet, "/v1/charges/{id}/refunds", h.listRefunds)

	h.handle(http.MethodPost, "/v1/subscriptions", h.createSubscription)
	h.handle(http.MethodGet, "/v1/subscriptions/{id}", h.getSubscription)
	h.handle(http.MethodPost, "/v1/subscriptions/{id}/cancel", h.cancelSubscription)
	h.handle(http.MethodPost, "/v1/subscriptions/{id}/invoices", h.generateInvoice)
	h.handle(http.MethodGet, "/v1/subscriptions/{id}/invoices", h.listInvoices)

	h.handle(http.MethodGet, "/v1/invoices/{id}", h.getInvoice)
	h.handle(http.MethodPost, "/v1/invoices/{id}/pay", h.payInvoice)

	h.handle(http.MethodPost, "/v1/webhooks", h.receiveWebhook)
	h.handle(http.MethodGet, "/v1/webhooks/{eventID}/deliveries", h.listDeliveries)

	h.handle(http.MethodGet, "/v1/history/{entityID}", h.history)
	h.handle(http.MethodGet, "/healthz", h.health)

	if h.gatherer != nil {
		h.handle(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}
}

func (h *Handler) handle(method, path string, fn http.HandlerFunc) {
	h.mux.HandleFunc(method+" "+path, fn)
	h.endpoints = append(h.endpoints, Endpoint{Method: method, Path: path})
}

// Endpoints lists the mounted routes in registration order.
func (h *Handler) Endpoints() []Endpoint {
	return append([]Endpoint(nil), h.endpoints...)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Store().Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.History(r.Context(), r.PathValue("entityID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
