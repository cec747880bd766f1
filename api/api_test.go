package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/api"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/invoice"
	"github.com/xraph/payledger/observability"
	"github.com/xraph/payledger/plan"
	"github.com/xraph/payledger/processor/sandbox"
	"github.com/xraph/payledger/store/memory"
	"github.com/xraph/payledger/subscription"
	"github.com/xraph/payledger/types"
	"github.com/xraph/payledger/webhook"
)

const testSecret = "whsec_api"

type errorResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"error"`
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := payledger.DefaultConfig()
	cfg.Webhook.Secret = testSecret
	cfg.Webhook.MaxBodyBytes = 2048
	cfg.ProcessorTimeout = time.Second

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	s := memory.New()
	l := payledger.New(s,
		payledger.WithConfig(cfg),
		payledger.WithLogger(logger),
		payledger.WithProcessor(sandbox.New()),
		payledger.WithPlanCatalog(plan.NewStaticCatalog(&plan.Plan{
			ID:       "pro",
			Name:     "Pro",
			Interval: plan.Months(1),
			Price:    types.USD(3000),
		})),
		payledger.WithPlugin(observability.NewMetricsExtension(reg)),
	)
	t.Cleanup(func() { _ = s.Close() })

	srv := httptest.NewServer(api.New(l, api.WithLogger(logger), api.WithGatherer(reg)))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any, header http.Header) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, rd)
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func withKey(key string) http.Header {
	return http.Header{api.IdempotencyKeyHeader: []string{key}}
}

func chargeBody(token string) map[string]any {
	return map[string]any{
		"customer_id":          "cus_1",
		"amount":               1000,
		"currency":             "usd",
		"payment_method_token": token,
	}
}

func createCharge(t *testing.T, srv *httptest.Server, key string) *charge.Charge {
	t.Helper()
	resp := do(t, http.MethodPost, srv.URL+"/v1/charges", chargeBody(sandbox.TokenOK), withKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[*charge.Charge](t, resp)
}

func TestCreateChargeIdempotencyHeader(t *testing.T) {
	srv := newServer(t)

	first := createCharge(t, srv, "order-1")
	assert.Equal(t, charge.StatusSucceeded, first.Status)
	assert.Equal(t, "USD", first.Currency)

	second := createCharge(t, srv, "order-1")
	assert.Equal(t, first.ID.String(), second.ID.String())

	resp := do(t, http.MethodGet, srv.URL+"/v1/charges/"+first.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[*charge.Charge](t, resp)
	assert.Equal(t, "order-1", got.IdempotencyKey)

	resp = do(t, http.MethodGet, srv.URL+"/v1/charges?customer_id=cus_1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]*charge.Charge](t, resp), 1)
}

func TestCreateChargeErrors(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name   string
		body   any
		header http.Header
		status int
		kind   string
		field  string
	}{
		{"missing key", chargeBody(sandbox.TokenOK), nil, http.StatusBadRequest, "validation", "idempotency_key"},
		{"zero amount", map[string]any{
			"customer_id": "cus_1", "amount": 0, "currency": "usd", "payment_method_token": sandbox.TokenOK,
		}, withKey("k-amount"), http.StatusBadRequest, "validation", "amount"},
		{"unknown field", `{"customer":"cus_1"}`, withKey("k-field"), http.StatusBadRequest, "validation", ""},
		{"malformed json", `{`, withKey("k-json"), http.StatusBadRequest, "validation", ""},
		{"processor down", chargeBody(sandbox.TokenUnavailable), withKey("k-down"), http.StatusServiceUnavailable, "retryable", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/v1/charges", tt.body, tt.header)
			require.Equal(t, tt.status, resp.StatusCode)
			body := decodeBody[errorResponse](t, resp)
			assert.Equal(t, tt.kind, body.Error.Kind)
			assert.Equal(t, tt.field, body.Error.Field)
		})
	}
}

func TestCreateChargeKeyReuseConflict(t *testing.T) {
	srv := newServer(t)
	createCharge(t, srv, "order-1")

	body := chargeBody(sandbox.TokenOK)
	body["amount"] = 2000
	resp := do(t, http.MethodPost, srv.URL+"/v1/charges", body, withKey("order-1"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetChargeErrors(t *testing.T) {
	srv := newServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/v1/charges/not-an-id", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "charge_id", decodeBody[errorResponse](t, resp).Error.Field)

	resp = do(t, http.MethodGet, srv.URL+"/v1/charges/"+id.NewChargeID().String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/v1/charges?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefundCharge(t *testing.T) {
	srv := newServer(t)
	ch := createCharge(t, srv, "order-1")
	url := srv.URL + "/v1/charges/" + ch.ID.String() + "/refunds"

	resp := do(t, http.MethodPost, url, map[string]any{"amount": 400}, withKey("refund-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refund := decodeBody[*charge.Refund](t, resp)
	assert.Equal(t, charge.RefundSucceeded, refund.Status)
	assert.Equal(t, int64(400), refund.Amount)

	resp = do(t, http.MethodPost, url, map[string]any{"amount": 700}, withKey("refund-2"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, url, map[string]any{"amount": -5}, withKey("refund-3"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, url, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]*charge.Refund](t, resp), 1)

	resp = do(t, http.MethodGet, srv.URL+"/v1/charges/"+ch.ID.String(), nil, nil)
	got := decodeBody[*charge.Charge](t, resp)
	assert.Equal(t, charge.StatusPartiallyRefunded, got.Status)
	assert.Equal(t, int64(400), got.AmountRefunded)
}

func TestSubscriptionLifecycle(t *testing.T) {
	srv := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/subscriptions",
		map[string]any{"customer_id": "cus_1", "plan_id": "pro"}, withKey("sub-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sub := decodeBody[*subscription.Subscription](t, resp)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	subURL := srv.URL + "/v1/subscriptions/" + sub.ID.String()

	resp = do(t, http.MethodPost, subURL+"/invoices", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inv := decodeBody[*invoice.Invoice](t, resp)
	assert.Equal(t, invoice.StatusOpen, inv.Status)
	assert.Equal(t, int64(3000), inv.AmountDue.Amount)

	resp = do(t, http.MethodPost, srv.URL+"/v1/invoices/"+inv.ID.String()+"/pay", map[string]any{}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "payment_ref", decodeBody[errorResponse](t, resp).Error.Field)

	resp = do(t, http.MethodPost, srv.URL+"/v1/invoices/"+inv.ID.String()+"/pay",
		map[string]any{"payment_ref": "pay_1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, invoice.StatusPaid, decodeBody[*invoice.Invoice](t, resp).Status)

	resp = do(t, http.MethodGet, subURL+"/invoices", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]*invoice.Invoice](t, resp), 1)

	resp = do(t, http.MethodPost, subURL+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, subscription.StatusCanceled, decodeBody[*subscription.Subscription](t, resp).Status)

	resp = do(t, http.MethodPost, subURL+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodGet, subURL, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/v1/subscriptions",
		map[string]any{"customer_id": "cus_1", "plan_id": "enterprise"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func signedHeader(body []byte) http.Header {
	return http.Header{
		"Webhook-Signature": []string{webhook.Sign(body, testSecret, time.Now())},
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/charges", chargeBody(sandbox.TokenUnavailable), withKey("order-1"))
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/v1/charges?status=pending", nil, nil)
	pending := decodeBody[[]*charge.Charge](t, resp)
	require.Len(t, pending, 1)

	body, err := json.Marshal(map[string]any{
		"id":      "evt_1",
		"type":    webhook.TypeChargeSucceeded,
		"created": time.Now().Unix(),
		"data": map[string]any{"object": map[string]any{
			"charge_id":     pending[0].ID.String(),
			"processor_ref": "ch_ext_1",
		}},
	})
	require.NoError(t, err)

	resp = do(t, http.MethodPost, srv.URL+"/v1/webhooks", body, signedHeader(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeBody[payledger.WebhookResult](t, resp)
	assert.Equal(t, webhook.StatusProcessed, first.Status)
	assert.False(t, first.Duplicate)

	resp = do(t, http.MethodPost, srv.URL+"/v1/webhooks", body, signedHeader(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[payledger.WebhookResult](t, resp).Duplicate)

	resp = do(t, http.MethodGet, srv.URL+"/v1/charges/"+pending[0].ID.String(), nil, nil)
	assert.Equal(t, charge.StatusSucceeded, decodeBody[*charge.Charge](t, resp).Status)

	resp = do(t, http.MethodGet, srv.URL+"/v1/webhooks/evt_1/deliveries", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]*webhook.Event](t, resp), 2)

	resp = do(t, http.MethodGet, srv.URL+"/v1/history/"+pending[0].ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decodeBody[[]map[string]any](t, resp))
}

func TestWebhookRejections(t *testing.T) {
	srv := newServer(t)
	body := []byte(`{"id":"evt_2","type":"charge.succeeded","data":{"object":{}}}`)

	resp := do(t, http.MethodPost, srv.URL+"/v1/webhooks", body, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "security", decodeBody[errorResponse](t, resp).Error.Kind)

	forged := http.Header{"Webhook-Signature": []string{webhook.Sign(body, "whsec_other", time.Now())}}
	resp = do(t, http.MethodPost, srv.URL+"/v1/webhooks", body, forged)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	mismatched := signedHeader(body)
	mismatched.Set(api.WebhookIDHeader, "evt_other")
	resp = do(t, http.MethodPost, srv.URL+"/v1/webhooks", body, mismatched)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", decodeBody[errorResponse](t, resp).Error.Kind)

	large := bytes.Repeat([]byte("x"), 4096)
	resp = do(t, http.MethodPost, srv.URL+"/v1/webhooks", large, signedHeader(large))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, resp)["status"])

	createCharge(t, srv, "order-1")

	resp = do(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `payledger_charge_resolved_total{status="succeeded"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newServer(t)
	resp := do(t, http.MethodDelete, srv.URL+"/v1/charges", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEndpoints(t *testing.T) {
	l := payledger.New(memory.New())
	t.Cleanup(func() { _ = l.Store().Close() })

	bare := api.New(l).Endpoints()
	require.Len(t, bare, 16)
	assert.Equal(t, api.Endpoint{Method: http.MethodPost, Path: "/v1/charges"}, bare[0])
	assert.NotContains(t, bare, api.Endpoint{Method: http.MethodGet, Path: "/metrics"})

	withMetrics := api.New(l, api.WithGatherer(prometheus.NewRegistry())).Endpoints()
	require.Len(t, withMetrics, 17)
	assert.Equal(t, api.Endpoint{Method: http.MethodGet, Path: "/metrics"}, withMetrics[16])
}
