package extension_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/vessel"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/api"
	"github.com/xraph/payledger/charge"
	"github.com/xraph/payledger/extension"
	"github.com/xraph/payledger/processor/sandbox"
	"github.com/xraph/payledger/subscription"
)

const plansYAML = `
plans:
  - id: pro
    name: Pro
    interval: {unit: month, count: 1}
    price: {amount: 4900, currency: USD}
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePlans(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(plansYAML), 0o600))
	return path
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestExtensionServesAPI(t *testing.T) {
	cfg := payledger.DefaultConfig()
	cfg.PlansFile = writePlans(t)

	ext := extension.New(cfg,
		extension.WithLogger(quietLogger()),
		extension.WithProcessor(sandbox.New()),
		extension.WithBasePath("/billing"),
	)
	ctx := t.Context()
	require.NoError(t, ext.Init(ctx))
	require.NoError(t, ext.Start(ctx))
	t.Cleanup(func() { _ = ext.Stop(ctx) })

	require.NoError(t, ext.Health(ctx))
	require.NotNil(t, ext.Registry())
	require.NotNil(t, ext.Metrics())

	srv := httptest.NewServer(ext.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/billing/v1/subscriptions", "application/json",
		jsonBody(t, map[string]string{"customer_id": "cus_1", "plan_id": "pro"}))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sub subscription.Subscription
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sub))
	assert.Equal(t, "pro", sub.PlanID)

	metrics, err := http.Get(srv.URL + "/billing/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	raw, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `payledger_subscription_transitions_total{event="created"} 1`)
	assert.Contains(t, string(raw), "go_goroutines")

	notMounted, err := http.Get(srv.URL + "/v1/charges")
	require.NoError(t, err)
	defer notMounted.Body.Close()
	assert.Equal(t, http.StatusNotFound, notMounted.StatusCode)
}

func TestExtensionRegistersWithForge(t *testing.T) {
	cfg := payledger.DefaultConfig()
	cfg.PlansFile = writePlans(t)

	app := forge.New(forge.WithAppName("payledger-test"))
	ext := extension.New(cfg,
		extension.WithLogger(quietLogger()),
		extension.WithBasePath("/billing"),
	)
	require.NoError(t, ext.Register(app))
	t.Cleanup(func() { _ = ext.Stop(t.Context()) })
	require.NotNil(t, ext.Engine())

	l, err := vessel.Inject[*payledger.Ledger](app.Container())
	require.NoError(t, err)
	assert.Same(t, ext.Engine(), l)

	h, err := vessel.Inject[*api.Handler](app.Container())
	require.NoError(t, err)
	assert.Contains(t, h.Endpoints(), api.Endpoint{Method: http.MethodPost, Path: "/v1/charges"})

	require.NoError(t, ext.Start(t.Context()))
	require.NoError(t, ext.Health(t.Context()))
}

func openGroveSQLite(t *testing.T) *grove.DB {
	t.Helper()
	sdb := sqlitedriver.New()
	require.NoError(t, sdb.Open(t.Context(), filepath.Join(t.TempDir(), "grove.sqlite")))
	db, err := grove.Open(sdb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestExtensionUsesGroveDatabase(t *testing.T) {
	db := openGroveSQLite(t)

	app := forge.New(forge.WithAppName("payledger-test"))
	require.NoError(t, vessel.Provide(app.Container(), func() (*grove.DB, error) {
		return db, nil
	}))

	ext := extension.New(payledger.DefaultConfig(),
		extension.WithLogger(quietLogger()),
		extension.WithGroveDatabase(""),
		extension.WithDisableRoutes(),
	)
	require.NoError(t, ext.Register(app))
	require.NoError(t, ext.Start(t.Context()))

	c, err := ext.Engine().CreateCharge(t.Context(), payledger.CreateChargeParams{
		CustomerID:         "cus_1",
		Amount:             1000,
		Currency:           "usd",
		PaymentMethodToken: sandbox.TokenOK,
		IdempotencyKey:     "order-1",
	})
	require.NoError(t, err)
	assert.Equal(t, charge.StatusSucceeded, c.Status)

	// Stopping the extension leaves the shared database open.
	require.NoError(t, ext.Stop(t.Context()))
	require.NoError(t, db.Ping(t.Context()))
}

func TestStoreFromGrove(t *testing.T) {
	db := openGroveSQLite(t)

	s, err := extension.StoreFromGrove(db)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(t.Context()))
	require.NoError(t, s.Ping(t.Context()))
	require.NoError(t, s.Close())
	require.NoError(t, db.Ping(t.Context()))
}

func TestExtensionRequireConfig(t *testing.T) {
	app := forge.New(forge.WithAppName("payledger-test"))
	ext := extension.New(payledger.DefaultConfig(),
		extension.WithLogger(quietLogger()),
		extension.WithRequireConfig(true),
	)
	err := ext.Register(app)
	require.ErrorContains(t, err, "configuration is required")
	assert.Nil(t, ext.Engine())
}

func TestExtensionDisableMetrics(t *testing.T) {
	ext := extension.New(payledger.DefaultConfig(),
		extension.WithLogger(quietLogger()),
		extension.WithDisableMetrics(),
	)
	require.NoError(t, ext.Init(t.Context()))
	t.Cleanup(func() { _ = ext.Stop(t.Context()) })

	assert.Nil(t, ext.Registry())

	rec := httptest.NewRecorder()
	ext.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExtensionInitErrors(t *testing.T) {
	bad := payledger.DefaultConfig()
	bad.Store.Driver = "cassandra"
	err := extension.New(bad, extension.WithLogger(quietLogger())).Init(t.Context())
	require.ErrorIs(t, err, payledger.ErrInvalidInput)

	missingPlans := payledger.DefaultConfig()
	missingPlans.PlansFile = filepath.Join(t.TempDir(), "absent.yaml")
	err = extension.New(missingPlans, extension.WithLogger(quietLogger())).Init(t.Context())
	require.ErrorContains(t, err, "load plans")

	invalid := payledger.DefaultConfig()
	invalid.SweepInterval = 0
	err = extension.New(invalid).Init(t.Context())
	require.ErrorIs(t, err, payledger.ErrInvalidInput)

	ext := extension.New(payledger.DefaultConfig())
	require.Error(t, ext.Start(t.Context()))
	require.Error(t, ext.Serve(t.Context()))
}

func TestOpenStoreDrivers(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  payledger.StoreConfig
	}{
		{"memory", payledger.StoreConfig{Driver: extension.DriverMemory}},
		{"default", payledger.StoreConfig{}},
		{"bolt", payledger.StoreConfig{Driver: extension.DriverBolt, DSN: filepath.Join(dir, "ledger.bolt")}},
		{"sqlite", payledger.StoreConfig{Driver: extension.DriverSQLite, DSN: filepath.Join(dir, "ledger.sqlite")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := extension.OpenStore(t.Context(), tt.cfg)
			require.NoError(t, err)
			require.NoError(t, s.Ping(t.Context()))
			require.NoError(t, s.Close())
		})
	}

	_, err := extension.OpenStore(t.Context(), payledger.StoreConfig{Driver: extension.DriverPostgres})
	var verr payledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "store.dsn", verr.Field)
}

func TestOpenEventLogDisabled(t *testing.T) {
	s, err := extension.OpenEventLog(t.Context(), payledger.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)
}
