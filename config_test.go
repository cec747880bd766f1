package payledger_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/payledger"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := payledger.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, payledger.ProrationNone, cfg.ProrationPolicy)
	assert.Equal(t, 7*24*time.Hour, cfg.GracePeriod)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*payledger.Config)
	}{
		{"unknown policy", func(c *payledger.Config) { c.ProrationPolicy = "refund_everything" }},
		{"zero lease", func(c *payledger.Config) { c.IdempotencyLease = 0 }},
		{"negative grace", func(c *payledger.Config) { c.GracePeriod = -time.Hour }},
		{"zero sweep", func(c *payledger.Config) { c.SweepInterval = 0 }},
		{"negative timeout", func(c *payledger.Config) { c.ProcessorTimeout = -time.Second }},
		{"zero timeout", func(c *payledger.Config) { c.ProcessorTimeout = 0 }},
		{"reconcile before timeout", func(c *payledger.Config) { c.ReconcileAfter = c.ProcessorTimeout }},
		{"lease shorter than timeout", func(c *payledger.Config) { c.IdempotencyLease = 10 * time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := payledger.DefaultConfig()
			tt.edit(&cfg)
			require.ErrorIs(t, cfg.Validate(), payledger.ErrInvalidInput)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
proration_policy: prorate_open_invoice
grace_period: 72h
webhook:
  tolerance: 2m
store:
  driver: sqlite
  dsn: /var/lib/payledger/ledger.db
log:
  level: debug
`), 0o600))

	t.Setenv("PAYLEDGER_STORE_DRIVER", "postgres")
	t.Setenv("PAYLEDGER_WEBHOOK_SECRET", "whsec_env")

	cfg, err := payledger.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, payledger.ProrationOpenInvoice, cfg.ProrationPolicy)
	assert.Equal(t, 72*time.Hour, cfg.GracePeriod)
	assert.Equal(t, 2*time.Minute, cfg.Webhook.Tolerance)
	assert.Equal(t, "whsec_env", cfg.Webhook.Secret)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/payledger/ledger.db", cfg.Store.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Keys the file leaves out keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.IdempotencyLease)
	assert.Equal(t, "Webhook-Signature", cfg.Webhook.SignatureHeader)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proration_policy: sometimes\n"), 0o600))

	_, err := payledger.LoadConfig(path)
	require.ErrorIs(t, err, payledger.ErrInvalidInput)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := payledger.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
