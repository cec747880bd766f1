package payledger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ProrationPolicy decides what happens to the current period's open invoice
// when a subscription is canceled.
type ProrationPolicy string

const (
	// ProrationNone leaves the open invoice at the full plan price.
	ProrationNone ProrationPolicy = "none"
	// ProrationOpenInvoice reduces the open invoice to the elapsed share of
	// the period.
	ProrationOpenInvoice ProrationPolicy = "prorate_open_invoice"
)

// Config holds the ledger configuration.
// Fields can be set programmatically via WithConfig or loaded from YAML and
// PAYLEDGER_* environment variables with LoadConfig.
type Config struct {
	// ProrationPolicy applies on cancel (default: "none").
	ProrationPolicy ProrationPolicy `json:"proration_policy" mapstructure:"proration_policy" yaml:"proration_policy"`

	// GracePeriod is how long a subscription may stay past_due before the
	// sweeper cancels it (default: 7 days).
	GracePeriod time.Duration `json:"grace_period" mapstructure:"grace_period" yaml:"grace_period"`

	// IdempotencyLease is how long an in-flight idempotency key is held
	// before another caller may resume it (default: 5m).
	IdempotencyLease time.Duration `json:"idempotency_lease" mapstructure:"idempotency_lease" yaml:"idempotency_lease"`

	// ProcessorTimeout bounds each processor call on top of the caller's
	// context. It must be shorter than IdempotencyLease and ReconcileAfter
	// (default: 30s).
	ProcessorTimeout time.Duration `json:"processor_timeout" mapstructure:"processor_timeout" yaml:"processor_timeout"`

	// ReconcileAfter is the age at which the reconciler picks up pending
	// charges and refunds (default: 10m).
	ReconcileAfter time.Duration `json:"reconcile_after" mapstructure:"reconcile_after" yaml:"reconcile_after"`

	// SweepInterval is the tick of the background workers (default: 1m).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	Webhook WebhookConfig `json:"webhook" mapstructure:"webhook" yaml:"webhook"`
	Store   StoreConfig   `json:"store" mapstructure:"store" yaml:"store"`
	Redis   RedisConfig   `json:"redis" mapstructure:"redis" yaml:"redis"`
	HTTP    HTTPConfig    `json:"http" mapstructure:"http" yaml:"http"`
	Log     LogConfig     `json:"log" mapstructure:"log" yaml:"log"`

	// PlansFile is a YAML plan catalog loaded by the CLI.
	PlansFile string `json:"plans_file" mapstructure:"plans_file" yaml:"plans_file"`
}

// WebhookConfig configures inbound webhook authentication.
type WebhookConfig struct {
	Secret          string        `json:"-" mapstructure:"secret" yaml:"secret"`
	Tolerance       time.Duration `json:"tolerance" mapstructure:"tolerance" yaml:"tolerance"`
	SignatureHeader string        `json:"signature_header" mapstructure:"signature_header" yaml:"signature_header"`
	MaxBodyBytes    int64         `json:"max_body_bytes" mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// StoreConfig selects the persistence backend: memory, bolt, sqlite,
// postgres or mongo.
type StoreConfig struct {
	Driver   string `json:"driver" mapstructure:"driver" yaml:"driver"`
	DSN      string `json:"-" mapstructure:"dsn" yaml:"dsn"`
	Database string `json:"database" mapstructure:"database" yaml:"database"`
}

// RedisConfig enables the Redis idempotency store when Addr is set.
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr" yaml:"addr"`
	Password string `json:"-" mapstructure:"password" yaml:"password"`
	DB       int    `json:"db" mapstructure:"db" yaml:"db"`
}

type HTTPConfig struct {
	Addr string `json:"addr" mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level" yaml:"level"`
	Format string `json:"format" mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProrationPolicy:  ProrationNone,
		GracePeriod:      7 * 24 * time.Hour,
		IdempotencyLease: 5 * time.Minute,
		ProcessorTimeout: 30 * time.Second,
		ReconcileAfter:   10 * time.Minute,
		SweepInterval:    time.Minute,
		Webhook: WebhookConfig{
			Tolerance:       5 * time.Minute,
			SignatureHeader: "Webhook-Signature",
			MaxBodyBytes:    1 << 20,
		},
		Store: StoreConfig{
			Driver:   "memory",
			Database: "payledger",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports configuration values the engines cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.ProrationPolicy {
	case ProrationNone, ProrationOpenInvoice:
	default:
		errs = append(errs, fmt.Errorf("proration_policy: unknown policy %q", c.ProrationPolicy))
	}
	if c.IdempotencyLease <= 0 {
		errs = append(errs, errors.New("idempotency_lease: must be positive"))
	}
	if c.GracePeriod < 0 {
		errs = append(errs, errors.New("grace_period: must not be negative"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval: must be positive"))
	}
	if c.ProcessorTimeout <= 0 {
		errs = append(errs, errors.New("processor_timeout: must be positive"))
	}
	if c.ReconcileAfter <= c.ProcessorTimeout {
		errs = append(errs, errors.New("reconcile_after: must be longer than processor_timeout"))
	}
	if c.IdempotencyLease <= c.ProcessorTimeout {
		errs = append(errs, errors.New("idempotency_lease: must be longer than processor_timeout"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: config: %w", ErrInvalidInput, err)
	}
	return nil
}

// LoadConfig builds a Config from DefaultConfig, an optional YAML file at
// path, a .env file in the working directory, and PAYLEDGER_* environment
// variables, later sources winning. Nested keys use underscores:
// PAYLEDGER_WEBHOOK_SECRET sets webhook.secret.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("payledger: load .env: %w", err)
	}

	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix("PAYLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("payledger: read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("payledger: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// the YAML file does not mention.
func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("proration_policy", string(c.ProrationPolicy))
	v.SetDefault("grace_period", c.GracePeriod)
	v.SetDefault("idempotency_lease", c.IdempotencyLease)
	v.SetDefault("processor_timeout", c.ProcessorTimeout)
	v.SetDefault("reconcile_after", c.ReconcileAfter)
	v.SetDefault("sweep_interval", c.SweepInterval)
	v.SetDefault("webhook.secret", c.Webhook.Secret)
	v.SetDefault("webhook.tolerance", c.Webhook.Tolerance)
	v.SetDefault("webhook.signature_header", c.Webhook.SignatureHeader)
	v.SetDefault("webhook.max_body_bytes", c.Webhook.MaxBodyBytes)
	v.SetDefault("store.driver", c.Store.Driver)
	v.SetDefault("store.dsn", c.Store.DSN)
	v.SetDefault("store.database", c.Store.Database)
	v.SetDefault("redis.addr", c.Redis.Addr)
	v.SetDefault("redis.password", c.Redis.Password)
	v.SetDefault("redis.db", c.Redis.DB)
	v.SetDefault("http.addr", c.HTTP.Addr)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("plans_file", c.PlansFile)
}
