package extension

import (
	"errors"
	"time"

	"github.com/xraph/forge"
)

// Config holds the service-level settings that sit around the ledger.
// Ledger behavior itself is configured through payledger.Config.
type Config struct {
	// DisableRoutes skips Forge route registration, and Serve blocks until
	// ctx is done instead of listening.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMetrics leaves out the Prometheus plugin and /metrics.
	DisableMetrics bool `json:"disable_metrics" mapstructure:"disable_metrics" yaml:"disable_metrics"`

	// BasePath is the URL prefix the API is mounted under (default: "/").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// ShutdownTimeout bounds the graceful HTTP shutdown (default: 10s).
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// ReadHeaderTimeout bounds how long a client may take to send headers
	// (default: 5s).
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// GroveDatabase names the grove.DB in the DI container the store is
	// built on. It is used only with WithGroveDatabase; empty means the
	// default database.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// RequireConfig makes Register fail when neither "extensions.payledger"
	// nor "payledger" is present in the app's config files.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:          "/",
		ShutdownTimeout:   10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	return cfg
}

// loadConfiguration merges config from the Forge app's files with the
// programmatic options.
func (e *Extension) loadConfiguration() error {
	programmatic := e.config

	fileConfig, loaded := e.tryLoadFromConfigFile()
	if !loaded {
		if programmatic.RequireConfig {
			return errors.New("payledger: configuration is required but not found in config files; " +
				"ensure 'extensions.payledger' or 'payledger' key exists in your config")
		}
		e.config = mergeWithDefaults(programmatic)
	} else {
		e.config = mergeWithDefaults(mergeConfigurations(fileConfig, programmatic))
	}

	e.Logger().Debug("payledger: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_metrics", e.config.DisableMetrics),
		forge.F("base_path", e.config.BasePath),
	)
	return nil
}

// tryLoadFromConfigFile binds "extensions.payledger", then "payledger".
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	for _, key := range []string{"extensions.payledger", "payledger"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("payledger: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("payledger: loaded config from file", forge.F("key", key))
		return cfg, true
	}
	return Config{}, false
}

// mergeConfigurations lets file values win and fills their gaps from the
// programmatic config. Programmatic bool flags override when true.
func mergeConfigurations(file, programmatic Config) Config {
	if programmatic.DisableRoutes {
		file.DisableRoutes = true
	}
	if programmatic.DisableMetrics {
		file.DisableMetrics = true
	}
	if file.GroveDatabase == "" {
		file.GroveDatabase = programmatic.GroveDatabase
	}
	if file.BasePath == "" {
		file.BasePath = programmatic.BasePath
	}
	if file.ShutdownTimeout == 0 {
		file.ShutdownTimeout = programmatic.ShutdownTimeout
	}
	if file.ReadHeaderTimeout == 0 {
		file.ReadHeaderTimeout = programmatic.ReadHeaderTimeout
	}
	return file
}
