package extension

import (
	"log/slog"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/plan"
	"github.com/xraph/payledger/plugin"
	"github.com/xraph/payledger/processor"
	"github.com/xraph/payledger/store"
)

// Option configures the Extension.
type Option func(*Extension)

// WithStore sets the store instead of opening one from the store config.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithProcessor sets the payment processor (default: the sandbox).
func WithProcessor(p processor.Processor) Option {
	return func(e *Extension) {
		e.processor = p
	}
}

// WithPlanCatalog sets the plan catalog instead of loading plans_file.
func WithPlanCatalog(c plan.Catalog) Option {
	return func(e *Extension) {
		e.catalog = c
	}
}

// WithLogger sets the logger shared by the ledger and the HTTP layer.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithLedgerOption passes a payledger.Option through to the engine.
func WithLedgerOption(opt payledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, payledger.WithPlugin(p))
	}
}

// WithConfig sets the service configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes skips route registration and the standalone HTTP server.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMetrics leaves out the Prometheus plugin and /metrics.
func WithDisableMetrics() Option {
	return func(e *Extension) { e.config.DisableMetrics = true }
}

// WithBasePath sets the URL prefix for the API routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig makes Register fail when the app's config files have
// no payledger section.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithGroveDatabase builds the store from a grove.DB registered in the
// Forge DI container, typically by the grove extension. An empty name
// resolves the default database. The backend (postgres, sqlite or mongo)
// follows the grove driver type.
func WithGroveDatabase(name string) Option {
	return func(e *Extension) {
		e.config.GroveDatabase = name
		e.useGrove = true
	}
}
