// Package extension provides the Forge extension adapter for payledger.
//
// It implements forge.Extension. Register builds the ledger over the
// configured store, or over a grove.DB taken from the DI container, and
// provides the Ledger and its API handler through the container. The API
// routes are mounted on the app's router.
//
// Outside Forge the same resources are assembled by Init, and Serve runs
// the API on its own HTTP server. The cmd/payledger binary does this:
//
//	ext := extension.New(cfg, extension.WithPlugin(myPlugin))
//	if err := ext.Init(ctx); err != nil { ... }
//	if err := ext.Start(ctx); err != nil { ... }
//	defer ext.Stop(context.Background())
//	err := ext.Serve(ctx)
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/api"
	"github.com/xraph/payledger/observability"
	"github.com/xraph/payledger/plan"
	"github.com/xraph/payledger/processor"
	"github.com/xraph/payledger/processor/sandbox"
	"github.com/xraph/payledger/store"
	redisstore "github.com/xraph/payledger/store/redis"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "payledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Idempotent payment and subscription ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension owns the process-level resources around a Ledger.
type Extension struct {
	*forge.BaseExtension

	config     Config
	ledgerCfg  payledger.Config
	engine     *payledger.Ledger
	store      store.Store
	events     *redisstore.Store
	catalog    plan.Catalog
	processor  processor.Processor
	ledgerOpts []payledger.Option
	logger     *slog.Logger
	useGrove   bool

	metrics  *observability.MetricsExtension
	registry *prometheus.Registry
	api      *api.Handler
	handler  http.Handler
}

// New creates an Extension for the given ledger configuration.
func New(cfg payledger.Config, opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
		ledgerCfg:     cfg,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.config = mergeWithDefaults(e.config)
	return e
}

// Engine returns the underlying Ledger. It is nil until Register or Init
// is called.
func (e *Extension) Engine() *payledger.Ledger { return e.engine }

// Handler returns the HTTP handler, mounted under the base path. It is nil
// until Register or Init is called.
func (e *Extension) Handler() http.Handler { return e.handler }

// Registry returns the Prometheus registry, or nil when metrics are
// disabled.
func (e *Extension) Registry() *prometheus.Registry { return e.registry }

// Metrics returns the metrics plugin, or nil when metrics are disabled.
func (e *Extension) Metrics() *observability.MetricsExtension { return e.metrics }

// Register implements [forge.Extension]. After loading configuration it
// builds the ledger and provides it and the API handler through the DI
// container. Routes are mounted unless disabled.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.useGrove && e.store == nil {
		db, err := e.resolveGroveDB(fapp)
		if err != nil {
			return err
		}
		if e.store, err = StoreFromGrove(db); err != nil {
			return err
		}
	}

	if err := e.Init(context.Background()); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*payledger.Ledger, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	if err := vessel.Provide(fapp.Container(), func() (*api.Handler, error) {
		return e.api, nil
	}); err != nil {
		return err
	}

	if e.config.DisableRoutes {
		return nil
	}
	return e.registerRoutes(fapp.Router())
}

// resolveGroveDB looks up the configured grove.DB in the DI container.
func (e *Extension) resolveGroveDB(fapp forge.App) (*grove.DB, error) {
	var (
		db  *grove.DB
		err error
	)
	if e.config.GroveDatabase == "" {
		db, err = vessel.Inject[*grove.DB](fapp.Container())
	} else {
		db, err = vessel.InjectNamed[*grove.DB](fapp.Container(), e.config.GroveDatabase)
	}
	if err != nil {
		return nil, fmt.Errorf("payledger: resolve grove database %q: %w", e.config.GroveDatabase, err)
	}
	return db, nil
}

// Init opens every backing resource and builds the ledger and its HTTP
// handler without a Forge app. Resources opened before a failure are
// closed.
func (e *Extension) Init(ctx context.Context) (err error) {
	if e.engine != nil {
		return errors.New("payledger: extension already registered")
	}
	if err := e.ledgerCfg.Validate(); err != nil {
		return err
	}

	if e.store == nil {
		if e.store, err = OpenStore(ctx, e.ledgerCfg.Store); err != nil {
			return fmt.Errorf("payledger: open %s store: %w", e.ledgerCfg.Store.Driver, err)
		}
	}
	defer func() {
		if err != nil {
			e.closeResources()
		}
	}()

	if e.events, err = OpenEventLog(ctx, e.ledgerCfg.Redis); err != nil {
		return fmt.Errorf("payledger: open redis event log: %w", err)
	}

	if e.catalog == nil {
		if e.catalog, err = e.loadCatalog(); err != nil {
			return err
		}
	}
	if e.processor == nil {
		e.processor = sandbox.New()
		e.logger.Warn("no payment processor configured, using the sandbox")
	}

	opts := e.buildLedgerOpts()
	e.engine = payledger.New(e.store, opts...)

	apiOpts := []api.Option{api.WithLogger(e.logger)}
	if e.registry != nil {
		apiOpts = append(apiOpts, api.WithGatherer(e.registry))
	}
	e.api = api.New(e.engine, apiOpts...)
	e.handler = mount(e.config.BasePath, e.api)

	e.logger.Debug("payledger: extension initialized",
		"store", e.ledgerCfg.Store.Driver,
		"redis_event_log", e.events != nil,
		"metrics", e.registry != nil,
		"base_path", e.config.BasePath,
	)
	return nil
}

// registerRoutes mounts every API endpoint on the Forge router. Matched
// requests are forwarded to the API mux, which resolves path wildcards.
func (e *Extension) registerRoutes(router forge.Router) error {
	forward := func(ctx forge.Context) error {
		e.handler.ServeHTTP(ctx.Response(), ctx.Request())
		return nil
	}

	for _, ep := range e.api.Endpoints() {
		path := joinPath(e.config.BasePath, routePath(ep.Path))
		var err error
		switch ep.Method {
		case http.MethodGet:
			err = router.GET(path, forward)
		case http.MethodPost:
			err = router.POST(path, forward)
		default:
			err = fmt.Errorf("unsupported method %s", ep.Method)
		}
		if err != nil {
			return fmt.Errorf("payledger: register route %s %s: %w", ep.Method, path, err)
		}
	}
	return nil
}

// Start implements [forge.Extension]. It migrates the store and starts
// the ledger's background workers.
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("payledger: extension not registered")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	e.MarkStarted()
	return nil
}

// Migrate applies store migrations without starting workers.
func (e *Extension) Migrate(ctx context.Context) error {
	if e.store == nil {
		return errors.New("payledger: extension not registered")
	}
	return e.store.Migrate(ctx)
}

// Serve listens on the configured address until ctx is canceled, then
// shuts the server down gracefully.
func (e *Extension) Serve(ctx context.Context) error {
	if e.handler == nil {
		return errors.New("payledger: extension not registered")
	}
	if e.config.DisableRoutes {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              e.ledgerCfg.HTTP.Addr,
		Handler:           e.handler,
		ReadHeaderTimeout: e.config.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("http server listening", "addr", srv.Addr, "version", ExtensionVersion)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("payledger: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("payledger: http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("payledger: http server: %w", err)
	}
	return nil
}

// Stop implements [forge.Extension]. It stops the ledger and closes the
// store and the Redis event log.
func (e *Extension) Stop(_ context.Context) error {
	defer e.MarkStopped()
	var errs []error
	if e.engine != nil {
		errs = append(errs, e.engine.Stop())
	} else if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.events != nil {
		errs = append(errs, e.events.Close())
	}
	return errors.Join(errs...)
}

// Health implements [forge.Extension]. It pings the store and, when
// configured, Redis.
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("payledger: store not initialized")
	}
	if err := e.store.Ping(ctx); err != nil {
		return err
	}
	if e.events != nil {
		return e.events.Ping(ctx)
	}
	return nil
}

// buildLedgerOpts constructs payledger.Option values from the resolved
// resources. Pass-through options are applied last.
func (e *Extension) buildLedgerOpts() []payledger.Option {
	opts := make([]payledger.Option, 0, len(e.ledgerOpts)+6)
	opts = append(opts,
		payledger.WithConfig(e.ledgerCfg),
		payledger.WithLogger(e.logger),
		payledger.WithProcessor(e.processor),
		payledger.WithPlanCatalog(e.catalog),
	)

	if e.events != nil {
		opts = append(opts, payledger.WithEventLogStore(e.events))
	}

	if !e.config.DisableMetrics {
		e.registry = prometheus.NewRegistry()
		e.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		e.metrics = observability.NewMetricsExtension(e.registry)
		opts = append(opts, payledger.WithPlugin(e.metrics))
	}

	return append(opts, e.ledgerOpts...)
}

func (e *Extension) loadCatalog() (plan.Catalog, error) {
	if e.ledgerCfg.PlansFile == "" {
		e.logger.Warn("no plans_file configured, subscriptions cannot be created")
		return plan.NewStaticCatalog(), nil
	}
	c, err := plan.LoadCatalogFile(e.ledgerCfg.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("payledger: load plans: %w", err)
	}
	return c, nil
}

func (e *Extension) closeResources() {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.events != nil {
		_ = e.events.Close()
	}
}

// routePath rewrites net/http wildcards ({id}) as Forge parameters (:id).
func routePath(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			segs[i] = ":" + strings.TrimSuffix(seg[1:len(seg)-1], "...")
		}
	}
	return strings.Join(segs, "/")
}

func joinPath(prefix, p string) string {
	return strings.TrimRight(prefix, "/") + p
}

// mount serves h under prefix.
func mount(prefix string, h http.Handler) http.Handler {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return h
	}
	mux := http.NewServeMux()
	mux.Handle(prefix+"/", http.StripPrefix(prefix, h))
	return mux
}
