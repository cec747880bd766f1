package payledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/plan"
	"github.com/xraph/payledger/plugin"
	"github.com/xraph/payledger/processor"
	"github.com/xraph/payledger/store"
)

// Ledger is the transactional payment core. It owns the charge,
// subscription and webhook engines and the event log they share.
type Ledger struct {
	store     store.Store
	eventsDB  eventlog.Store
	events    *EventLog
	processor processor.Processor
	plans     plan.Catalog
	plugins   *plugin.Registry
	logger    *slog.Logger
	validate  *validator.Validate
	clock     func() time.Time
	cfg       Config

	// Background workers
	stopOnce sync.Once
	cancel   context.CancelFunc
	workers  errgroup.Group
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    s,
		eventsDB: s,
		plans:    plan.NewStaticCatalog(),
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		validate: newValidator(),
		clock:    time.Now,
		cfg:      DefaultConfig(),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.events = newEventLog(l.eventsDB, l.cfg.IdempotencyLease, l.now, l.logger)
	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithProcessor sets the payment processor.
func WithProcessor(p processor.Processor) Option {
	return func(l *Ledger) {
		l.processor = p
	}
}

// WithPlanCatalog sets the catalog subscriptions are priced from.
func WithPlanCatalog(c plan.Catalog) Option {
	return func(l *Ledger) {
		l.plans = c
	}
}

// WithConfig replaces the configuration.
func WithConfig(cfg Config) Option {
	return func(l *Ledger) {
		l.cfg = cfg
	}
}

// WithEventLogStore keeps idempotency records and the journal in es
// instead of the main store.
func WithEventLogStore(es eventlog.Store) Option {
	return func(l *Ledger) {
		l.eventsDB = es
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = now
	}
}

// Config returns the active configuration.
func (l *Ledger) Config() Config { return l.cfg }

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Start migrates the store and begins background workers.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.cfg.Validate(); err != nil {
		return err
	}

	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel

	l.workers.Go(func() error {
		l.runEvery(workerCtx, "reconciler", l.ReconcilePending)
		return nil
	})
	l.workers.Go(func() error {
		l.runEvery(workerCtx, "grace sweeper", func(ctx context.Context) (int, error) {
			return l.ExpirePastDue(ctx)
		})
		return nil
	})

	l.logger.Info("payledger started",
		"sweep_interval", l.cfg.SweepInterval,
		"reconcile_after", l.cfg.ReconcileAfter,
		"grace_period", l.cfg.GracePeriod,
		"proration_policy", l.cfg.ProrationPolicy,
	)

	return nil
}

// Stop shuts down the workers, notifies plugins and closes the store.
func (l *Ledger) Stop() error {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
	})
	_ = l.workers.Wait() //nolint:errcheck // workers never return errors

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// runEvery calls fn on every sweep tick until ctx is canceled.
func (l *Ledger) runEvery(ctx context.Context, name string, fn func(context.Context) (int, error)) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			n, err := fn(ctx)
			if err != nil {
				l.logger.Error(name+" pass failed", "error", err)
				continue
			}
			if n > 0 {
				l.logger.Info(name+" pass finished",
					"resolved", n,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
			}
		}
	}
}
