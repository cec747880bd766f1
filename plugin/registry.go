package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onChargeSucceeded      []OnChargeSucceeded
	onChargeFailed         []OnChargeFailed
	onChargeRefunded       []OnChargeRefunded
	onSubscriptionCreated  []OnSubscriptionCreated
	onSubscriptionCanceled []OnSubscriptionCanceled
	onSubscriptionPastDue  []OnSubscriptionPastDue
	onInvoiceGenerated     []OnInvoiceGenerated
	onInvoicePaid          []OnInvoicePaid
	onInvoiceFailed        []OnInvoiceFailed
	onWebhookReceived      []OnWebhookReceived
	onWebhookProcessed     []OnWebhookProcessed
	onWebhookRejected      []OnWebhookRejected
	onIdempotentReplay     []OnIdempotentReplay
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnChargeSucceeded); ok {
		r.onChargeSucceeded = append(r.onChargeSucceeded, v)
	}
	if v, ok := p.(OnChargeFailed); ok {
		r.onChargeFailed = append(r.onChargeFailed, v)
	}
	if v, ok := p.(OnChargeRefunded); ok {
		r.onChargeRefunded = append(r.onChargeRefunded, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnSubscriptionPastDue); ok {
		r.onSubscriptionPastDue = append(r.onSubscriptionPastDue, v)
	}
	if v, ok := p.(OnInvoiceGenerated); ok {
		r.onInvoiceGenerated = append(r.onInvoiceGenerated, v)
	}
	if v, ok := p.(OnInvoicePaid); ok {
		r.onInvoicePaid = append(r.onInvoicePaid, v)
	}
	if v, ok := p.(OnInvoiceFailed); ok {
		r.onInvoiceFailed = append(r.onInvoiceFailed, v)
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
	}
	if v, ok := p.(OnWebhookProcessed); ok {
		r.onWebhookProcessed = append(r.onWebhookProcessed, v)
	}
	if v, ok := p.(OnWebhookRejected); ok {
		r.onWebhookRejected = append(r.onWebhookRejected, v)
	}
	if v, ok := p.(OnIdempotentReplay); ok {
		r.onIdempotentReplay = append(r.onIdempotentReplay, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnChargeSucceeded", reflect.TypeFor[OnChargeSucceeded]()},
	{"OnChargeFailed", reflect.TypeFor[OnChargeFailed]()},
	{"OnChargeRefunded", reflect.TypeFor[OnChargeRefunded]()},
	{"OnSubscriptionCreated", reflect.TypeFor[OnSubscriptionCreated]()},
	{"OnSubscriptionCanceled", reflect.TypeFor[OnSubscriptionCanceled]()},
	{"OnSubscriptionPastDue", reflect.TypeFor[OnSubscriptionPastDue]()},
	{"OnInvoiceGenerated", reflect.TypeFor[OnInvoiceGenerated]()},
	{"OnInvoicePaid", reflect.TypeFor[OnInvoicePaid]()},
	{"OnInvoiceFailed", reflect.TypeFor[OnInvoiceFailed]()},
	{"OnWebhookReceived", reflect.TypeFor[OnWebhookReceived]()},
	{"OnWebhookProcessed", reflect.TypeFor[OnWebhookProcessed]()},
	{"OnWebhookRejected", reflect.TypeFor[OnWebhookRejected]()},
	{"OnIdempotentReplay", reflect.TypeFor[OnIdempotentReplay]()},
}

func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in the cached list selected by pick.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, pick func(*Registry) []T, fn func(T) error) {
	r.mu.RLock()
	plugins := pick(r)
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	emit(ctx, r, "OnInit", func(r *Registry) []OnInit { return r.onInit },
		func(p OnInit) error { return p.OnInit(ctx, ledger) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", func(r *Registry) []OnShutdown { return r.onShutdown },
		func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitChargeSucceeded emits a charge succeeded event.
func (r *Registry) EmitChargeSucceeded(ctx context.Context, ch interface{}) {
	emit(ctx, r, "OnChargeSucceeded", func(r *Registry) []OnChargeSucceeded { return r.onChargeSucceeded },
		func(p OnChargeSucceeded) error { return p.OnChargeSucceeded(ctx, ch) })
}

// EmitChargeFailed emits a charge failed event.
func (r *Registry) EmitChargeFailed(ctx context.Context, ch interface{}) {
	emit(ctx, r, "OnChargeFailed", func(r *Registry) []OnChargeFailed { return r.onChargeFailed },
		func(p OnChargeFailed) error { return p.OnChargeFailed(ctx, ch) })
}

// EmitChargeRefunded emits a charge refunded event.
func (r *Registry) EmitChargeRefunded(ctx context.Context, ch, refund interface{}) {
	emit(ctx, r, "OnChargeRefunded", func(r *Registry) []OnChargeRefunded { return r.onChargeRefunded },
		func(p OnChargeRefunded) error { return p.OnChargeRefunded(ctx, ch, refund) })
}

// EmitSubscriptionCreated emits a subscription created event.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub interface{}) {
	emit(ctx, r, "OnSubscriptionCreated", func(r *Registry) []OnSubscriptionCreated { return r.onSubscriptionCreated },
		func(p OnSubscriptionCreated) error { return p.OnSubscriptionCreated(ctx, sub) })
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub interface{}) {
	emit(ctx, r, "OnSubscriptionCanceled", func(r *Registry) []OnSubscriptionCanceled { return r.onSubscriptionCanceled },
		func(p OnSubscriptionCanceled) error { return p.OnSubscriptionCanceled(ctx, sub) })
}

// EmitSubscriptionPastDue emits a subscription past-due event.
func (r *Registry) EmitSubscriptionPastDue(ctx context.Context, sub interface{}) {
	emit(ctx, r, "OnSubscriptionPastDue", func(r *Registry) []OnSubscriptionPastDue { return r.onSubscriptionPastDue },
		func(p OnSubscriptionPastDue) error { return p.OnSubscriptionPastDue(ctx, sub) })
}

// EmitInvoiceGenerated emits an invoice generated event.
func (r *Registry) EmitInvoiceGenerated(ctx context.Context, inv interface{}) {
	emit(ctx, r, "OnInvoiceGenerated", func(r *Registry) []OnInvoiceGenerated { return r.onInvoiceGenerated },
		func(p OnInvoiceGenerated) error { return p.OnInvoiceGenerated(ctx, inv) })
}

// EmitInvoicePaid emits an invoice paid event.
func (r *Registry) EmitInvoicePaid(ctx context.Context, inv interface{}) {
	emit(ctx, r, "OnInvoicePaid", func(r *Registry) []OnInvoicePaid { return r.onInvoicePaid },
		func(p OnInvoicePaid) error { return p.OnInvoicePaid(ctx, inv) })
}

// EmitInvoiceFailed emits an invoice payment failure event.
func (r *Registry) EmitInvoiceFailed(ctx context.Context, inv interface{}, cause error) {
	emit(ctx, r, "OnInvoiceFailed", func(r *Registry) []OnInvoiceFailed { return r.onInvoiceFailed },
		func(p OnInvoiceFailed) error { return p.OnInvoiceFailed(ctx, inv, cause) })
}

// EmitWebhookReceived emits a webhook received event.
func (r *Registry) EmitWebhookReceived(ctx context.Context, evt interface{}) {
	emit(ctx, r, "OnWebhookReceived", func(r *Registry) []OnWebhookReceived { return r.onWebhookReceived },
		func(p OnWebhookReceived) error { return p.OnWebhookReceived(ctx, evt) })
}

// EmitWebhookProcessed emits a webhook processed event.
func (r *Registry) EmitWebhookProcessed(ctx context.Context, evt interface{}) {
	emit(ctx, r, "OnWebhookProcessed", func(r *Registry) []OnWebhookProcessed { return r.onWebhookProcessed },
		func(p OnWebhookProcessed) error { return p.OnWebhookProcessed(ctx, evt) })
}

// EmitWebhookRejected emits a webhook rejected event.
func (r *Registry) EmitWebhookRejected(ctx context.Context, evt interface{}, cause error) {
	emit(ctx, r, "OnWebhookRejected", func(r *Registry) []OnWebhookRejected { return r.onWebhookRejected },
		func(p OnWebhookRejected) error { return p.OnWebhookRejected(ctx, evt, cause) })
}

// EmitIdempotentReplay emits an idempotent replay event.
func (r *Registry) EmitIdempotentReplay(ctx context.Context, key string) {
	emit(ctx, r, "OnIdempotentReplay", func(r *Registry) []OnIdempotentReplay { return r.onIdempotentReplay },
		func(p OnIdempotentReplay) error { return p.OnIdempotentReplay(ctx, key) })
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the payment pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
