package payledger_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/plan"
	"github.com/xraph/payledger/processor"
	"github.com/xraph/payledger/processor/sandbox"
	"github.com/xraph/payledger/store"
	"github.com/xraph/payledger/store/memory"
	"github.com/xraph/payledger/types"
)

const testSecret = "whsec_test"

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	ledger    *payledger.Ledger
	store     *memory.Store
	processor *sandbox.Processor
	clock     *testClock

	backing store.Store
	opts    []payledger.Option
}

var (
	planMonthly = &plan.Plan{ID: "pro-monthly", Name: "Pro", Interval: plan.Months(1), Price: types.USD(3000)}
	planDaily   = &plan.Plan{ID: "daily", Name: "Daily", Interval: plan.Days(30), Price: types.USD(3000)}
)

func newHarness(t *testing.T, configure ...func(*payledger.Config)) *harness {
	t.Helper()
	return newHarnessWith(t, nil, configure...)
}

// newHarnessWith builds a harness whose ledger sees the memory store through
// wrap, when wrap is non-nil.
func newHarnessWith(t *testing.T, wrap func(*memory.Store) store.Store, configure ...func(*payledger.Config)) *harness {
	t.Helper()

	cfg := payledger.DefaultConfig()
	cfg.Webhook.Secret = testSecret
	cfg.ProcessorTimeout = time.Second
	for _, fn := range configure {
		fn(&cfg)
	}
	require.NoError(t, cfg.Validate())

	h := &harness{
		store:     memory.New(),
		processor: sandbox.New(),
		clock:     newTestClock(),
	}
	var s store.Store = h.store
	if wrap != nil {
		s = wrap(h.store)
	}
	h.backing = s
	h.opts = []payledger.Option{
		payledger.WithProcessor(h.processor),
		payledger.WithClock(h.clock.Now),
		payledger.WithConfig(cfg),
		payledger.WithPlanCatalog(plan.NewStaticCatalog(planMonthly, planDaily)),
		payledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.ledger = payledger.New(s, h.opts...)
	t.Cleanup(func() { _ = h.store.Close() })
	return h
}

// useProcessor rebuilds the ledger around p. Store and clock are kept.
func (h *harness) useProcessor(p processor.Processor) {
	opts := append(append([]payledger.Option(nil), h.opts...), payledger.WithProcessor(p))
	h.ledger = payledger.New(h.backing, opts...)
}

func historyActions(t *testing.T, h *harness, entityID string) []string {
	t.Helper()
	entries, err := h.ledger.History(t.Context(), entityID)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}
