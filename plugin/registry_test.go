package plugin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/payledger/plugin"
)

type recorder struct {
	name string
	mu   sync.Mutex
	seen []string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func (r *recorder) OnChargeSucceeded(_ context.Context, _ interface{}) error {
	r.add("charge.succeeded")
	return nil
}

func (r *recorder) OnWebhookRejected(_ context.Context, _ interface{}, err error) error {
	r.add("webhook.rejected:" + err.Error())
	return errors.New("plugin failure is ignored")
}

type sleeper struct{}

func (sleeper) Name() string { return "sleeper" }

func (sleeper) OnInvoicePaid(ctx context.Context, _ interface{}) error {
	time.Sleep(time.Second)
	return nil
}

func TestRegistryDispatch(t *testing.T) {
	r := plugin.NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))

	r.EmitChargeSucceeded(context.Background(), struct{}{})
	r.EmitWebhookRejected(context.Background(), struct{}{}, errors.New("bad"))
	r.EmitInvoicePaid(context.Background(), struct{}{})

	assert.Equal(t, []string{"charge.succeeded", "webhook.rejected:bad"}, rec.events())
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&recorder{name: "a"}))
	assert.Error(t, r.Register(&recorder{name: "a"}))
	assert.Equal(t, 1, r.Count())
	assert.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("b"))
}

func TestRegistryTimeout(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(20 * time.Millisecond)
	require.NoError(t, r.Register(sleeper{}))

	start := time.Now()
	r.EmitInvoicePaid(context.Background(), struct{}{})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
