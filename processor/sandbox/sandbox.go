// Package sandbox provides a deterministic in-process payment processor
// for tests and local runs.
//
// The payment method token picks the outcome:
//
//	tok_ok           authorized
//	tok_decline      declined with reason "card_declined"
//	tok_unavailable  processor.ErrUnavailable
//	tok_slow         blocks until the context is done
//
// Any other token is authorized. Refunds are accepted unless a fault is
// injected. Verdicts are remembered per idempotency key.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xraph/payledger/processor"
)

// Tokens understood by the sandbox.
const (
	TokenOK          = "tok_ok"
	TokenDecline     = "tok_decline"
	TokenUnavailable = "tok_unavailable"
	TokenSlow        = "tok_slow"
)

// Fault overrides the next verdict for a key.
type Fault struct {
	// Err is returned instead of a verdict. The key is not remembered, so
	// a retry reaches the processor again.
	Err error
	// Decline turns the verdict into a decline with this reason.
	Decline string
	// Commit records the verdict even though Err is returned, simulating a
	// response lost after the processor acted.
	Commit bool
}

// Processor is the sandbox. The zero value is not usable; call New.
type Processor struct {
	mu      sync.Mutex
	auths   map[string]processor.Decision
	refunds map[string]processor.Decision
	faults  map[string]Fault
	seq     atomic.Int64

	authorizeCalls atomic.Int64
	refundCalls    atomic.Int64
	executions     atomic.Int64
}

var (
	_ processor.Processor     = (*Processor)(nil)
	_ processor.StatusChecker = (*Processor)(nil)
)

// New returns an empty sandbox.
func New() *Processor {
	return &Processor{
		auths:   make(map[string]processor.Decision),
		refunds: make(map[string]processor.Decision),
		faults:  make(map[string]Fault),
	}
}

// InjectFault makes the next call under key return f.
func (p *Processor) InjectFault(key string, f Fault) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[key] = f
}

// AuthorizeCalls counts Authorize invocations, duplicates included.
func (p *Processor) AuthorizeCalls() int64 { return p.authorizeCalls.Load() }

// RefundCalls counts SettleRefund invocations, duplicates included.
func (p *Processor) RefundCalls() int64 { return p.refundCalls.Load() }

// Executions counts calls that actually moved money: first-time verdicts.
func (p *Processor) Executions() int64 { return p.executions.Load() }

// Authorize implements processor.Processor.
func (p *Processor) Authorize(ctx context.Context, req processor.AuthorizeRequest) (processor.Decision, error) {
	p.authorizeCalls.Add(1)

	if d, ok := p.lookup(p.auths, req.IdempotencyKey); ok {
		return d, nil
	}

	switch req.Token {
	case TokenUnavailable:
		return processor.Decision{}, fmt.Errorf("%w: sandbox token %s", processor.ErrUnavailable, req.Token)
	case TokenSlow:
		<-ctx.Done()
		return processor.Decision{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return processor.Decision{}, err
	}

	d := processor.Decision{Accepted: true, Reference: p.ref("pi")}
	if req.Token == TokenDecline {
		d = processor.Decision{Reason: "card_declined"}
	}
	return p.commit(p.auths, req.IdempotencyKey, d)
}

// SettleRefund implements processor.Processor.
func (p *Processor) SettleRefund(ctx context.Context, req processor.RefundRequest) (processor.Decision, error) {
	p.refundCalls.Add(1)

	if d, ok := p.lookup(p.refunds, req.IdempotencyKey); ok {
		return d, nil
	}
	if err := ctx.Err(); err != nil {
		return processor.Decision{}, err
	}
	return p.commit(p.refunds, req.IdempotencyKey, processor.Decision{Accepted: true, Reference: p.ref("rf")})
}

// AuthorizationStatus implements processor.StatusChecker.
func (p *Processor) AuthorizationStatus(_ context.Context, key string) (processor.Decision, error) {
	if d, ok := p.lookup(p.auths, key); ok {
		return d, nil
	}
	return processor.Decision{}, processor.ErrUnknownKey
}

// RefundStatus implements processor.StatusChecker.
func (p *Processor) RefundStatus(_ context.Context, key string) (processor.Decision, error) {
	if d, ok := p.lookup(p.refunds, key); ok {
		return d, nil
	}
	return processor.Decision{}, processor.ErrUnknownKey
}

func (p *Processor) lookup(m map[string]processor.Decision, key string) (processor.Decision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := m[key]
	return d, ok
}

// commit records d under key unless a fault says otherwise. A concurrent
// caller that committed first wins.
func (p *Processor) commit(m map[string]processor.Decision, key string, d processor.Decision) (processor.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prior, ok := m[key]; ok {
		return prior, nil
	}

	f, faulted := p.faults[key]
	if faulted {
		delete(p.faults, key)
		if f.Decline != "" {
			d = processor.Decision{Reason: f.Decline}
		}
		if f.Err != nil && !f.Commit {
			return processor.Decision{}, f.Err
		}
	}

	m[key] = d
	p.executions.Add(1)
	if faulted && f.Err != nil {
		return processor.Decision{}, f.Err
	}
	return d, nil
}

func (p *Processor) ref(prefix string) string {
	return fmt.Sprintf("%s_sandbox_%06d", prefix, p.seq.Add(1))
}
