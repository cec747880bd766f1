// Package payledger provides the transactional core of a payment system:
// charges and refunds, recurring subscriptions and their invoices, and
// inbound processor webhooks, all made safe to retry.
//
// Payledger is designed as a library, not a service. Import it into your Go
// application, or run the bundled cmd/payledger HTTP server. It provides:
//
//   - Exactly-once charges and refunds keyed by caller idempotency keys
//   - Refund reservations that can never exceed the charged amount
//   - Subscription billing with one invoice per period
//   - Configurable proration on cancel and a past_due grace period
//   - Signed, deduplicated webhook ingestion with per-delivery records
//   - Crash reconciliation against the processor's own records
//   - Pluggable stores (memory, bolt, sqlite, postgres, mongo) and a Redis
//     idempotency log
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/payledger"
//	    "github.com/xraph/payledger/processor/sandbox"
//	    "github.com/xraph/payledger/store/sqlite"
//	)
//
//	store, err := sqlite.Open(ctx, "payledger.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := payledger.New(store,
//	    payledger.WithProcessor(sandbox.New()),
//	    payledger.WithPlanCatalog(catalog),
//	)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Idempotency
//
// Every money-moving call carries an idempotency key. The EventLog claims
// the key before any side effect: a repeat with the same parameters gets the
// stored result, a repeat with different parameters gets
// ErrIdempotencyConflict, and a repeat while the first call is still running
// gets ErrIdempotencyInFlight. A call that stops midway (timeout, crash)
// leaves its key pending; the next attempt resumes it and asks the processor
// what happened before acting again.
//
//	ch, err := l.CreateCharge(ctx, payledger.CreateChargeParams{
//	    CustomerID:         "cus_42",
//	    Amount:             4900,
//	    Currency:           "usd",
//	    PaymentMethodToken: "tok_visa",
//	    IdempotencyKey:     "order-1001",
//	})
//
// A declined charge is not an error: ch.Status is "failed" and
// ch.FailureReason says why.
//
// # Concurrency
//
// Entities carry a version and every write is conditional on it. Engines
// reload and retry on ErrVersionConflict, so concurrent refunds of one charge
// and concurrent invoice generation for one subscription serialize without
// locks held across processor calls.
//
// # Errors
//
// Errors are sentinels wrapped with context. KindOf and ClassOf map any
// error to a kind (validation, not_found, conflict, retryable, security,
// internal) and to the status class reported to webhook senders and API
// callers.
//
// All amounts are integers in the currency's smallest unit.
package payledger
