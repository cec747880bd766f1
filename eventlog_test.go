package payledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/eventlog"
)

func TestEventLogRecord(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	events := h.ledger.EventLog()
	fp := eventlog.NewFingerprint("test.op", "a", "1")

	claim, err := events.Record(ctx, "key-1", "test.op", fp)
	require.NoError(t, err)
	assert.Equal(t, payledger.OutcomeNew, claim.Outcome)

	_, err = events.Record(ctx, "key-1", "test.op", fp)
	require.ErrorIs(t, err, payledger.ErrIdempotencyInFlight)

	_, err = events.Record(ctx, "key-1", "test.op", eventlog.NewFingerprint("test.op", "a", "2"))
	require.ErrorIs(t, err, payledger.ErrIdempotencyConflict)

	require.NoError(t, events.Complete(ctx, claim, "ent_1", map[string]int{"n": 7}))

	dup, err := events.Record(ctx, "key-1", "test.op", fp)
	require.NoError(t, err)
	assert.Equal(t, payledger.OutcomeDuplicate, dup.Outcome)
	assert.Equal(t, "ent_1", dup.EntityID)

	var got map[string]int
	require.NoError(t, dup.Decode(&got))
	assert.Equal(t, 7, got["n"])
}

func TestEventLogLeaseExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	events := h.ledger.EventLog()
	fp := eventlog.NewFingerprint("test.op")

	first, err := events.Record(ctx, "key-1", "test.op", fp)
	require.NoError(t, err)
	require.NoError(t, events.Bind(ctx, first, "ent_1"))

	h.clock.Advance(h.ledger.Config().IdempotencyLease + time.Second)
	resumed, err := events.Record(ctx, "key-1", "test.op", fp)
	require.NoError(t, err)
	assert.Equal(t, payledger.OutcomeResumed, resumed.Outcome)
	assert.Equal(t, "ent_1", resumed.EntityID)

	// The stale holder can no longer complete: its view of the record is old.
	err = events.Complete(ctx, first, "ent_1", "late")
	require.ErrorIs(t, err, payledger.ErrVersionConflict)

	require.NoError(t, events.Complete(ctx, resumed, "ent_1", "done"))
	rec, err := h.store.GetRecord(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, eventlog.StateCompleted, rec.State)
	assert.Equal(t, 2, rec.Attempts)
}

func TestEventLogRelease(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	events := h.ledger.EventLog()
	fp := eventlog.NewFingerprint("test.op")

	claim, err := events.Record(ctx, "key-1", "test.op", fp)
	require.NoError(t, err)
	events.Release(ctx, claim)

	again, err := events.Record(ctx, "key-1", "test.op", fp)
	require.NoError(t, err)
	assert.Equal(t, payledger.OutcomeResumed, again.Outcome)
}

func TestEventLogHistory(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	events := h.ledger.EventLog()

	for _, action := range []string{"thing.created", "thing.updated", "thing.closed"} {
		require.NoError(t, events.Append(ctx, &eventlog.Entry{
			Action:     action,
			EntityType: "thing",
			EntityID:   "thing_1",
		}))
		h.clock.Advance(time.Millisecond)
	}
	require.NoError(t, events.Append(ctx, &eventlog.Entry{Action: "other", EntityType: "thing", EntityID: "thing_2"}))

	entries, err := events.History(ctx, "thing_1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "thing.created", entries[0].Action)
	assert.Equal(t, "thing.closed", entries[2].Action)
	for _, e := range entries {
		assert.False(t, e.ID.IsNil())
		assert.False(t, e.RecordedAt.IsZero())
	}
}
