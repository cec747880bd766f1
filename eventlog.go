package payledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/payledger/eventlog"
	"github.com/xraph/payledger/id"
	"github.com/xraph/payledger/types"
)

// Outcome is the result of claiming an idempotency key.
type Outcome int

const (
	// OutcomeNew means the key was unseen; the caller runs the operation.
	OutcomeNew Outcome = iota + 1
	// OutcomeDuplicate means the operation already completed; Claim.Result
	// holds its result.
	OutcomeDuplicate
	// OutcomeResumed means an earlier attempt stopped before completing;
	// the caller must reconcile against persisted state.
	OutcomeResumed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeResumed:
		return "resumed"
	}
	return "unknown"
}

// Claim is a caller's hold on an idempotency key.
type Claim struct {
	Key     string
	Outcome Outcome
	// EntityID is the entity bound to the key, if any.
	EntityID string
	// Result is the stored result snapshot of a duplicate.
	Result json.RawMessage

	record *eventlog.Record
}

// Decode unmarshals the stored result of a duplicate into v.
func (c *Claim) Decode(v any) error {
	if len(c.Result) == 0 {
		return fmt.Errorf("payledger: no stored result for key %q", c.Key)
	}
	return json.Unmarshal(c.Result, v)
}

// EventLog records idempotency keys and journals state changes. It is
// the duplicate detector every engine consults before acting.
type EventLog struct {
	store  eventlog.Store
	lease  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func newEventLog(s eventlog.Store, lease time.Duration, now func() time.Time, logger *slog.Logger) *EventLog {
	return &EventLog{store: s, lease: lease, now: now, logger: logger}
}

// Record claims key for an operation with fingerprint fp.
//
// The first caller inserts a pending record holding a lease and gets
// OutcomeNew. Later callers get the stored result (OutcomeDuplicate),
// ErrIdempotencyConflict for a different fingerprint, or
// ErrIdempotencyInFlight while the lease is held. An expired or released
// lease is taken over with OutcomeResumed.
func (e *EventLog) Record(ctx context.Context, key, action string, fp eventlog.Fingerprint) (*Claim, error) {
	now := e.now()
	rec := &eventlog.Record{
		Key:            key,
		Action:         action,
		Fingerprint:    fp,
		State:          eventlog.StatePending,
		LeaseExpiresAt: now.Add(e.lease),
		Attempts:       1,
		FirstSeenAt:    now,
		Version:        1,
	}

	err := e.store.InsertRecord(ctx, rec)
	if err == nil {
		return &Claim{Key: key, Outcome: OutcomeNew, record: rec}, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return nil, fmt.Errorf("payledger: record idempotency key: %w", err)
	}

	return withCAS(ctx, func() (*Claim, error) {
		existing, err := e.store.GetRecord(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("payledger: load idempotency key: %w", err)
		}

		if existing.Fingerprint != fp {
			return nil, fmt.Errorf("%w: key %q was first used for %s", ErrIdempotencyConflict, key, existing.Action)
		}

		if existing.State == eventlog.StateCompleted {
			return &Claim{
				Key:      key,
				Outcome:  OutcomeDuplicate,
				EntityID: existing.EntityID,
				Result:   existing.Result,
				record:   existing,
			}, nil
		}

		now := e.now()
		if existing.Leased(now) {
			return nil, fmt.Errorf("%w: key %q", ErrIdempotencyInFlight, key)
		}

		expected := existing.Version
		existing.LeaseExpiresAt = now.Add(e.lease)
		existing.Attempts++
		if err := e.store.SaveRecord(ctx, existing, expected); err != nil {
			return nil, err
		}

		e.logger.Info("idempotency key resumed", "key", key, "action", action, "attempts", existing.Attempts)
		return &Claim{Key: key, Outcome: OutcomeResumed, EntityID: existing.EntityID, record: existing}, nil
	})
}

// Bind attaches entityID to a pending claim before the entity is written,
// so a resumed attempt can find it.
func (e *EventLog) Bind(ctx context.Context, c *Claim, entityID string) error {
	rec := c.record.Clone()
	expected := rec.Version
	rec.EntityID = entityID
	if err := e.store.SaveRecord(ctx, rec, expected); err != nil {
		return fmt.Errorf("payledger: bind idempotency key: %w", err)
	}
	c.record = rec
	c.EntityID = entityID
	return nil
}

// Complete stores result for the claim. Later callers with the same key
// receive it as a duplicate.
func (e *EventLog) Complete(ctx context.Context, c *Claim, entityID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("payledger: encode idempotent result: %w", err)
	}

	now := e.now()
	rec := c.record.Clone()
	expected := rec.Version
	rec.State = eventlog.StateCompleted
	rec.EntityID = entityID
	rec.Result = data
	rec.CompletedAt = &now
	rec.LeaseExpiresAt = time.Time{}

	if err := e.store.SaveRecord(ctx, rec, expected); err != nil {
		return fmt.Errorf("payledger: complete idempotency key %q: %w", c.Key, err)
	}
	c.record = rec
	c.EntityID = entityID
	c.Result = data
	return nil
}

// Release drops the claim's lease so a retry can resume immediately. It
// runs even if ctx is canceled.
func (e *EventLog) Release(ctx context.Context, c *Claim) {
	if c == nil || c.Outcome == OutcomeDuplicate {
		return
	}
	ctx = context.WithoutCancel(ctx)

	rec := c.record.Clone()
	expected := rec.Version
	rec.LeaseExpiresAt = time.Time{}
	if err := e.store.SaveRecord(ctx, rec, expected); err != nil {
		e.logger.Warn("failed to release idempotency key", "key", c.Key, "error", err)
	}
}

// InFlight reports whether a caller still holds the lease on key. An
// unknown key is not in flight.
func (e *EventLog) InFlight(ctx context.Context, key string) (bool, error) {
	rec, err := e.store.GetRecord(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("payledger: load idempotency key: %w", err)
	}
	return rec.Leased(e.now()), nil
}

// Append journals one state change.
func (e *EventLog) Append(ctx context.Context, entry *eventlog.Entry) error {
	if entry.ID.IsNil() {
		entry.ID = id.NewEntryID()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = e.now()
	}
	return e.store.AppendEntry(ctx, entry)
}

// History lists the journal of an entity, oldest first.
func (e *EventLog) History(ctx context.Context, entityID string) ([]*eventlog.Entry, error) {
	return e.store.ListEntries(ctx, entityID, 0)
}

// journal appends an entry and logs a failure instead of returning it: the
// state change it describes has already been committed.
func (l *Ledger) journal(ctx context.Context, action, entityType, entityID, key string, detail map[string]string) {
	err := l.events.Append(context.WithoutCancel(ctx), &eventlog.Entry{
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID,
		IdempotencyKey: key,
		Detail:         detail,
	})
	if err != nil {
		l.logger.Error("failed to append journal entry",
			"action", action,
			"entity_id", entityID,
			"error", err,
		)
	}
}

// EventLog returns the ledger's idempotency log.
func (l *Ledger) EventLog() *EventLog { return l.events }

// History lists the journal of an entity, oldest first.
func (l *Ledger) History(ctx context.Context, entityID string) ([]*eventlog.Entry, error) {
	return l.events.History(ctx, entityID)
}

func (l *Ledger) now() time.Time {
	return types.Normalize(l.clock())
}
