// Package eventlog defines idempotency records and the append-only journal.
package eventlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/xraph/payledger/id"
)

// Fingerprint identifies the parameters an idempotency key was first used
// with. Reusing a key with a different fingerprint is a conflict.
type Fingerprint string

// NewFingerprint hashes action and its ordered parameters.
func NewFingerprint(action string, parts ...string) Fingerprint {
	h := sha256.New()
	h.Write([]byte(action))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// HashPayload fingerprints an opaque payload.
func HashPayload(action string, payload []byte) Fingerprint {
	sum := sha256.Sum256(payload)
	return NewFingerprint(action, hex.EncodeToString(sum[:]))
}

// State is the lifecycle state of a Record.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
)

// Record tracks one idempotency key.
type Record struct {
	Key            string          `json:"key"`
	Action         string          `json:"action"`
	Fingerprint    Fingerprint     `json:"fingerprint"`
	State          State           `json:"state"`
	EntityID       string          `json:"entity_id,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	LeaseExpiresAt time.Time       `json:"lease_expires_at"`
	Attempts       int             `json:"attempts"`
	FirstSeenAt    time.Time       `json:"first_seen_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Version        int64           `json:"version"`
}

// Leased reports whether a pending record is held by a live caller.
func (r *Record) Leased(now time.Time) bool {
	return r.State == StatePending && now.Before(r.LeaseExpiresAt)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Result != nil {
		cp.Result = append(json.RawMessage(nil), r.Result...)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Entry is one append-only journal line.
type Entry struct {
	ID             id.EntryID        `json:"id"`
	Action         string            `json:"action"`
	EntityType     string            `json:"entity_type"`
	EntityID       string            `json:"entity_id"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Detail         map[string]string `json:"detail,omitempty"`
	RecordedAt     time.Time         `json:"recorded_at"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.Detail != nil {
		cp.Detail = make(map[string]string, len(e.Detail))
		for k, v := range e.Detail {
			cp.Detail[k] = v
		}
	}
	return &cp
}
