// Package types provides value types shared by payledger entities.
package types

import "time"

// Entity carries the creation and modification timestamps of a record.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current time.
func NewEntity() Entity {
	return NewEntityAt(time.Now())
}

// NewEntityAt returns an Entity stamped with t.
func NewEntityAt(t time.Time) Entity {
	t = Normalize(t)
	return Entity{
		CreatedAt: t,
		UpdatedAt: t,
	}
}

// TouchAt sets UpdatedAt to t.
func (e *Entity) TouchAt(t time.Time) {
	e.UpdatedAt = Normalize(t)
}

// Normalize converts t to UTC at millisecond precision, the finest
// resolution every store round-trips exactly.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}
