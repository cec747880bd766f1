// Package plan describes the billing plans offered by an external catalog.
package plan

import (
	"fmt"
	"time"

	"github.com/xraph/payledger/types"
)

// Unit is the calendar unit of a billing interval.
type Unit string

const (
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
	UnitYear  Unit = "year"
)

// Interval is the length of one billing period, e.g. {month, 1} or {day, 30}.
type Interval struct {
	Unit  Unit `json:"unit" yaml:"unit"`
	Count int  `json:"count" yaml:"count"`
}

// Days returns an interval of n days.
func Days(n int) Interval { return Interval{Unit: UnitDay, Count: n} }

// Months returns an interval of n calendar months.
func Months(n int) Interval { return Interval{Unit: UnitMonth, Count: n} }

// Advance returns t moved forward by one interval.
func (i Interval) Advance(t time.Time) time.Time {
	switch i.Unit {
	case UnitDay:
		return t.AddDate(0, 0, i.Count)
	case UnitWeek:
		return t.AddDate(0, 0, 7*i.Count)
	case UnitMonth:
		return t.AddDate(0, i.Count, 0)
	case UnitYear:
		return t.AddDate(i.Count, 0, 0)
	}
	return t
}

// Validate reports whether the interval can be used for billing.
func (i Interval) Validate() error {
	switch i.Unit {
	case UnitDay, UnitWeek, UnitMonth, UnitYear:
	default:
		return fmt.Errorf("plan: unknown interval unit %q", i.Unit)
	}
	if i.Count <= 0 {
		return fmt.Errorf("plan: interval count must be positive, got %d", i.Count)
	}
	return nil
}

func (i Interval) String() string {
	return fmt.Sprintf("%d %s", i.Count, i.Unit)
}

// Plan is the interval and price a subscription is billed at.
type Plan struct {
	ID       string      `json:"id" yaml:"id"`
	Name     string      `json:"name" yaml:"name"`
	Interval Interval    `json:"interval" yaml:"interval"`
	Price    types.Money `json:"price" yaml:"price"`
}

// Validate checks the plan is billable.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan: missing id")
	}
	if err := p.Interval.Validate(); err != nil {
		return fmt.Errorf("plan %s: %w", p.ID, err)
	}
	if p.Price.Amount < 0 {
		return fmt.Errorf("plan %s: negative price", p.ID)
	}
	if len(p.Price.Currency) != 3 {
		return fmt.Errorf("plan %s: invalid currency %q", p.ID, p.Price.Currency)
	}
	return nil
}
