// Package marketclock answers session-time questions in the exchange's
// local timezone. Regular-session hours only; holidays are out of scope
// because a closed market simply produces no news-driven fills.
package marketclock

import (
	"fmt"
	"time"
)

// Clock converts wall time to market-session state.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New loads the market timezone. Failing to resolve the zone is fatal to the
// caller: every session rule downstream depends on it.
func New(timezone string) (*Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading market timezone %q: %w", timezone, err)
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// NewFixed returns a clock pinned to the given time function, for tests.
func NewFixed(timezone string, now func() time.Time) (*Clock, error) {
	c, err := New(timezone)
	if err != nil {
		return nil, err
	}
	c.now = now
	return c, nil
}

// Location exposes the market timezone for schedule construction.
func (c *Clock) Location() *time.Location { return c.loc }

// Now is the current time in the market timezone.
func (c *Clock) Now() time.Time { return c.now().In(c.loc) }

// IsOpen reports whether the regular session (09:30-16:00, weekdays) is
// active.
func (c *Clock) IsOpen() bool {
	t := c.Now()
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// InOpeningAuction reports whether the time falls in the 09:30-09:45 window
// where spreads are too wide to chase headlines.
func (c *Clock) InOpeningAuction() bool {
	t := c.Now()
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 9*60+45
}
