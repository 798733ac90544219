// Package clinicclock converts wall-clock time into clinic-local calendar
// semantics. All "is this slot past" decisions made client-side go through
// it; the Reservation Authority re-enforces the same checks server-side.
package clinicclock

import (
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Clock evaluates slot times in a single fixed clinic timezone, never the
// device-local one. Pure, no I/O.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New creates a Clock for the named timezone (e.g. "Asia/Kolkata").
func New(tz string) (*Clock, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("clinicclock: load timezone %q: %w", tz, err)
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// WithNow overrides the time source. For tests.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	c.now = now
	return c
}

// Location returns the clinic timezone.
func (c *Clock) Location() *time.Location { return c.loc }

// Now returns the current clinic-local time.
func (c *Clock) Now() time.Time { return c.now().In(c.loc) }

// NowParts returns the current clinic-local date and time strings in the
// same layouts slots use.
func (c *Clock) NowParts() (date, clock string) {
	now := c.Now()
	return now.Format(dateLayout), now.Format(timeLayout)
}

// SlotStart parses a slot's date and start time into a clinic-local instant.
func (c *Clock) SlotStart(date, startTime string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+startTime, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("clinicclock: parse slot %q %q: %w", date, startTime, err)
	}
	return t, nil
}

// IsPast reports whether the slot's start has already elapsed in clinic-local
// time. Unparseable input counts as past; a broken slot is never bookable.
func (c *Clock) IsPast(date, startTime string) bool {
	start, err := c.SlotStart(date, startTime)
	if err != nil {
		return true
	}
	return !start.After(c.now().In(c.loc))
}

// Until returns the duration from now until the slot start. Negative when
// the slot has already begun.
func (c *Clock) Until(date, startTime string) (time.Duration, error) {
	start, err := c.SlotStart(date, startTime)
	if err != nil {
		return 0, err
	}
	return start.Sub(c.now().In(c.loc)), nil
}

// DateWindow returns daysAhead consecutive clinic-local date strings starting
// from today.
func (c *Clock) DateWindow(daysAhead int) []string {
	if daysAhead <= 0 {
		return nil
	}
	today := c.now().In(c.loc)
	dates := make([]string, 0, daysAhead)
	for i := 0; i < daysAhead; i++ {
		dates = append(dates, today.AddDate(0, 0, i).Format(dateLayout))
	}
	return dates
}
