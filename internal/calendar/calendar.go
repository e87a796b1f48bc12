// Package calendar provides timezone-aware session windows, holiday
// awareness, and daily reset scheduling math.
package calendar

import (
	"time"
)

// HolidaySource reports whether a given calendar day is a trading day. The
// day is interpreted in its own location.
type HolidaySource interface {
	IsTradingDay(day time.Time) bool
}

// Static is a HolidaySource backed by a fixed holiday list. Weekends are
// always non-trading days.
type Static struct {
	holidays map[string]struct{} // "2006-01-02"
}

// NewStatic creates a Static source from a list of YYYY-MM-DD holiday dates.
func NewStatic(holidays []string) *Static {
	m := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		m[h] = struct{}{}
	}
	return &Static{holidays: m}
}

// IsTradingDay reports whether day is a weekday not listed as a holiday.
func (s *Static) IsTradingDay(day time.Time) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := s.holidays[day.Format("2006-01-02")]
	return !holiday
}

// Calendar combines a holiday source with reset and session-window math.
type Calendar struct {
	src HolidaySource
}

// New creates a Calendar over the given holiday source.
func New(src HolidaySource) *Calendar {
	return &Calendar{src: src}
}

// IsTradingDay reports whether the date of t (in t's location) is a trading
// day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	return c.src.IsTradingDay(t)
}

// NextDailyReset returns the next occurrence of hh:mm in loc strictly after
// the given instant, skipping non-trading days.
func (c *Calendar) NextDailyReset(after time.Time, loc *time.Location, hour, min int) time.Time {
	t := after.In(loc)
	cand := time.Date(t.Year(), t.Month(), t.Day(), hour, min, 0, 0, loc)
	if !cand.After(after) {
		cand = cand.AddDate(0, 0, 1)
	}
	for !c.src.IsTradingDay(cand) {
		cand = cand.AddDate(0, 0, 1)
	}
	return cand
}

// PrevDailyReset returns the most recent occurrence of hh:mm in loc at or
// before the given instant, skipping non-trading days. Used at startup to
// detect a reset missed while the process was down.
func (c *Calendar) PrevDailyReset(before time.Time, loc *time.Location, hour, min int) time.Time {
	t := before.In(loc)
	cand := time.Date(t.Year(), t.Month(), t.Day(), hour, min, 0, 0, loc)
	if cand.After(before) {
		cand = cand.AddDate(0, 0, -1)
	}
	for !c.src.IsTradingDay(cand) {
		cand = cand.AddDate(0, 0, -1)
	}
	return cand
}

// InSession reports whether now falls inside the [open, close) window in
// loc on a trading day. Windows where close <= open span midnight (futures
// sessions); such a window belongs to the trading day it opens on.
func (c *Calendar) InSession(now time.Time, loc *time.Location, openH, openM, closeH, closeM int) bool {
	t := now.In(loc)
	open := time.Date(t.Year(), t.Month(), t.Day(), openH, openM, 0, 0, loc)
	close := time.Date(t.Year(), t.Month(), t.Day(), closeH, closeM, 0, 0, loc)

	if close.After(open) {
		// Same-day window.
		if t.Before(open) || !t.Before(close) {
			return false
		}
		return c.src.IsTradingDay(open)
	}

	// Overnight window: session either opened today (t >= open) or opened
	// yesterday (t < close).
	if !t.Before(open) {
		return c.src.IsTradingDay(open)
	}
	if t.Before(close) {
		return c.src.IsTradingDay(open.AddDate(0, 0, -1))
	}
	return false
}
