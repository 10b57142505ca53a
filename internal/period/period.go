// Package period maps instants to scoring periods. A tournament period is a
// week starting at a fixed UTC weekday and hour; practice attempts are
// counted per UTC day.
package period

import (
	"fmt"
	"strings"
	"time"
)

const (
	weekPrefix = "W"
	dayPrefix  = "D"
	dateLayout = "2006-01-02"
	weekLength = 7 * 24 * time.Hour
)

// Schedule defines where weeks begin.
type Schedule struct {
	Weekday time.Weekday
	Hour    int
}

// Default starts weeks on Monday 00:00 UTC.
var Default = Schedule{Weekday: time.Monday, Hour: 0}

// Validate checks the schedule fields.
func (s Schedule) Validate() error {
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return fmt.Errorf("period: invalid weekday %d", s.Weekday)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("period: invalid hour %d", s.Hour)
	}
	return nil
}

// WeekStart returns the start of the week containing t.
func (s Schedule) WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, 0, 0, 0, time.UTC)
	back := (int(day.Weekday()) - int(s.Weekday) + 7) % 7
	start := day.AddDate(0, 0, -back)
	if start.After(t) {
		start = start.AddDate(0, 0, -7)
	}
	return start
}

// WeekEnd returns the exclusive end of the week containing t.
func (s Schedule) WeekEnd(t time.Time) time.Time {
	return s.WeekStart(t).Add(weekLength)
}

// WeekID returns the tournament period id for t, e.g. "W2026-10-12".
func (s Schedule) WeekID(t time.Time) string {
	return weekPrefix + s.WeekStart(t).Format(dateLayout)
}

// Previous returns the id of the week before the one containing t.
func (s Schedule) Previous(t time.Time) string {
	return s.WeekID(s.WeekStart(t).Add(-time.Hour))
}

// Remaining is the time left in the week containing t.
func (s Schedule) Remaining(t time.Time) time.Duration {
	return s.WeekEnd(t).Sub(t)
}

// Bounds returns the [start, end) window of a week id.
func (s Schedule) Bounds(id string) (time.Time, time.Time, error) {
	if !strings.HasPrefix(id, weekPrefix) {
		return time.Time{}, time.Time{}, fmt.Errorf("period: %q is not a week id", id)
	}
	d, err := time.Parse(dateLayout, strings.TrimPrefix(id, weekPrefix))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("period: parse %q: %w", id, err)
	}
	start := d.Add(time.Duration(s.Hour) * time.Hour)
	if start.Weekday() != s.Weekday {
		return time.Time{}, time.Time{}, fmt.Errorf("period: %q does not start on %s", id, s.Weekday)
	}
	return start, start.Add(weekLength), nil
}

// Ended reports whether the week id is entirely in the past at now.
func (s Schedule) Ended(id string, now time.Time) (bool, error) {
	_, end, err := s.Bounds(id)
	if err != nil {
		return false, err
	}
	return !now.Before(end), nil
}

// DayID returns the UTC day id used for daily attempt limits, e.g. "D2026-10-16".
func DayID(t time.Time) string {
	return dayPrefix + t.UTC().Format(dateLayout)
}
