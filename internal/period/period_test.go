package period

import (
	"testing"
	"time"
)

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestWeekIDDefaultSchedule(t *testing.T) {
	cases := []struct {
		at   string
		want string
	}{
		{"2026-10-12T00:00:00Z", "W2026-10-12"}, // Monday boundary
		{"2026-10-11T23:59:59Z", "W2026-10-05"}, // Sunday night
		{"2026-10-16T13:45:00Z", "W2026-10-12"},
		{"2026-10-18T23:59:59Z", "W2026-10-12"},
		{"2027-01-01T10:00:00Z", "W2026-12-28"}, // crosses a year
	}
	for _, tc := range cases {
		if got := Default.WeekID(utc(tc.at)); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.at, got, tc.want)
		}
	}
}

func TestWeekIDCustomHour(t *testing.T) {
	s := Schedule{Weekday: time.Thursday, Hour: 17}
	if got := s.WeekID(utc("2026-10-15T16:59:00Z")); got != "W2026-10-08" {
		t.Errorf("before boundary: got %s", got)
	}
	if got := s.WeekID(utc("2026-10-15T17:00:00Z")); got != "W2026-10-15" {
		t.Errorf("at boundary: got %s", got)
	}
}

func TestWeekIDNormalizesZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	local := time.Date(2026, 10, 12, 5, 0, 0, 0, tokyo) // Sunday 20:00 UTC
	if got := Default.WeekID(local); got != "W2026-10-05" {
		t.Errorf("got %s", got)
	}
}

func TestBoundsRoundTrip(t *testing.T) {
	s := Schedule{Weekday: time.Friday, Hour: 12}
	now := utc("2026-10-20T08:00:00Z")
	id := s.WeekID(now)
	start, end, err := s.Bounds(id)
	if err != nil {
		t.Fatal(err)
	}
	if now.Before(start) || !now.Before(end) {
		t.Errorf("%s not within [%s, %s)", now, start, end)
	}
	if !start.Equal(s.WeekStart(now)) {
		t.Errorf("start mismatch: %s vs %s", start, s.WeekStart(now))
	}
	if _, _, err := s.Bounds("W2026-10-19"); err == nil {
		t.Error("expected error for a Monday id on a Friday schedule")
	}
	if _, _, err := s.Bounds("D2026-10-16"); err == nil {
		t.Error("expected error for a day id")
	}
}

func TestEndedAndPrevious(t *testing.T) {
	now := utc("2026-10-16T09:00:00Z")
	cur := Default.WeekID(now)
	prev := Default.Previous(now)
	if prev != "W2026-10-05" {
		t.Errorf("previous: got %s", prev)
	}
	if ended, _ := Default.Ended(cur, now); ended {
		t.Error("current week reported ended")
	}
	if ended, _ := Default.Ended(prev, now); !ended {
		t.Error("previous week should be ended")
	}
	if r := Default.Remaining(now); r <= 0 || r > weekLength {
		t.Errorf("remaining out of range: %v", r)
	}
}

func TestScheduleValidate(t *testing.T) {
	if err := (Schedule{Weekday: time.Monday, Hour: 24}).Validate(); err == nil {
		t.Error("expected hour error")
	}
	if err := (Schedule{Weekday: 9}).Validate(); err == nil {
		t.Error("expected weekday error")
	}
	if err := Default.Validate(); err != nil {
		t.Error(err)
	}
}

func TestDayID(t *testing.T) {
	if got := DayID(utc("2026-10-16T23:59:59Z")); got != "D2026-10-16" {
		t.Errorf("got %s", got)
	}
}
