package checkin

import (
	"testing"
	"time"
)

func TestPoints(t *testing.T) {
	r := DefaultRules()
	tests := []struct {
		streak int64
		want   int64
	}{
		{1, 10},
		{2, 10},
		{3, 20},
		{6, 20},
		{7, 30},
		{14, 30},
		{15, 40},
		{29, 40},
		{30, 60},
		{365, 60},
	}
	for _, tt := range tests {
		if got := r.Points(tt.streak); got != tt.want {
			t.Errorf("Points(%d) = %d, want %d", tt.streak, got, tt.want)
		}
	}
}

func TestNewRulesSortsTiers(t *testing.T) {
	r := NewRules(5, []Tier{{MinStreak: 2, Bonus: 1}, {MinStreak: 10, Bonus: 100}})
	if got := r.Points(12); got != 105 {
		t.Errorf("Points(12) = %d, want 105", got)
	}
}

func TestCalendar(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	c := NewCalendar(loc)
	now := time.Date(2024, 3, 1, 0, 30, 0, 0, loc)

	if got := c.DayKey(now); got != "2024-3-1" {
		t.Errorf("DayKey() = %q, want 2024-3-1", got)
	}
	// 16:30 UTC on Feb 29 is already March 1 in UTC+8
	if got := c.DayKey(time.Date(2024, 2, 29, 16, 30, 0, 0, time.UTC)); got != "2024-3-1" {
		t.Errorf("DayKey() across zones = %q", got)
	}

	tests := []struct {
		name      string
		last      time.Time
		yesterday bool
		sameDay   bool
	}{
		{"leap day evening", time.Date(2024, 2, 29, 23, 59, 0, 0, loc), true, false},
		{"leap day start", time.Date(2024, 2, 29, 0, 0, 0, 0, loc), true, false},
		{"two days ago", time.Date(2024, 2, 28, 23, 59, 0, 0, loc), false, false},
		{"earlier today", time.Date(2024, 3, 1, 0, 0, 0, 0, loc), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsYesterday(tt.last, now); got != tt.yesterday {
				t.Errorf("IsYesterday() = %v, want %v", got, tt.yesterday)
			}
			if got := c.SameDay(tt.last, now); got != tt.sameDay {
				t.Errorf("SameDay() = %v, want %v", got, tt.sameDay)
			}
		})
	}
}

func TestParseDayKey(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	cal := NewCalendar(loc)

	got, err := cal.ParseDayKey("2024-2-29")
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 2, 29, 0, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("ParseDayKey = %v, want %v", got, want)
	}
	if cal.DayKey(got) != "2024-2-29" {
		t.Errorf("Round trip changed the key: %s", cal.DayKey(got))
	}

	for _, bad := range []string{"", "2024-02-30", "2023-2-29", "2024-06-01", "yesterday"} {
		if _, err := cal.ParseDayKey(bad); err == nil {
			t.Errorf("ParseDayKey(%q) accepted", bad)
		}
	}
}
