package checkin

import (
	"fmt"
	"time"
)

// Calendar maps instants onto check-in days in one location
type Calendar struct {
	loc *time.Location
}

// NewCalendar creates a calendar; nil means server-local time
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.Local
	}
	return Calendar{loc: loc}
}

// DayKey renders t as YYYY-M-D without zero padding
func (c Calendar) DayKey(t time.Time) string {
	y, m, d := t.In(c.loc).Date()
	return fmt.Sprintf("%d-%d-%d", y, int(m), d)
}

// dayStart returns midnight of the day containing t, shifted by offset days
func (c Calendar) dayStart(t time.Time, offset int) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d+offset, 0, 0, 0, 0, c.loc)
}

// SameDay reports whether last falls on the calendar day of now
func (c Calendar) SameDay(last, now time.Time) bool {
	return !last.Before(c.dayStart(now, 0)) && last.Before(c.dayStart(now, 1))
}

// IsYesterday reports whether last falls exactly on the calendar day before now
func (c Calendar) IsYesterday(last, now time.Time) bool {
	return !last.Before(c.dayStart(now, -1)) && last.Before(c.dayStart(now, 0))
}

// ParseDayKey returns midnight of the day a key names
func (c Calendar) ParseDayKey(key string) (time.Time, error) {
	var y, m, d int
	if _, err := fmt.Sscanf(key, "%d-%d-%d", &y, &m, &d); err != nil {
		return time.Time{}, fmt.Errorf("day key %q: %w", key, err)
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, c.loc)
	if c.DayKey(t) != key {
		return time.Time{}, fmt.Errorf("day key %q: not a calendar day", key)
	}
	return t, nil
}
