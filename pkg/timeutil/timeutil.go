// Package timeutil provides calendar-day helpers bound to a configurable
// location. Daily study metrics count days by local midnight, so every
// helper takes the location explicitly instead of assuming UTC.
package timeutil

import (
	"time"
)

// DefaultLocation is used when configuration does not name a timezone.
// Bogota has no DST, so local days are always 24h long.
var DefaultLocation = time.FixedZone("America/Bogota", -5*60*60)

// LoadLocation resolves name, falling back to DefaultLocation.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return DefaultLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return DefaultLocation
	}
	return loc
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// Fixed returns a clock that always reports t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DayRange returns [start, end) of the local day containing t.
func DayRange(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := StartOfDay(t, loc)
	return start, start.AddDate(0, 0, 1)
}

// SameDay reports whether t1 and t2 fall on the same local calendar day.
func SameDay(t1, t2 time.Time, loc *time.Location) bool {
	a, b := t1.In(loc), t2.In(loc)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// DateKey formats the local calendar day of t as YYYY-MM-DD.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// WholeDaysSince returns the number of complete 24h periods between then and
// now. Timestamps in the future count as 0.
func WholeDaysSince(then, now time.Time) int {
	if !now.After(then) {
		return 0
	}
	return int(now.Sub(then) / (24 * time.Hour))
}
