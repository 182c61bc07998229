package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntervalSchedule runs a job at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// CronSchedule is a parsed five-field cron expression:
// minute hour day-of-month month day-of-week.
//
//   - "*/15 * * * *" every 15 minutes
//   - "0 2 * * *"    every day at 02:00
//   - "0 0 * * 1-5"  weekdays at midnight
type CronSchedule struct {
	raw      string
	location *time.Location
	fields   [5]bitset
}

// bitset marks allowed values of one cron field (all fit below 64).
type bitset uint64

func (b bitset) has(v int) bool { return b&(1<<uint(v)) != 0 }

var cronFields = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCron parses a cron expression evaluated in loc (UTC when nil).
// Supports *, */n, n, n-m, n-m/s and comma-separated lists of those.
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(parts))
	}

	cs := &CronSchedule{raw: expr, location: loc}
	for i, f := range cronFields {
		set, err := parseCronField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %q: %w", f.name, parts[i], err)
		}
		cs.fields[i] = set
	}
	return cs, nil
}

// ParseSchedule accepts "@every <duration>" or a cron expression.
func ParseSchedule(spec string, loc *time.Location) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", rest, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid interval %q: must be positive", rest)
		}
		return NewIntervalSchedule(d), nil
	}
	return ParseCron(spec, loc)
}

func parseCronField(field string, min, max int) (bitset, error) {
	var set bitset
	for _, term := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1

		rangePart := term
		if base, s, ok := strings.Cut(term, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step %q", s)
			}
			step, rangePart = n, base
		}

		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid range start %q", a)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("invalid range end %q", b)
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", rangePart)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}

		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("value out of range [%d-%d]", min, max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func (cs *CronSchedule) String() string {
	return cs.raw
}

// Next returns the first matching minute strictly after t, in t's location.
// The zero time is returned when nothing matches within a year.
func (cs *CronSchedule) Next(t time.Time) time.Time {
	next := t.In(cs.location).Truncate(time.Minute).Add(time.Minute)

	const maxIterations = 366 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		if cs.matches(next) {
			return next.In(t.Location())
		}
		next = next.Add(time.Minute)
	}
	return time.Time{}
}

func (cs *CronSchedule) matches(t time.Time) bool {
	return cs.fields[0].has(t.Minute()) &&
		cs.fields[1].has(t.Hour()) &&
		cs.fields[2].has(t.Day()) &&
		cs.fields[3].has(int(t.Month())) &&
		cs.fields[4].has(int(t.Weekday()))
}
