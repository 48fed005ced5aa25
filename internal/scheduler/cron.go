package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldSet is a bitmask of allowed values for one cron field.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

// CronExpr is a parsed 5-field expression: minute, hour, day-of-month, month, day-of-week.
type CronExpr struct {
	minutes fieldSet
	hours   fieldSet
	doms    fieldSet
	months  fieldSet
	dows    fieldSet

	// Standard cron: when both day fields are restricted, either may match.
	domStar bool
	dowStar bool
}

type fieldSpec struct {
	name     string
	min, max int
}

var cronFields = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// ParseCron parses a standard 5-field cron expression. Each field accepts
// *, n, n-m, with an optional /step, comma-separated. Day-of-week 7 is Sunday.
func ParseCron(expr string) (*CronExpr, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var sets [5]fieldSet
	for i, spec := range cronFields {
		set, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("%s field: %w", spec.name, err)
		}
		sets[i] = set
	}
	if sets[4].has(7) {
		sets[4] |= 1
	}

	return &CronExpr{
		minutes: sets[0],
		hours:   sets[1],
		doms:    sets[2],
		months:  sets[3],
		dows:    sets[4],
		domStar: strings.HasPrefix(fields[2], "*"),
		dowStar: strings.HasPrefix(fields[4], "*"),
	}, nil
}

// Matches reports whether t falls on a scheduled minute.
func (c *CronExpr) Matches(t time.Time) bool {
	return c.minutes.has(t.Minute()) &&
		c.hours.has(t.Hour()) &&
		c.months.has(int(t.Month())) &&
		c.dayMatches(t)
}

func (c *CronExpr) dayMatches(t time.Time) bool {
	dom := c.doms.has(t.Day())
	dow := c.dows.has(int(t.Weekday()))
	if c.domStar || c.dowStar {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first scheduled minute strictly after after. ok is false
// if nothing matches within five years (e.g. "0 0 30 2 *").
func (c *CronExpr) Next(after time.Time) (next time.Time, ok bool) {
	loc := after.Location()
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for t.Before(limit) {
		y, mo, d := t.Date()
		switch {
		case !c.months.has(int(mo)):
			t = time.Date(y, mo+1, 1, 0, 0, 0, 0, loc)
		case !c.dayMatches(t):
			t = time.Date(y, mo, d+1, 0, 0, 0, 0, loc)
		case !c.hours.has(t.Hour()):
			t = time.Date(y, mo, d, t.Hour()+1, 0, 0, 0, loc)
		case !c.minutes.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t, true
		}
	}
	return time.Time{}, false
}

func parseField(field string, min, max int) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		s, err := parsePart(part, min, max)
		if err != nil {
			return 0, err
		}
		set |= s
	}
	return set, nil
}

func parsePart(part string, min, max int) (fieldSet, error) {
	rng, stepStr, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step: %s", part)
		}
		step = n
	}

	lo, hi := min, max
	switch {
	case rng == "*":
	case strings.Contains(rng, "-"):
		a, b, _ := strings.Cut(rng, "-")
		var err error
		if lo, err = strconv.Atoi(a); err != nil {
			return 0, fmt.Errorf("invalid range start: %s", a)
		}
		if hi, err = strconv.Atoi(b); err != nil {
			return 0, fmt.Errorf("invalid range end: %s", b)
		}
	default:
		v, err := strconv.Atoi(rng)
		if err != nil {
			return 0, fmt.Errorf("invalid value: %s", rng)
		}
		lo = v
		if hasStep {
			hi = max
		} else {
			hi = v
		}
	}

	if lo < min || hi > max || lo > hi {
		return 0, fmt.Errorf("range %d-%d outside %d-%d", lo, hi, min, max)
	}
	var set fieldSet
	for v := lo; v <= hi; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}
