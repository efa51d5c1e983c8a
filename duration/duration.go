// Package duration turns the free-text engagement length a freelancer types on
// a proposal into a contract end date and a milestone schedule hint.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Unit string

const (
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
)

// ScheduleHint sizes the generated milestone schedule.
type ScheduleHint string

const (
	HintSingle  ScheduleHint = "single"
	HintWeekly  ScheduleHint = "weekly"
	HintMonthly ScheduleHint = "monthly"
)

// Duration is the structured form of an engagement length.
type Duration struct {
	Unit  Unit
	Count int
}

func (d Duration) String() string {
	if d.Count == 1 {
		return fmt.Sprintf("1 %s", d.Unit)
	}
	return fmt.Sprintf("%d %ss", d.Count, d.Unit)
}

// EndDate adds d to start. A non-positive count yields start plus one month.
func (d Duration) EndDate(start time.Time) time.Time {
	if d.Count <= 0 {
		return AddMonths(start, 1)
	}
	switch d.Unit {
	case UnitDay:
		return start.AddDate(0, 0, d.Count)
	case UnitWeek:
		return start.AddDate(0, 0, 7*d.Count)
	case UnitMonth:
		return AddMonths(start, d.Count)
	}
	return AddMonths(start, 1)
}

func (d Duration) Hint() ScheduleHint {
	switch d.Unit {
	case UnitWeek:
		return HintWeekly
	case UnitMonth:
		return HintMonthly
	}
	return HintSingle
}

var structured = regexp.MustCompile(`^(\d+)\s*(day|week|month)s?$`)

// ParseStructured accepts only the constrained "<n> <unit>[s]" form, e.g.
// "3 weeks" or "1month".
func ParseStructured(text string) (Duration, bool) {
	m := structured.FindStringSubmatch(strings.ToLower(strings.TrimSpace(text)))
	if m == nil {
		return Duration{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Duration{}, false
	}
	return Duration{Unit: Unit(m[2]), Count: n}, true
}

// EndDate derives a contract end date from free text. Units are checked in
// the order week, month, day; the count is every digit in the text
// concatenated. Anything unparseable falls back to one month after start.
func EndDate(text string, start time.Time) time.Time {
	s := normalize(text)
	if s == "" {
		return AddMonths(start, 1)
	}
	n := digits(s)

	switch {
	case strings.Contains(s, "week"):
		if n > 0 {
			return start.AddDate(0, 0, 7*n)
		}
	case strings.Contains(s, "month"):
		if n > 0 {
			return AddMonths(start, n)
		}
	case s == "1 day" || s == "1day":
		return start.AddDate(0, 0, 1)
	case strings.Contains(s, "day"):
		if n > 0 {
			return start.AddDate(0, 0, n)
		}
	}
	return AddMonths(start, 1)
}

// Hint classifies free text for schedule sizing. Empty text is single.
func Hint(text string) ScheduleHint {
	s := normalize(text)
	switch {
	case s == "":
		return HintSingle
	case strings.Contains(s, "week"):
		return HintWeekly
	case strings.Contains(s, "month"):
		return HintMonthly
	}
	return HintSingle
}

// AddMonths adds n calendar months, clamping the day to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func digits(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return n
}
