// Package schedule computes the obligation periods of a recurring project.
//
// A period ends at the last instant of a calendar day in the owner's local
// civil calendar. Periods are contiguous: the next one starts at the
// beginning of the day after the previous one ended.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"submit/internal/domain"
)

// ErrInvalidRule is returned for rules that cannot advance the schedule.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Rule is the recurrence configuration of a project.
type Rule struct {
	Frequency   string
	JudgmentDay int
	CustomDays  int
}

// RuleOf extracts the recurrence rule of a project.
func RuleOf(p domain.Project) Rule {
	r := Rule{Frequency: p.Frequency, JudgmentDay: p.JudgmentDay}
	if p.CustomDays != nil {
		r.CustomDays = *p.CustomDays
	}
	return r
}

// Validate rejects rules that would stall the schedule.
func (r Rule) Validate() error {
	switch r.Frequency {
	case domain.FrequencyDaily:
		return nil
	case domain.FrequencyWeekly, domain.FrequencyBiweekly, domain.FrequencyMonthly:
		if r.JudgmentDay < 0 || r.JudgmentDay > 6 {
			return fmt.Errorf("%w: judgment_day must be between 0 and 6, got %d", ErrInvalidRule, r.JudgmentDay)
		}
		return nil
	case domain.FrequencyCustom:
		if r.CustomDays <= 0 {
			return fmt.Errorf("%w: custom_days must be positive for custom frequency", ErrInvalidRule)
		}
		return nil
	case "":
		return fmt.Errorf("%w: frequency is required", ErrInvalidRule)
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}
}

// Next returns the end of the obligation period that follows ref.
// The result always lies strictly after ref.
func Next(r Rule, ref time.Time, loc *time.Location) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	base := ref.In(loc)
	y, m, d := base.Date()
	switch r.Frequency {
	case domain.FrequencyDaily:
		d++
	case domain.FrequencyWeekly:
		d += daysUntil(base.Weekday(), r.JudgmentDay)
	case domain.FrequencyBiweekly:
		d += daysUntil(base.Weekday(), r.JudgmentDay) + 7
	case domain.FrequencyMonthly:
		first := time.Date(y, m+1, 1, 12, 0, 0, 0, loc)
		y, m, d = first.Date()
		d += (r.JudgmentDay - int(first.Weekday()) + 7) % 7
	case domain.FrequencyCustom:
		d += r.CustomDays
	}
	return endOfDate(y, m, d, loc), nil
}

// Initial returns the first period end for a project created at createdAt.
func Initial(r Rule, createdAt time.Time, loc *time.Location) (time.Time, error) {
	return Next(r, createdAt, loc)
}

// PeriodStart returns the start of the period that ends after lastEnd.
// With no previous judgment the period starts on the creation day. A
// following period always starts right after lastEnd, even when loc has
// changed since, so consecutive periods never overlap.
func PeriodStart(lastEnd *time.Time, createdAt time.Time, loc *time.Location) time.Time {
	if lastEnd == nil {
		return StartOfDay(createdAt, loc)
	}
	return lastEnd.Add(time.Millisecond).In(loc)
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// EndOfDay returns the last millisecond of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return endOfDate(y, m, d, loc)
}

// DayBounds returns the inclusive bounds of t's calendar day in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	return StartOfDay(t, loc), EndOfDay(t, loc)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func endOfDate(y int, m time.Month, d int, loc *time.Location) time.Time {
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc)
}

// daysUntil is the distance to the next occurrence of target, never zero.
func daysUntil(from time.Weekday, target int) int {
	n := (target - int(from) + 7) % 7
	if n == 0 {
		return 7
	}
	return n
}
