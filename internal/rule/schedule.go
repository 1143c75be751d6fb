package rule

import (
	"fmt"
	"time"
)

// RepeatMode controls how a schedule recurs.
type RepeatMode string

const (
	RepeatOnce    RepeatMode = "once"
	RepeatDaily   RepeatMode = "daily"
	RepeatWeekly  RepeatMode = "weekly"
	RepeatMonthly RepeatMode = "monthly"
)

// Schedule describes when a scheduled trigger fires. Time is the first fire
// instant; for repeating modes its clock time (and, for monthly, its day of
// month) anchors every later occurrence. Days restricts weekly schedules to
// specific weekdays; an empty set fires every day.
type Schedule struct {
	Time   time.Time
	Repeat RepeatMode
	Days   []time.Weekday
}

func (s Schedule) validate() error {
	if s.Time.IsZero() {
		return fmt.Errorf("%w: schedule requires a time", ErrInvalidRule)
	}
	switch s.Repeat {
	case RepeatOnce, RepeatDaily, RepeatWeekly, RepeatMonthly:
	default:
		return fmt.Errorf("%w: unknown repeat mode %q", ErrInvalidRule, s.Repeat)
	}
	for _, d := range s.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: schedule day %d out of range", ErrInvalidRule, d)
		}
	}
	return nil
}

// FirstFire returns the first instant the schedule fires at or after now.
// For once schedules the configured time is returned even if it has already
// passed, so a rule created late still fires exactly one time.
func (s Schedule) FirstFire(now time.Time) time.Time {
	if s.Repeat == RepeatOnce {
		return s.Time
	}
	if s.Time.After(now) && s.dayAllowed(s.Time.Weekday()) {
		return s.Time
	}
	return s.NextAfter(now)
}

// NextAfter returns the next fire instant strictly after t. Any occurrences
// between the previous fire and t are skipped, never replayed. The zero time
// means the schedule never fires again.
func (s Schedule) NextAfter(t time.Time) time.Time {
	clockH, clockM, clockS := s.Time.Clock()

	switch s.Repeat {
	case RepeatOnce:
		return time.Time{}

	case RepeatDaily:
		next := time.Date(t.Year(), t.Month(), t.Day(), clockH, clockM, clockS, 0, t.Location())
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case RepeatWeekly:
		next := time.Date(t.Year(), t.Month(), t.Day(), clockH, clockM, clockS, 0, t.Location())
		for i := 0; i < 8; i++ {
			if next.After(t) && s.dayAllowed(next.Weekday()) {
				return next
			}
			next = next.AddDate(0, 0, 1)
		}
		return time.Time{}

	case RepeatMonthly:
		dom := s.Time.Day()
		year, month, _ := t.Date()
		for i := 0; i < 24; i++ {
			next := time.Date(year, month, dom, clockH, clockM, clockS, 0, t.Location())
			// time.Date normalizes an overflowing day of month into the next
			// month; such months do not contain the anchor day and are skipped.
			if next.Day() == dom && next.After(t) {
				return next
			}
			month++
			if month > time.December {
				month = time.January
				year++
			}
		}
		return time.Time{}
	}
	return time.Time{}
}

// dayAllowed reports whether the weekday passes the Days restriction. Only
// weekly schedules carry one; an empty set allows every day.
func (s Schedule) dayAllowed(d time.Weekday) bool {
	if s.Repeat != RepeatWeekly || len(s.Days) == 0 {
		return true
	}
	for _, allowed := range s.Days {
		if allowed == d {
			return true
		}
	}
	return false
}
