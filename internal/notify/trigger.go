package notify

import (
	"time"

	"github.com/teambition/rrule-go"
)

// Center weekday encoding (1=Sunday) to RRULE weekdays.
var rruleWeekdays = [8]rrule.Weekday{
	1: rrule.SU,
	2: rrule.MO,
	3: rrule.TU,
	4: rrule.WE,
	5: rrule.TH,
	6: rrule.FR,
	7: rrule.SA,
}

// RRuleOption returns the weekly recurrence of a calendar trigger, starting
// at dtstart. Repeats is not encoded; callers stop after the first occurrence.
func (t Trigger) RRuleOption(dtstart time.Time) rrule.ROption {
	opt := rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   dtstart,
		Byweekday: []rrule.Weekday{rruleWeekdays[t.Weekday]},
		Byhour:    []int{t.Hour},
		Byminute:  []int{t.Minute},
		Bysecond:  []int{0},
	}
	return opt
}

// Next returns the first fire time strictly after the given time. Non-repeating
// triggers always report their single fire time, which may be in the past when
// it was missed.
func (t Trigger) Next(after time.Time, loc *time.Location) (time.Time, bool) {
	switch t.Kind {
	case TriggerCalendar:
		return t.nextCalendar(after, loc)
	case TriggerInterval:
		return t.nextInterval(after)
	}
	return time.Time{}, false
}

func (t Trigger) nextCalendar(after time.Time, loc *time.Location) (time.Time, bool) {
	from := after
	if !t.Repeats || t.Anchor.After(from) {
		// Nothing before registration fires
		from = t.Anchor
	}

	r, err := t.rule(from, loc)
	if err != nil {
		return time.Time{}, false
	}

	next := r.After(from, false)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// rule builds the weekly rule of a calendar trigger, starting a week before
// from so the rule always has an occurrence before it.
func (t Trigger) rule(from time.Time, loc *time.Location) (*rrule.RRule, error) {
	if t.Weekday < 1 || t.Weekday > 7 {
		return nil, ErrInvalidTrigger
	}
	local := from.In(loc)
	dtstart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -7)
	return rrule.NewRRule(t.RRuleOption(dtstart))
}

// Latest returns the last fire time in (since, until]. Older occurrences in
// the window are skipped, so a repeating trigger catches up with a single
// delivery.
func (t Trigger) Latest(since, until time.Time, loc *time.Location) (time.Time, bool) {
	first, ok := t.Next(since, loc)
	if !ok || first.After(until) {
		return time.Time{}, false
	}
	if !t.Repeats {
		return first, true
	}

	last := first
	switch t.Kind {
	case TriggerCalendar:
		if r, err := t.rule(first, loc); err == nil {
			if before := r.Before(until, true); before.After(last) {
				last = before
			}
		}
	case TriggerInterval:
		interval := time.Duration(t.Seconds) * time.Second
		ticks := until.Sub(t.Anchor) / interval
		if at := t.Anchor.Add(ticks * interval); at.After(last) {
			last = at
		}
	}
	return last, true
}

func (t Trigger) nextInterval(after time.Time) (time.Time, bool) {
	if t.Seconds <= 0 {
		return time.Time{}, false
	}
	interval := time.Duration(t.Seconds) * time.Second
	first := t.Anchor.Add(interval)
	if !t.Repeats || after.Before(first) {
		return first, true
	}
	ticks := after.Sub(t.Anchor) / interval
	return t.Anchor.Add((ticks + 1) * interval), true
}
