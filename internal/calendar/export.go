// Package calendar exports alarms as an iCalendar feed: one weekly recurring
// VEVENT with a display VALARM per enabled alarm.
package calendar

import (
	"errors"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/dokzlo13/pilld/internal/alarm"
	"github.com/dokzlo13/pilld/internal/content"
)

const (
	ProductID = "-//pilld//medication alarms//EN"

	eventDuration  = 5 * time.Minute
	floatingLayout = "20060102T150405"
)

// ErrNoEvents is returned by Write when no alarm produces an event; an
// iCalendar object must contain at least one component.
var ErrNoEvents = errors.New("no enabled alarms to export")

// Alarm repeat days (1=Monday ... 7=Sunday) to RRULE weekdays.
var dayWeekdays = [8]rrule.Weekday{
	1: rrule.MO,
	2: rrule.TU,
	3: rrule.WE,
	4: rrule.TH,
	5: rrule.FR,
	6: rrule.SA,
	7: rrule.SU,
}

// Exporter builds calendars from alarm records.
type Exporter struct {
	format content.Formatter
	now    func() time.Time
}

// NewExporter creates an exporter. A nil formatter uses the default text.
func NewExporter(f content.Formatter) *Exporter {
	if f == nil {
		f = content.DefaultFormatter{}
	}
	return &Exporter{format: f, now: time.Now}
}

// Build returns a calendar of the enabled alarms. Alarms without repeat days
// or with a time that does not parse are left out. Times are floating, so
// each alarm rings at its wall-clock time wherever the calendar is viewed.
func (e *Exporter) Build(records []alarm.Record) *ical.Calendar {
	now := e.now()

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, r := range records {
		if ev := e.event(r, now); ev != nil {
			cal.Children = append(cal.Children, ev.Component)
		}
	}
	return cal
}

// Write encodes the calendar of the enabled alarms to w.
func (e *Exporter) Write(w io.Writer, records []alarm.Record) error {
	cal := e.Build(records)
	if len(cal.Children) == 0 {
		return ErrNoEvents
	}
	return ical.NewEncoder(w).Encode(cal)
}

func (e *Exporter) event(r alarm.Record, now time.Time) *ical.Event {
	if !r.Enabled {
		return nil
	}
	hour, minute, err := alarm.ParseTime(r.Time)
	if err != nil {
		return nil
	}
	days := alarm.NormalizeDays(r.RepeatDays)
	if len(days) == 0 {
		return nil
	}

	weekdays := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		weekdays = append(weekdays, dayWeekdays[d])
	}

	start := firstOccurrence(now, days, hour, minute)
	msg := e.format.Alarm(r)

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, r.ID+"@pilld")
	ev.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ev.Props.Set(floatingProp(ical.PropDateTimeStart, start))
	ev.Props.Set(floatingProp(ical.PropDateTimeEnd, start.Add(eventDuration)))
	ev.Props.SetText(ical.PropSummary, msg.Title)
	ev.Props.SetText(ical.PropDescription, msg.Body)
	ev.Props.SetText(ical.PropCategories, "MEDICATION")
	ev.Props.SetRecurrenceRule(&rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: weekdays,
	})

	reminder := ical.NewComponent(ical.CompAlarm)
	reminder.Props.SetText(ical.PropAction, "DISPLAY")
	reminder.Props.SetText(ical.PropDescription, msg.Title)
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.SetValueType(ical.ValueDuration)
	trigger.Value = "PT0S"
	reminder.Props.Set(trigger)
	ev.Children = append(ev.Children, reminder)

	return ev
}

// firstOccurrence returns the first matching weekday at hour:minute on or
// after the day of now.
func firstOccurrence(now time.Time, days []int, hour, minute int) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		candidate := today.AddDate(0, 0, i)
		if containsDay(days, weekdayToDay(candidate.Weekday())) {
			return candidate
		}
	}
	return today
}

func weekdayToDay(w time.Weekday) int {
	if w == time.Sunday {
		return 7
	}
	return int(w)
}

func containsDay(days []int, d int) bool {
	for _, day := range days {
		if day == d {
			return true
		}
	}
	return false
}

// floatingProp formats a date-time without zone, which iCalendar reads as
// local wall-clock time.
func floatingProp(name string, t time.Time) *ical.Prop {
	p := ical.NewProp(name)
	p.SetValueType(ical.ValueDateTime)
	p.Value = t.Format(floatingLayout)
	return p
}
