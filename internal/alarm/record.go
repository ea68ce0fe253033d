// Package alarm defines the alarm record model shared by the store, the
// trigger scheduler and the confirmation flow.
package alarm

import (
	"sort"
	"strconv"
	"strings"
)

// Defaults applied when a stored record is missing fields.
const (
	DefaultName     = "Alarm"
	DefaultTime     = "07:00"
	NewAlarmName    = "New alarm"
	DuplicateSuffix = " (copy)"
)

// Record is a single medication alarm definition.
type Record struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Time       string `json:"time"`       // "HH:MM", 24h
	RepeatDays []int  `json:"repeatDays"` // 1=Mon ... 7=Sun
	LEDs       []int  `json:"leds"`
	Enabled    bool   `json:"enabled"`
}

// Payload is what a delivered trigger carries back to the app.
type Payload struct {
	AlarmID string `json:"alarmId"`
	LEDs    []int  `json:"leds"`
	Name    string `json:"alarmName"`
}

// Payload returns the trigger payload for this record.
func (r Record) Payload() Payload {
	return Payload{
		AlarmID: r.ID,
		LEDs:    append([]int(nil), r.LEDs...),
		Name:    r.Name,
	}
}

// DisplayName returns the name, or the default label when empty.
func (r Record) DisplayName() string {
	return displayName(r.Name)
}

// DisplayName returns the payload name, or the default label when empty.
func (p Payload) DisplayName() string {
	return displayName(p.Name)
}

// LEDLabel returns the LED targets in ascending order, e.g. "1,2,5", or "-".
func (r Record) LEDLabel() string {
	return LEDLabel(r.LEDs)
}

// DaysLabel returns short weekday names in ascending order, e.g. "Mon,Wed".
func (r Record) DaysLabel() string {
	days := NormalizeDays(r.RepeatDays)
	if len(days) == 0 {
		return "no days"
	}
	labels := make([]string, 0, len(days))
	for _, d := range days {
		labels = append(labels, dayNames[d-1])
	}
	return strings.Join(labels, ",")
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := r
	c.RepeatDays = append([]int(nil), r.RepeatDays...)
	c.LEDs = append([]int(nil), r.LEDs...)
	return c
}

// Duplicate copies the record under a new id and marks the name.
func (r Record) Duplicate(newID string) Record {
	c := r.Clone()
	c.ID = newID
	c.Name = r.Name + DuplicateSuffix
	return c
}

// Normalize collapses the day and LED sets and rewrites the time in "HH:MM"
// form when it parses. An unparseable time is left as is.
func (r Record) Normalize() Record {
	c := r.Clone()
	c.RepeatDays = NormalizeDays(c.RepeatDays)
	c.LEDs = NormalizeLEDs(c.LEDs)
	if h, m, err := ParseTime(c.Time); err == nil {
		c.Time = FormatTime(h, m)
	}
	return c
}

var dayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func displayName(name string) string {
	if name == "" {
		return DefaultName
	}
	return name
}

// NormalizeDays returns the sorted set of valid weekday codes (1..7).
func NormalizeDays(days []int) []int {
	return sortedSet(days, func(d int) bool { return d >= 1 && d <= 7 })
}

// NormalizeLEDs returns the sorted set of positive LED ids.
func NormalizeLEDs(leds []int) []int {
	return sortedSet(leds, func(l int) bool { return l > 0 })
}

// LEDLabel formats LED ids ascending, comma separated; "-" when empty.
func LEDLabel(leds []int) string {
	set := NormalizeLEDs(leds)
	if len(set) == 0 {
		return "-"
	}
	parts := make([]string, len(set))
	for i, l := range set {
		parts[i] = strconv.Itoa(l)
	}
	return strings.Join(parts, ",")
}

func sortedSet(values []int, keep func(int) bool) []int {
	seen := make(map[int]struct{}, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if !keep(v) {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
