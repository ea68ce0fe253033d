package alarm

import "errors"

// Draft is the user-entered form of an alarm, prior to validation.
type Draft struct {
	Name       string `json:"name"`
	Time       string `json:"time"`
	RepeatDays []int  `json:"repeatDays"`
	LEDs       []int  `json:"leds"`
}

// Validate checks what the editor requires before a save: a parseable time,
// at least one weekday and at least one LED.
func (d Draft) Validate() error {
	var errs []error
	if _, _, err := ParseTime(d.Time); err != nil {
		errs = append(errs, &ValidationError{Field: "time", Reason: err.Error()})
	}
	if len(NormalizeDays(d.RepeatDays)) == 0 {
		errs = append(errs, &ValidationError{Field: "repeatDays", Reason: "select at least one day"})
	}
	if len(NormalizeLEDs(d.LEDs)) == 0 {
		errs = append(errs, &ValidationError{Field: "leds", Reason: "select at least one LED"})
	}
	return errors.Join(errs...)
}

// Record builds an enabled record with the given id. An empty name becomes
// NewAlarmName.
func (d Draft) Record(id string) Record {
	name := d.Name
	if name == "" {
		name = NewAlarmName
	}
	return Record{
		ID:         id,
		Name:       name,
		Time:       d.Time,
		RepeatDays: append([]int(nil), d.RepeatDays...),
		LEDs:       append([]int(nil), d.LEDs...),
		Enabled:    true,
	}.Normalize()
}

// Apply overwrites the editable fields of r with the draft, keeping id and
// enabled flag. An empty name becomes DefaultName.
func (d Draft) Apply(r Record) Record {
	out := r.Clone()
	out.Name = d.Name
	if out.Name == "" {
		out.Name = DefaultName
	}
	out.Time = d.Time
	out.RepeatDays = append([]int(nil), d.RepeatDays...)
	out.LEDs = append([]int(nil), d.LEDs...)
	return out.Normalize()
}
