package alarm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatTime_RoundTrip(t *testing.T) {
	for h := 0; h < 24; h++ {
		for m := 0; m < 60; m++ {
			gotH, gotM, err := ParseTime(FormatTime(h, m))
			require.NoError(t, err)
			require.Equal(t, h, gotH)
			require.Equal(t, m, gotM)
		}
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		hour    int
		minute  int
		wantErr bool
	}{
		{name: "padded", input: "07:30", hour: 7, minute: 30},
		{name: "single_digit_hour", input: "7:05", hour: 7, minute: 5},
		{name: "midnight", input: "00:00"},
		{name: "last_minute", input: "23:59", hour: 23, minute: 59},
		{name: "surrounding_space", input: " 12:00 ", hour: 12},
		{name: "hour_out_of_range", input: "24:00", wantErr: true},
		{name: "minute_out_of_range", input: "10:60", wantErr: true},
		{name: "no_colon", input: "0730", wantErr: true},
		{name: "am_pm", input: "7:30 PM", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "seconds", input: "07:30:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m, err := ParseTime(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hour, h)
			assert.Equal(t, tt.minute, m)
		})
	}
}

func TestNormalizeSets(t *testing.T) {
	assert.Equal(t, []int{1, 3, 5}, NormalizeDays([]int{5, 3, 1, 3, 0, 8}))
	assert.Equal(t, []int{}, NormalizeDays(nil))
	assert.Equal(t, []int{1, 2, 8}, NormalizeLEDs([]int{8, 2, 2, 1, -1, 0}))
}

func TestRecordLabels(t *testing.T) {
	r := Record{RepeatDays: []int{7, 1, 3}, LEDs: []int{5, 2}}
	assert.Equal(t, "Mon,Wed,Sun", r.DaysLabel())
	assert.Equal(t, "2,5", r.LEDLabel())
	assert.Equal(t, DefaultName, r.DisplayName())

	empty := Record{Name: "Evening"}
	assert.Equal(t, "no days", empty.DaysLabel())
	assert.Equal(t, "-", empty.LEDLabel())
	assert.Equal(t, "Evening", empty.DisplayName())
}

func TestRecordDuplicate(t *testing.T) {
	orig := Record{ID: "a1", Name: "Morning", Time: "07:30", RepeatDays: []int{1}, LEDs: []int{2}, Enabled: true}
	dup := orig.Duplicate("b2")

	assert.Equal(t, "b2", dup.ID)
	assert.Equal(t, "Morning (copy)", dup.Name)
	assert.Equal(t, orig.Time, dup.Time)
	assert.Equal(t, orig.RepeatDays, dup.RepeatDays)
	assert.Equal(t, orig.LEDs, dup.LEDs)
	assert.True(t, dup.Enabled)

	dup.LEDs[0] = 9
	assert.Equal(t, 2, orig.LEDs[0], "duplicate must not share slices")
}

func TestRecordPayload(t *testing.T) {
	r := Record{ID: "a1", Name: "", LEDs: []int{3, 1}}
	p := r.Payload()
	assert.Equal(t, "a1", p.AlarmID)
	assert.Equal(t, []int{3, 1}, p.LEDs)
	assert.Equal(t, DefaultName, p.DisplayName())
}

func TestDraftValidate(t *testing.T) {
	valid := Draft{Name: "Morning", Time: "07:30", RepeatDays: []int{1}, LEDs: []int{2}}
	require.NoError(t, valid.Validate())

	invalid := Draft{Time: "7h", RepeatDays: nil, LEDs: []int{0}}
	err := invalid.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	fields := map[string]bool{}
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var v *ValidationError
		require.True(t, errors.As(e, &v))
		fields[v.Field] = true
	}
	assert.Equal(t, map[string]bool{"time": true, "repeatDays": true, "leds": true}, fields)
}

func TestDraftRecord(t *testing.T) {
	r := Draft{Time: "7:05", RepeatDays: []int{5, 1, 5}, LEDs: []int{4, 2}}.Record("id-1")
	assert.Equal(t, "id-1", r.ID)
	assert.Equal(t, NewAlarmName, r.Name)
	assert.Equal(t, "07:05", r.Time)
	assert.Equal(t, []int{1, 5}, r.RepeatDays)
	assert.Equal(t, []int{2, 4}, r.LEDs)
	assert.True(t, r.Enabled)
}

func TestDraftApply(t *testing.T) {
	orig := Record{ID: "a1", Name: "Old", Time: "06:00", RepeatDays: []int{2}, LEDs: []int{1}, Enabled: false}
	updated := Draft{Name: "", Time: "08:15", RepeatDays: []int{6, 7}, LEDs: []int{3}}.Apply(orig)

	assert.Equal(t, "a1", updated.ID)
	assert.Equal(t, DefaultName, updated.Name)
	assert.Equal(t, "08:15", updated.Time)
	assert.Equal(t, []int{6, 7}, updated.RepeatDays)
	assert.False(t, updated.Enabled)
}
