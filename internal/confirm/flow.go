// Package confirm implements the medication confirmation prompt shown when a
// reminder fires: the user either confirms intake, which tells the pill box to
// switch its LEDs off, or asks to be reminded again later.
package confirm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pilld/internal/alarm"
	"github.com/dokzlo13/pilld/internal/ledger"
	"github.com/dokzlo13/pilld/internal/metrics"
)

// State of the confirmation prompt.
type State string

const (
	StateIdle       State = "idle"
	StateAwaiting   State = "awaiting_confirmation"
	StateConfirming State = "confirming"
)

// TurnOffField is the backend field that tells the device to switch off.
const TurnOffField = "turn_off"

// Remote receives the turn-off signal.
type Remote interface {
	Patch(ctx context.Context, id string, fields map[string]any) error
}

// Snoozer schedules the follow-up reminder.
type Snoozer interface {
	ScheduleSnooze(ctx context.Context, p alarm.Payload, delay time.Duration) (string, error)
}

// History records confirmations and snoozes.
type History interface {
	Append(eventType ledger.EventType, alarmID string, payload map[string]any) error
}

// Snapshot is the current prompt state.
type Snapshot struct {
	State   State          `json:"state"`
	Payload *alarm.Payload `json:"payload,omitempty"`
}

// Flow is the confirmation state machine.
type Flow struct {
	remote      Remote
	snoozer     Snoozer
	history     History
	snoozeDelay time.Duration

	mu      sync.Mutex
	state   State
	payload *alarm.Payload
}

// New creates a flow in the idle state. history may be nil.
func New(remote Remote, snoozer Snoozer, history History, snoozeDelay time.Duration) *Flow {
	return &Flow{
		remote:      remote,
		snoozer:     snoozer,
		history:     history,
		snoozeDelay: snoozeDelay,
		state:       StateIdle,
	}
}

// Snapshot returns the current state and payload.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{State: f.state}
	if f.payload != nil {
		p := *f.payload
		p.LEDs = append([]int(nil), p.LEDs...)
		s.Payload = &p
	}
	return s
}

// Present shows the prompt for a delivered reminder, replacing any prompt
// already shown. The payload is used as delivered even if the alarm has since
// changed.
func (f *Flow) Present(p alarm.Payload) {
	f.mu.Lock()
	f.state = StateAwaiting
	f.payload = &p
	f.mu.Unlock()

	log.Info().
		Str("alarm_id", p.AlarmID).
		Str("name", p.DisplayName()).
		Str("leds", alarm.LEDLabel(p.LEDs)).
		Msg("Awaiting medication confirmation")
}

// Confirm sends the turn-off signal for the alarm. On failure the flow stays
// in the confirming state and the call can be retried; each call sends the
// signal again.
func (f *Flow) Confirm(ctx context.Context, alarmID string) error {
	f.mu.Lock()
	f.state = StateConfirming
	f.mu.Unlock()

	err := f.remote.Patch(ctx, alarmID, map[string]any{TurnOffField: true})
	metrics.IncConfirmation("confirm", err)
	if err != nil {
		var perr *alarm.PersistenceError
		if !errors.As(err, &perr) {
			err = &alarm.PersistenceError{Op: "patch", ID: alarmID, Err: err}
		}
		log.Error().Err(err).Str("alarm_id", alarmID).Msg("Failed to confirm medication")
		f.record(ledger.EventConfirmFailed, alarmID, map[string]any{"error": err.Error()})
		return err
	}

	f.mu.Lock()
	f.state = StateIdle
	f.payload = nil
	f.mu.Unlock()

	log.Info().Str("alarm_id", alarmID).Msg("Medication confirmed")
	f.record(ledger.EventMedicationConfirmed, alarmID, nil)
	return nil
}

// Snooze schedules a single reminder after the snooze delay and closes the
// prompt. The backend is not contacted. A failed registration is returned and
// not retried.
func (f *Flow) Snooze(ctx context.Context, p alarm.Payload) (string, error) {
	id, err := f.snoozer.ScheduleSnooze(ctx, p, f.snoozeDelay)
	metrics.IncConfirmation("snooze", err)

	f.mu.Lock()
	f.state = StateIdle
	f.payload = nil
	f.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("alarm_id", p.AlarmID).Msg("Failed to snooze")
		return "", err
	}

	f.record(ledger.EventSnoozed, p.AlarmID, map[string]any{
		"trigger_id": id,
		"delay":      f.snoozeDelay.String(),
	})
	return id, nil
}

// Dismiss closes the prompt without confirming.
func (f *Flow) Dismiss() {
	f.mu.Lock()
	var alarmID string
	if f.payload != nil {
		alarmID = f.payload.AlarmID
	}
	wasOpen := f.state != StateIdle
	f.state = StateIdle
	f.payload = nil
	f.mu.Unlock()

	if wasOpen {
		log.Info().Str("alarm_id", alarmID).Msg("Confirmation prompt dismissed")
		f.record(ledger.EventDismissed, alarmID, nil)
	}
}

func (f *Flow) record(eventType ledger.EventType, alarmID string, payload map[string]any) {
	if f.history == nil {
		return
	}
	if err := f.history.Append(eventType, alarmID, payload); err != nil {
		log.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to record history")
	}
}
