// Package scheduler keeps the notification center's trigger set in line with
// the alarm records. Each enabled alarm owns one weekly trigger per repeat
// day, keyed "{alarmID}_{day}".
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pilld/internal/alarm"
	"github.com/dokzlo13/pilld/internal/content"
	"github.com/dokzlo13/pilld/internal/notify"
)

const (
	SnoozePrefix  = "snooze_"
	TestTriggerID = "test_notification"

	DefaultSnoozeDelay = 300 * time.Second
	testDelay          = 3 * time.Second
)

// Notifier is the notification subsystem the scheduler drives.
type Notifier interface {
	RequestPermission(ctx context.Context) (bool, error)
	Register(ctx context.Context, req notify.Request) error
	Cancel(ctx context.Context, ids []string) error
}

// TriggerScheduler maps alarm records to notification requests. Failures are
// reported as *alarm.ScheduleError and never undo the persisted record.
type TriggerScheduler struct {
	notifier Notifier
	format   content.Formatter
}

// New creates a trigger scheduler. A nil formatter uses the default text.
func New(n Notifier, f content.Formatter) *TriggerScheduler {
	if f == nil {
		f = content.DefaultFormatter{}
	}
	return &TriggerScheduler{notifier: n, format: f}
}

// RequestPermission asks the notification subsystem for permission to deliver.
func (s *TriggerScheduler) RequestPermission(ctx context.Context) (bool, error) {
	granted, err := s.notifier.RequestPermission(ctx)
	if err != nil {
		return false, err
	}
	if !granted {
		log.Warn().Msg("Notification permission denied, alarms will not fire")
	}
	return granted, nil
}

// Sync makes the alarm's live triggers match the record: all seven possible
// ids are cancelled, then one repeating trigger per repeat day is registered
// when the alarm is enabled. A time that does not parse leaves the alarm with
// no triggers.
func (s *TriggerScheduler) Sync(ctx context.Context, r alarm.Record) error {
	var errs []error

	if err := s.notifier.Cancel(ctx, TriggerIDs(r.ID)); err != nil {
		errs = append(errs, &alarm.ScheduleError{TriggerID: r.ID, Err: err})
	}

	if !r.Enabled {
		log.Debug().Str("alarm_id", r.ID).Msg("Alarm disabled, triggers cleared")
		return errors.Join(errs...)
	}

	hour, minute, err := alarm.ParseTime(r.Time)
	if err != nil {
		log.Warn().
			Err(err).
			Str("alarm_id", r.ID).
			Str("time", r.Time).
			Msg("Alarm time does not parse, not scheduling")
		return errors.Join(errs...)
	}

	msg := s.format.Alarm(r)
	c := notify.Content{
		Title:    msg.Title,
		Body:     msg.Body,
		Category: notify.CategoryMedication,
		Payload:  r.Payload(),
	}

	days := alarm.NormalizeDays(r.RepeatDays)
	for _, d := range days {
		req := notify.Request{
			ID:      TriggerID(r.ID, d),
			Content: c,
			Trigger: notify.CalendarTrigger(DomainToCenterWeekday(d), hour, minute, true),
		}
		if err := s.notifier.Register(ctx, req); err != nil {
			log.Error().Err(err).Str("trigger_id", req.ID).Msg("Failed to register trigger")
			errs = append(errs, &alarm.ScheduleError{TriggerID: req.ID, Err: err})
		}
	}

	log.Debug().
		Str("alarm_id", r.ID).
		Str("time", alarm.FormatTime(hour, minute)).
		Ints("days", days).
		Msg("Alarm triggers synced")

	return errors.Join(errs...)
}

// Cancel removes every trigger the alarm can own, pending or delivered.
func (s *TriggerScheduler) Cancel(ctx context.Context, alarmID string) error {
	if err := s.notifier.Cancel(ctx, TriggerIDs(alarmID)); err != nil {
		return &alarm.ScheduleError{TriggerID: alarmID, Err: err}
	}
	log.Debug().Str("alarm_id", alarmID).Msg("Alarm triggers cancelled")
	return nil
}

// ScheduleSnooze registers a one-shot reminder after delay and returns its id.
// Each call creates a new trigger.
func (s *TriggerScheduler) ScheduleSnooze(ctx context.Context, p alarm.Payload, delay time.Duration) (string, error) {
	id := SnoozePrefix + uuid.NewString()
	msg := s.format.Snooze(p)

	req := notify.Request{
		ID: id,
		Content: notify.Content{
			Title:    msg.Title,
			Body:     msg.Body,
			Category: notify.CategoryMedication,
			Payload:  p,
		},
		Trigger: notify.IntervalTrigger(delay, false),
	}
	if err := s.notifier.Register(ctx, req); err != nil {
		return "", &alarm.ScheduleError{TriggerID: id, Err: err}
	}

	log.Info().
		Str("alarm_id", p.AlarmID).
		Str("trigger_id", id).
		Dur("delay", delay).
		Msg("Snooze scheduled")
	return id, nil
}

// SendTest schedules a test notification a few seconds out.
func (s *TriggerScheduler) SendTest(ctx context.Context) error {
	msg := s.format.Test()
	req := notify.Request{
		ID: TestTriggerID,
		Content: notify.Content{
			Title:    msg.Title,
			Body:     msg.Body,
			Category: notify.CategoryMedication,
			Payload:  alarm.Payload{AlarmID: "test", LEDs: []int{1, 2}, Name: msg.Title},
		},
		Trigger: notify.IntervalTrigger(testDelay, false),
	}
	if err := s.notifier.Register(ctx, req); err != nil {
		return &alarm.ScheduleError{TriggerID: TestTriggerID, Err: err}
	}
	return nil
}
