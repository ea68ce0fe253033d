// Package notify is a local notification center: it stores pending
// notification requests, fires them when their trigger comes due and hands
// delivered notifications and user actions to the app through the event bus.
//
// Weekdays use the center's own encoding, 1=Sunday ... 7=Saturday.
package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/dokzlo13/pilld/internal/alarm"
)

// Category groups notifications that offer the same actions.
const CategoryMedication = "MEDICATION_ALARM"

var (
	ErrNotAuthorized       = errors.New("notification permission not granted")
	ErrQuotaExceeded       = errors.New("pending notification quota exceeded")
	ErrInvalidTrigger      = errors.New("invalid trigger")
	ErrUnknownNotification = errors.New("unknown notification")
)

// TriggerKind selects how a trigger computes its fire times.
type TriggerKind string

const (
	TriggerCalendar TriggerKind = "calendar" // weekday + time of day
	TriggerInterval TriggerKind = "interval" // fixed delay after registration
)

// Trigger describes when a request fires.
type Trigger struct {
	Kind    TriggerKind `json:"kind"`
	Weekday int         `json:"weekday,omitempty"` // 1=Sunday ... 7=Saturday
	Hour    int         `json:"hour"`
	Minute  int         `json:"minute"`
	Seconds int64       `json:"seconds,omitempty"`
	Repeats bool        `json:"repeats"`
	Anchor  time.Time   `json:"anchor"` // Set on registration
}

// CalendarTrigger fires on the given weekday at hour:minute.
func CalendarTrigger(weekday, hour, minute int, repeats bool) Trigger {
	return Trigger{Kind: TriggerCalendar, Weekday: weekday, Hour: hour, Minute: minute, Repeats: repeats}
}

// IntervalTrigger fires once the delay has elapsed after registration.
func IntervalTrigger(delay time.Duration, repeats bool) Trigger {
	return Trigger{Kind: TriggerInterval, Seconds: int64(delay / time.Second), Repeats: repeats}
}

// Validate checks trigger fields.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerCalendar:
		if t.Weekday < 1 || t.Weekday > 7 {
			return fmt.Errorf("%w: weekday %d", ErrInvalidTrigger, t.Weekday)
		}
		if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
			return fmt.Errorf("%w: time %02d:%02d", ErrInvalidTrigger, t.Hour, t.Minute)
		}
	case TriggerInterval:
		if t.Seconds <= 0 {
			return fmt.Errorf("%w: interval must be positive", ErrInvalidTrigger)
		}
		if t.Repeats && t.Seconds < 60 {
			return fmt.Errorf("%w: repeating interval must be at least 60s", ErrInvalidTrigger)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidTrigger, t.Kind)
	}
	return nil
}

// Content is what the user sees, plus the app payload.
type Content struct {
	Title    string        `json:"title"`
	Body     string        `json:"body"`
	Category string        `json:"category"`
	Payload  alarm.Payload `json:"payload"`
}

// Request is a pending notification.
type Request struct {
	ID        string    `json:"id"`
	Content   Content   `json:"content"`
	Trigger   Trigger   `json:"trigger"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery is a notification that fired and is shown to the user.
type Delivery struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	Content     Content   `json:"content"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Action is the user's response to a delivered notification.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionSnooze  Action = "snooze"
	ActionDismiss Action = "dismiss"
	ActionOpen    Action = "open" // Tapped the notification body
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionConfirm, ActionSnooze, ActionDismiss, ActionOpen:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// ActionEvent is published when the user acts on a delivery.
type ActionEvent struct {
	Action   Action
	Delivery Delivery
}
