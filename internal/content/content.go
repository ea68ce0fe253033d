// Package content renders notification titles and bodies for alarms.
package content

import (
	"strconv"
	"strings"

	"github.com/dokzlo13/pilld/internal/alarm"
)

// Message is the user-visible part of a notification.
type Message struct {
	Title string
	Body  string
}

// Formatter renders notification text. Implementations never fail; a
// formatter that cannot render falls back to the default text.
type Formatter interface {
	Alarm(r alarm.Record) Message
	Snooze(p alarm.Payload) Message
	Test() Message
}

const (
	SnoozeTitle = "💊 Medication time (snoozed)"
	TestTitle   = "Test notification"
	TestBody    = "Checking that notifications are delivered"
)

// DefaultFormatter renders the built-in notification text.
type DefaultFormatter struct{}

// Alarm renders "HH:MM • LED 1,2" under the alarm's display name.
func (DefaultFormatter) Alarm(r alarm.Record) Message {
	return Message{
		Title: r.DisplayName(),
		Body:  r.Time + " • LED " + r.LEDLabel(),
	}
}

// Snooze renders the follow-up reminder for a snoozed alarm.
func (DefaultFormatter) Snooze(p alarm.Payload) Message {
	leds := make([]string, 0, len(p.LEDs))
	for _, led := range alarm.NormalizeLEDs(p.LEDs) {
		leds = append(leds, strconv.Itoa(led))
	}
	return Message{
		Title: SnoozeTitle,
		Body:  p.DisplayName() + " • LED " + strings.Join(leds, ", "),
	}
}

func (DefaultFormatter) Test() Message {
	return Message{Title: TestTitle, Body: TestBody}
}
