package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pilld/internal/alarm"
	"github.com/dokzlo13/pilld/internal/eventbus"
	"github.com/dokzlo13/pilld/internal/notify"
	"github.com/dokzlo13/pilld/internal/scheduler"
)

// ConfirmationFlow is the part of the confirmation state machine driven by
// notification events.
type ConfirmationFlow interface {
	Present(p alarm.Payload)
	Confirm(ctx context.Context, alarmID string) error
	Snooze(ctx context.Context, p alarm.Payload) (string, error)
	Dismiss()
}

// EventService handles event bus subscriptions and dispatches events to handlers.
type EventService struct {
	bus  *eventbus.Bus
	flow ConfirmationFlow
}

// NewEventService creates a new EventService.
func NewEventService(bus *eventbus.Bus, flow ConfirmationFlow) *EventService {
	return &EventService{
		bus:  bus,
		flow: flow,
	}
}

// Start sets up all event handlers.
func (s *EventService) Start(ctx context.Context) {
	s.setupDeliveryHandler()
	s.setupActionHandler(ctx)
}

// setupDeliveryHandler opens the confirmation prompt when an alarm fires.
func (s *EventService) setupDeliveryHandler() {
	s.bus.Subscribe(eventbus.EventTriggerFired, func(event eventbus.Event) {
		d, ok := event.Payload.(notify.Delivery)
		if !ok {
			log.Warn().Str("key", event.Key).Msg("Trigger event without delivery payload")
			return
		}

		if d.RequestID == scheduler.TestTriggerID {
			log.Info().Str("delivery", d.ID).Msg("Test notification delivered")
			return
		}

		log.Info().
			Str("delivery", d.ID).
			Str("alarm_id", d.Content.Payload.AlarmID).
			Str("title", d.Content.Title).
			Msg("Medication reminder delivered")

		s.flow.Present(d.Content.Payload)
	})
}

// setupActionHandler routes notification actions into the confirmation flow.
func (s *EventService) setupActionHandler(ctx context.Context) {
	s.bus.Subscribe(eventbus.EventNotificationAction, func(event eventbus.Event) {
		ev, ok := event.Payload.(notify.ActionEvent)
		if !ok {
			log.Warn().Str("key", event.Key).Msg("Action event without payload")
			return
		}

		payload := ev.Delivery.Content.Payload
		logger := log.With().
			Str("delivery", ev.Delivery.ID).
			Str("alarm_id", payload.AlarmID).
			Str("action", string(ev.Action)).
			Logger()

		switch ev.Action {
		case notify.ActionConfirm:
			if err := s.flow.Confirm(ctx, payload.AlarmID); err != nil {
				logger.Error().Err(err).Msg("Failed to confirm medication from notification")
				return
			}
			logger.Info().Msg("Medication confirmed from notification")
		case notify.ActionSnooze:
			id, err := s.flow.Snooze(ctx, payload)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to snooze from notification")
				return
			}
			logger.Info().Str("trigger_id", id).Msg("Snoozed from notification")
		case notify.ActionDismiss:
			s.flow.Dismiss()
			logger.Debug().Msg("Notification dismissed")
		case notify.ActionOpen:
			s.flow.Present(payload)
		}
	})
}
