package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs login events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		switch p := event.Payload.(type) {
		case models.LoginProgress:
			logger.WithCorrelationId(p.AttemptID).Debug().
				Str("event_type", string(event.Type)).
				Str("device_id", p.DeviceID).
				Str("phase", string(p.Phase)).
				Int("attempt", p.Attempt).
				Msg("Login progress")
		case models.LoginResult:
			ev := logger.WithCorrelationId(p.AttemptID).Info().
				Str("event_type", string(event.Type)).
				Str("device_id", p.DeviceID).
				Str("status", p.Status)
			if p.Balance != nil {
				ev = ev.Str("balance", p.Balance.StringFixed(2))
			}
			if p.Reason != "" {
				ev = ev.Str("reason", p.Reason)
			}
			ev.Msg("Login finished")
		default:
			logger.Debug().
				Str("event_type", string(event.Type)).
				Msg("Event published")
		}
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventLoginProgress,
		interfaces.EventLoginResult,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to login events")

	return nil
}
