package gateway

import (
	"github.com/rs/zerolog"
)

// EventBroadcaster sends one event to every caller in a call.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
}

func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast returns the number of clients that received the event.
func (b *EventBroadcaster) Broadcast(event string, data interface{}) int {
	clients := b.clients.InCall()
	if len(clients) == 0 {
		b.logger.Debug().Str("event", event).Msg("No callers to broadcast to")
		return 0
	}

	successCount := 0
	failureCount := 0
	for _, client := range clients {
		if err := client.Send(event, data); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", event).
				Msg("Failed to broadcast to client")
			failureCount++
			continue
		}
		successCount++
	}

	b.logger.Debug().
		Str("event", event).
		Int("success", successCount).
		Int("failed", failureCount).
		Msg("Event broadcast complete")
	return successCount
}
