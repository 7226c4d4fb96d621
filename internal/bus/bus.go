// Package bus provides event-driven messaging between pipeline stages.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Topics used across the service.
const (
	// TopicAnswerCompleted carries one event per answered question.
	TopicAnswerCompleted = "answer.completed"

	// TopicIngestCompleted carries one event per embedding batch that
	// finished processing, successful or not.
	TopicIngestCompleted = "ingest.completed"
)

// Event is the envelope for all bus messages.
type Event struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Source        string `json:"source"`
	Timestamp     int64  `json:"timestamp"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Payload       any    `json:"payload,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current timestamp.
func NewEvent(eventType, source string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// Handler processes a single event. Returning an error never fails the
// publish; it is logged and the next handler still runs.
type Handler func(ctx context.Context, event Event) error

// Bus is the messaging interface the rest of the service depends on.
type Bus interface {
	// Publish delivers an event to all subscribers of a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe registers a handler for events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close shuts down the bus, draining in-flight handlers.
	Close() error
}

// Notifier adapts a Bus to the fire-and-forget publisher shape used by
// the answer service: callers hand over a bare payload and the notifier
// wraps it in an Event envelope.
type Notifier struct {
	bus    Bus
	source string
}

// NewNotifier creates a notifier that stamps events with the given source.
func NewNotifier(b Bus, source string) *Notifier {
	return &Notifier{bus: b, source: source}
}

// Publish wraps the payload in an event and publishes it.
func (n *Notifier) Publish(ctx context.Context, topic string, payload any) error {
	return n.bus.Publish(ctx, topic, NewEvent(topic, n.source, payload))
}
