package runtime

import "time"

// EventType represents a runtime event category broadcast to subscribers.
type EventType string

const (
	// EventTypePhaseChanged is emitted on every negotiation phase transition.
	EventTypePhaseChanged EventType = "phase.changed"
	// EventTypeAttemptFinished is emitted when an attempt reaches its outcome.
	EventTypeAttemptFinished EventType = "attempt.finished"
	// EventTypeNegotiationFinished is emitted once the negotiation is terminal.
	EventTypeNegotiationFinished EventType = "negotiation.finished"
	// EventTypeTunnelReady is emitted when a public tunnel URL is known.
	EventTypeTunnelReady EventType = "tunnel.ready"
	// EventTypeServerStopped is emitted after the dev server has exited.
	EventTypeServerStopped EventType = "server.stopped"
)

// Event is a typed notification published by the runtime event bus.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func newEvent(eventType EventType, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
