package history

import (
	"context"
	"time"

	"github.com/loykin/appstate/internal/store"
)

// EventType defines the kind of checkpoint event.
type EventType string

const (
	EventCheckpoint EventType = "checkpoint"
	EventRestore    EventType = "restore"
	EventWindDown   EventType = "wind_down"
	EventError      EventType = "error"
)

// Event is a checkpoint lifecycle event exported to external systems.
// Detail carries the error message for EventError.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Record     store.Record `json:"record"`
	Detail     string       `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink and returns the first error.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
