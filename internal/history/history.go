package history

import (
	"context"
	"time"

	"github.com/netwarden/netwarden/internal/event"
)

// Event is one lifecycle occurrence persisted to an audit sink. It carries
// the channel tag plus the payload fields relevant for that channel and the
// PID of the backend run the event belongs to.
type Event struct {
	Channel    string    `json:"channel"`
	Text       string    `json:"text,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Unexpected bool      `json:"unexpected"`
	PID        int       `json:"pid"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FromLifecycle converts a bridge event into its audit record.
func FromLifecycle(e event.Event, pid int) Event {
	return Event{
		Channel:    string(e.Channel),
		Text:       e.Text,
		ExitCode:   e.ExitCode,
		Unexpected: e.Unexpected,
		PID:        pid,
		OccurredAt: e.At,
	}
}

// Sink is a destination for lifecycle audit events. Implementations must be
// safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
