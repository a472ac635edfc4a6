package tasklist

import (
	"errors"
	"fmt"

	"github.com/quayside/daybook/internal/tasks"
)

// ErrUnknownEventKind reports an event name outside the published set.
var ErrUnknownEventKind = errors.New("unknown event kind")

// EventKind names a change-feed event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// ParseEventKind maps a wire event name to its kind.
func ParseEventKind(value string) (EventKind, error) {
	switch EventKind(value) {
	case EventInsert, EventUpdate, EventDelete:
		return EventKind(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, value)
	}
}

func (k EventKind) String() string {
	return string(k)
}

// Event is one pushed change: the kind plus the full affected task row.
type Event struct {
	Kind EventKind
	Task tasks.Task
}
