package delta

import "time"

// EventType says when an event was fired.
type EventType int

const (
	// PostChange follows a change to the model, including toggling working
	// copy mode.
	PostChange EventType = iota + 1
	// PostReconcile follows reconciling a working copy with its buffer.
	PostReconcile
)

func (t EventType) String() string {
	switch t {
	case PostChange:
		return "post_change"
	case PostReconcile:
		return "post_reconcile"
	default:
		return "unknown"
	}
}

// Event carries a delta to change listeners.
type Event struct {
	Type  EventType
	Delta *Delta
	Time  time.Time
}

func NewEvent(t EventType, d *Delta) Event {
	return Event{Type: t, Delta: d, Time: time.Now()}
}
