package models

import "time"

// EventType identifies what happened in the host environment.
type EventType string

const (
	EventAppStart         EventType = "app_start"
	EventAppEnd           EventType = "app_end"
	EventWindowActive     EventType = "window_active"
	EventWindowInactive   EventType = "window_inactive"
	EventPerspective      EventType = "perspective"
	EventTestRun          EventType = "test_run"
	EventActivity         EventType = "activity"
	EventUserInactivity   EventType = "user_inactivity"
	EventActiveFocus      EventType = "active_focus"
	EventCaretMoved       EventType = "caret_moved"
	EventPaint            EventType = "paint"
	EventEdit             EventType = "edit"
	EventEndFocus         EventType = "end_focus"
	EventEditorInactivity EventType = "editor_inactivity"
)

// EventTypes lists every event type the tracker understands.
var EventTypes = []EventType{
	EventAppStart,
	EventAppEnd,
	EventWindowActive,
	EventWindowInactive,
	EventPerspective,
	EventTestRun,
	EventActivity,
	EventUserInactivity,
	EventActiveFocus,
	EventCaretMoved,
	EventPaint,
	EventEdit,
	EventEndFocus,
	EventEditorInactivity,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Timeout reports whether the event is produced by an inactivity notifier.
func (t EventType) Timeout() bool {
	return t == EventUserInactivity || t == EventEditorInactivity
}

// EventSource identifies the UI element an event originated from.
type EventSource struct {
	Editor      string      `json:"editor,omitempty"`
	Perspective Perspective `json:"perspective,omitempty"`
	Interval    *Interval   `json:"interval,omitempty"`
}

// Event is a transient occurrence consumed once by the tracker.
type Event struct {
	Type   EventType   `json:"type"`
	Source EventSource `json:"source"`
	At     time.Time   `json:"at"`

	// Generation is set on timeout events to the notifier generation that fired.
	Generation uint64 `json:"-"`
}

// NewEvent returns an event of type t originating from source.
func NewEvent(t EventType, source EventSource) Event {
	return Event{Type: t, Source: source}
}
