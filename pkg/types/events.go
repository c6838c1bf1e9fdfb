package types

import "time"

// EventKind classifies session lifecycle and command events.
type EventKind string

const (
	EventSessionCreated  EventKind = "session_created"
	EventSessionClosed   EventKind = "session_closed"
	EventCommandStarted  EventKind = "command_started"
	EventCommandFinished EventKind = "command_finished"
	EventCommandTimeout  EventKind = "command_timeout"
	EventInputSent       EventKind = "input_sent"
)

// Event is one entry on a session's event stream.
type Event struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Kind      EventKind     `json:"kind"`
	Command   string        `json:"command,omitempty"`
	Status    CommandStatus `json:"status,omitempty"`
	ExitCode  int           `json:"exit_code,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
