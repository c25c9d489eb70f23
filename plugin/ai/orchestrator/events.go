package orchestrator

import (
	"time"

	"github.com/hrygo/pandemonium/plugin/ai/session"
)

// EventType names one record of the push-event protocol.
type EventType string

const (
	EventAck            EventType = "ack"
	EventTypingStart    EventType = "typing_start"
	EventTypingProgress EventType = "typing_progress"
	EventTypingEnd      EventType = "typing_end"
	EventMessage        EventType = "message"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// Event is one record of a round's event stream. Data holds the payload
// struct matching Type.
type Event struct {
	Type      EventType
	PersonaID string
	Data      any
}

// IsTerminal reports whether the event ends a persona's task.
func (e Event) IsTerminal() bool {
	return e.PersonaID != "" && (e.Type == EventMessage || e.Type == EventError)
}

// AckPayload acknowledges the user message.
type AckPayload struct {
	Message   session.Message `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// TypingPayload is sent with typing_start and typing_end.
type TypingPayload struct {
	PersonaID string `json:"personaID"`
}

// ProgressPayload reports a typing checkpoint. Progress is in (0, 1].
type ProgressPayload struct {
	PersonaID string  `json:"personaID"`
	Progress  float64 `json:"progress"`
}

// MessagePayload carries a persona's finished reply.
type MessagePayload struct {
	PersonaID string          `json:"personaID"`
	Message   session.Message `json:"message"`
	Mood      string          `json:"mood"`
}

// ErrorPayload reports a persona-scoped or round-level failure.
type ErrorPayload struct {
	PersonaID string    `json:"personaID,omitempty"`
	Message   string    `json:"message"`
	Kind      ErrorKind `json:"kind"`
}

// CompletePayload closes a round.
type CompletePayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}
