package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed round or persona task.
type ErrorKind string

const (
	KindSessionNotFound  ErrorKind = "SessionNotFound"
	KindPersonaNotFound  ErrorKind = "PersonaNotFound"
	KindPersonaInactive  ErrorKind = "PersonaInactive"
	KindGenerationFailed ErrorKind = "GenerationFailed"
	KindTimeout          ErrorKind = "Timeout"
)

var (
	// ErrSessionNotFound aborts a round before fan-out: the session is
	// missing or no longer active.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("message text is empty")

	ErrPersonaNotFound  = errors.New("persona not found")
	ErrPersonaInactive  = errors.New("persona is not active")
	ErrGenerationFailed = errors.New("generation failed")
	ErrTimeout          = errors.New("persona timed out")
)

var kindErrors = map[ErrorKind]error{
	KindPersonaNotFound:  ErrPersonaNotFound,
	KindPersonaInactive:  ErrPersonaInactive,
	KindGenerationFailed: ErrGenerationFailed,
	KindTimeout:          ErrTimeout,
}

// PersonaError is the terminal failure of one persona's task. It matches
// both its kind's sentinel and its cause with errors.Is.
type PersonaError struct {
	PersonaID string
	Kind      ErrorKind
	Cause     error
}

func newPersonaError(personaID string, kind ErrorKind, cause error) *PersonaError {
	return &PersonaError{PersonaID: personaID, Kind: kind, Cause: cause}
}

func (e *PersonaError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("persona %s: %s", e.PersonaID, kindErrors[e.Kind])
	}
	return fmt.Sprintf("persona %s: %s: %v", e.PersonaID, kindErrors[e.Kind], e.Cause)
}

func (e *PersonaError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel, ok := kindErrors[e.Kind]; ok {
		errs = append(errs, sentinel)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Message is the user-facing text of the error event.
func (e *PersonaError) Message() string {
	switch e.Kind {
	case KindPersonaNotFound:
		return fmt.Sprintf("persona %s does not exist", e.PersonaID)
	case KindPersonaInactive:
		return fmt.Sprintf("persona %s is not available", e.PersonaID)
	case KindTimeout:
		return fmt.Sprintf("persona %s took too long to reply", e.PersonaID)
	default:
		return fmt.Sprintf("persona %s could not reply", e.PersonaID)
	}
}
