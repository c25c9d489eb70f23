package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/pandemonium/plugin/ai/session"
)

// Summary is the outcome of a finished round.
type Summary struct {
	RoundID   string
	SessionID string
	User      session.Message
	// Messages are the persona replies as appended to history, with sequence numbers.
	Messages  []session.Message
	Errors    []*PersonaError
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// personaState tracks one persona's position in the begin, progress, terminal sequence.
type personaState struct {
	started bool
	sealed  bool
}

// Round is one user message and its fan-out. Its event channel is sized to
// hold every event the round can produce, so emission never blocks on a
// slow or absent reader.
type Round struct {
	ID        string
	SessionID string

	logger *slog.Logger
	events chan Event

	mu       sync.Mutex
	detached bool
	closed   bool
	personas map[string]*personaState

	done    chan struct{}
	summary *Summary
}

func newRound(id, sessionID string, personaIDs []string, checkpoints int, logger *slog.Logger) *Round {
	// ack + complete, and per persona: start, progress per checkpoint, end, terminal.
	capacity := 2 + len(personaIDs)*(checkpoints+3)
	r := &Round{
		ID:        id,
		SessionID: sessionID,
		logger:    logger,
		events:    make(chan Event, capacity),
		personas:  make(map[string]*personaState, len(personaIDs)),
		done:      make(chan struct{}),
	}
	for _, pid := range personaIDs {
		r.personas[pid] = &personaState{}
	}
	return r
}

// Events returns the round's event stream. It is closed after the complete event.
func (r *Round) Events() <-chan Event {
	return r.events
}

// Wait blocks until the round is complete and returns its summary.
func (r *Round) Wait() *Summary {
	<-r.done
	return r.summary
}

// Done is closed once the round is complete.
func (r *Round) Done() <-chan struct{} {
	return r.done
}

// Detach stops delivery of further events. The round still runs to completion.
func (r *Round) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.detached {
		r.detached = true
		r.logger.Debug("round detached from caller")
	}
}

// send delivers an event. Callers must hold r.mu.
func (r *Round) send(ev Event) {
	if r.detached || r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("dropping event on full round stream", "event_type", string(ev.Type), "persona_id", ev.PersonaID)
	}
}

func (r *Round) emitAck(msg session.Message, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.send(Event{Type: EventAck, Data: AckPayload{Message: msg, Timestamp: at}})
}

// startTyping emits typing_start unless the persona is already sealed.
func (r *Round) startTyping(personaID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.personas[personaID]
	if st == nil || st.sealed || st.started {
		return false
	}
	st.started = true
	r.send(Event{Type: EventTypingStart, PersonaID: personaID, Data: TypingPayload{PersonaID: personaID}})
	return true
}

// progress emits a typing checkpoint unless the persona is already sealed.
func (r *Round) progress(personaID string, fraction float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.personas[personaID]
	if st == nil || st.sealed {
		return false
	}
	r.send(Event{Type: EventTypingProgress, PersonaID: personaID, Data: ProgressPayload{PersonaID: personaID, Progress: fraction}})
	return true
}

// seal emits the persona's terminal event, preceded by typing_end when
// typing had started. Only the first call per persona has any effect.
func (r *Round) seal(personaID string, terminal Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.personas[personaID]
	if st == nil || st.sealed {
		return false
	}
	st.sealed = true
	if st.started {
		r.send(Event{Type: EventTypingEnd, PersonaID: personaID, Data: TypingPayload{PersonaID: personaID}})
	}
	r.send(terminal)
	return true
}

// complete emits the complete event, closes the stream and publishes the summary.
func (r *Round) complete(summary *Summary, at time.Time) {
	r.mu.Lock()
	r.send(Event{Type: EventComplete, Data: CompletePayload{
		Message:   "round complete",
		Timestamp: at,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
	}})
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	r.summary = summary
	close(r.done)
}
