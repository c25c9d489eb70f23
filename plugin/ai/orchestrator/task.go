package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/pandemonium/plugin/ai"
	"github.com/hrygo/pandemonium/plugin/ai/persona"
	"github.com/hrygo/pandemonium/plugin/ai/session"
)

// taskResult is the outcome of one persona's task: a reply or an error.
type taskResult struct {
	message session.Message
	err     *PersonaError
}

// supervise runs a persona's task under the hard timeout and emits its
// terminal event. A task that overruns is sealed as Timeout; whatever it
// emits afterwards is dropped.
func (o *Orchestrator) supervise(ctx context.Context, r *Round, start *session.RoundStart, personaID string, logger *slog.Logger) taskResult {
	began := o.deps.Now()
	tctx, cancel := context.WithTimeout(ctx, o.deps.TaskTimeout)
	defer cancel()

	done := make(chan taskResult, 1)
	go func() {
		done <- o.generate(tctx, r, start, personaID)
	}()

	var res taskResult
	select {
	case res = <-done:
	case <-tctx.Done():
		res = taskResult{err: newPersonaError(personaID, KindTimeout, tctx.Err())}
	}

	kind := ""
	if res.err != nil {
		kind = string(res.err.Kind)
		r.seal(personaID, Event{Type: EventError, PersonaID: personaID, Data: ErrorPayload{
			PersonaID: personaID,
			Message:   res.err.Message(),
			Kind:      res.err.Kind,
		}})
		logger.Warn("persona task failed", "persona_id", personaID, "error_code", kind, "error", res.err)
	} else {
		r.seal(personaID, Event{Type: EventMessage, PersonaID: personaID, Data: MessagePayload{
			PersonaID: personaID,
			Message:   res.message,
			Mood:      res.message.Emotion,
		}})
		logger.Debug("persona replied", "persona_id", personaID, "delay_ms", res.message.DelayMs)
	}
	o.deps.Metrics.RecordPersonaResult(personaID, kind, o.deps.Now().Sub(began))
	return res
}

// generate runs the steps of a persona's task: profile, completion,
// humanization, paced typing and emotion.
func (o *Orchestrator) generate(ctx context.Context, r *Round, start *session.RoundStart, personaID string) taskResult {
	fail := func(kind ErrorKind, cause error) taskResult {
		// Any step cut short by the deadline is a timeout. An inactive
		// persona was decided before the deadline mattered.
		if kind != KindPersonaInactive && ctx.Err() != nil {
			kind = KindTimeout
		}
		return taskResult{err: newPersonaError(personaID, kind, cause)}
	}

	p, err := o.deps.Personas.GetPersona(ctx, personaID)
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			return fail(KindPersonaNotFound, nil)
		}
		return fail(KindPersonaNotFound, err)
	}
	if !p.IsActive() {
		return fail(KindPersonaInactive, fmt.Errorf("status %s", p.Status))
	}

	r.startTyping(personaID)

	userText := start.User.Content
	raw, err := o.deps.Completion.Complete(ctx, buildRequest(p, start, o.deps.HistoryLimit))
	if err != nil {
		return fail(KindGenerationFailed, err)
	}
	if strings.TrimSpace(raw) == "" {
		return fail(KindGenerationFailed, ai.ErrEmptyCompletion)
	}

	text := persona.Humanize(p, raw)
	delay := o.deps.Timing.Delay(p, userText, text)
	if err := o.pace(ctx, r, personaID, delay.Total, delay.Checkpoints); err != nil {
		return fail(KindTimeout, err)
	}

	return taskResult{message: session.Message{
		ID:        shortuuid.New(),
		SessionID: start.Session.ID,
		PersonaID: personaID,
		Role:      session.RoleAssistant,
		Content:   text,
		Emotion:   persona.DeriveEmotion(p, userText),
		DelayMs:   delay.Total.Milliseconds(),
		CreatedAt: o.deps.Now(),
	}}
}

// pace sleeps through the typing delay in equal steps, reporting progress after each.
func (o *Orchestrator) pace(ctx context.Context, r *Round, personaID string, total time.Duration, checkpoints int) error {
	if checkpoints <= 0 {
		return o.deps.Sleep(ctx, total)
	}
	step := total / time.Duration(checkpoints)
	for i := 1; i <= checkpoints; i++ {
		d := step
		if i == checkpoints {
			d = total - step*time.Duration(checkpoints-1)
		}
		if err := o.deps.Sleep(ctx, d); err != nil {
			return err
		}
		r.progress(personaID, float64(i)/float64(checkpoints))
	}
	return nil
}

// buildRequest assembles the completion request for one persona. The
// persona's own replies are assistant turns; the user and other personas
// are user turns, the latter tagged with their persona id.
func buildRequest(p *persona.Profile, start *session.RoundStart, limit int) ai.CompletionRequest {
	history := start.History
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	turns := make([]ai.Message, 0, len(history))
	for _, m := range history {
		switch {
		case m.PersonaID == "":
			turns = append(turns, ai.UserMessage(m.Content))
		case m.PersonaID == p.ID:
			turns = append(turns, ai.AssistantMessage(m.Content))
		default:
			turns = append(turns, ai.UserMessage("["+m.PersonaID+"] "+m.Content))
		}
	}

	return ai.CompletionRequest{
		SystemInstruction: p.Instruction(),
		History:           turns,
		UserText:          start.User.Content,
		Params: ai.Params{
			Temperature: p.Generation.Temperature,
			MaxTokens:   p.Generation.MaxTokens,
		},
	}
}
