// Package orchestrator runs conversation rounds: one user message fanned out
// to every persona of a session, each reply humanly paced and isolated from
// the others' failures.
//
// 编排器：将一条用户消息并发分发给会话中的每个角色，各角色独立失败、独立计时。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/pandemonium/plugin/ai"
	"github.com/hrygo/pandemonium/plugin/ai/persona"
	"github.com/hrygo/pandemonium/plugin/ai/session"
	"github.com/hrygo/pandemonium/plugin/ai/timeout"
	"github.com/hrygo/pandemonium/plugin/ai/timing"
)

// Recorder receives round and task outcomes. kind is empty for a successful task.
type Recorder interface {
	RecordRound(sessionID string)
	RecordPersonaResult(personaID, kind string, d time.Duration)
	RecordRoundComplete(d time.Duration, succeeded, failed int)
}

type nopRecorder struct{}

func (nopRecorder) RecordRound(string) {}

func (nopRecorder) RecordPersonaResult(string, string, time.Duration) {}

func (nopRecorder) RecordRoundComplete(time.Duration, int, int) {}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sessions   session.SessionStore
	Personas   persona.Provider
	Completion ai.CompletionProvider
	Timing     *timing.Model

	Logger  *slog.Logger
	Metrics Recorder

	// TaskTimeout is the hard ceiling of one persona task. It must exceed
	// the timing model's maximum delay.
	TaskTimeout time.Duration
	// HistoryLimit bounds the history sent to the completion provider.
	HistoryLimit int

	Now func() time.Time
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator handles user messages for sessions.
type Orchestrator struct {
	deps Deps

	wg sync.WaitGroup
}

// New validates deps and creates an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Sessions == nil || deps.Personas == nil || deps.Completion == nil {
		return nil, errors.New("orchestrator requires sessions, personas and a completion provider")
	}
	if deps.Timing == nil {
		deps.Timing = timing.NewModel(timing.DefaultConfig(), nil)
	}
	if deps.TaskTimeout <= 0 {
		deps.TaskTimeout = timeout.TaskTimeout
	}
	if deps.TaskTimeout <= deps.Timing.MaxDelay() {
		return nil, fmt.Errorf("task timeout %s must be greater than the maximum typing delay %s",
			deps.TaskTimeout, deps.Timing.MaxDelay())
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = session.DefaultHistoryLimit
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}
	return &Orchestrator{deps: deps}, nil
}

// HandleUserMessage appends the user message to the session and starts a
// round. It fails with ErrSessionNotFound, before any fan-out, when the
// session is missing or not active.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, sessionID, userText string) (*Round, error) {
	text := strings.TrimSpace(userText)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	start, err := o.deps.Sessions.BeginRound(ctx, sessionID, session.Message{
		Role:    session.RoleUser,
		Content: text,
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionInactive) {
			return nil, fmt.Errorf("%w: %w", ErrSessionNotFound, err)
		}
		return nil, fmt.Errorf("begin round: %w", err)
	}

	roundID := uuid.NewString()
	logger := o.deps.Logger.With("round_id", roundID, "session_id", sessionID)
	personaIDs := start.Session.PersonaIDs
	r := newRound(roundID, sessionID, personaIDs, o.deps.Timing.Config().Checkpoints, logger)

	o.deps.Metrics.RecordRound(sessionID)
	r.emitAck(start.User, o.deps.Now())
	logger.Info("round started", "personas", len(personaIDs), "message_length", len(text))

	// Tasks outlive the caller's connection; only event delivery stops on detach.
	base := context.WithoutCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(base, r, start, logger)
	}()
	return r, nil
}

// Wait blocks until every round started so far is complete.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run fans out one task per persona, joins them all and closes the round.
func (o *Orchestrator) run(ctx context.Context, r *Round, start *session.RoundStart, logger *slog.Logger) {
	began := o.deps.Now()
	personaIDs := start.Session.PersonaIDs
	results := make([]taskResult, len(personaIDs))

	var wg sync.WaitGroup
	for i, pid := range personaIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.supervise(ctx, r, start, pid, logger)
		}()
	}
	wg.Wait()

	summary := &Summary{
		RoundID:   r.ID,
		SessionID: r.SessionID,
		User:      start.User,
	}
	replies := make([]session.Message, 0, len(results))
	for _, res := range results {
		if res.err != nil {
			summary.Errors = append(summary.Errors, res.err)
			summary.Failed++
			continue
		}
		replies = append(replies, res.message)
		summary.Succeeded++
	}

	summary.Messages = o.record(ctx, r.SessionID, replies, logger)
	summary.Duration = o.deps.Now().Sub(began)
	o.deps.Metrics.RecordRoundComplete(summary.Duration, summary.Succeeded, summary.Failed)

	logger.Info("round complete",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	r.complete(summary, o.deps.Now())
}

// record appends the round's replies to history, which also persists them
// and advances the session's activity and counter.
func (o *Orchestrator) record(ctx context.Context, sessionID string, replies []session.Message, logger *slog.Logger) []session.Message {
	if len(replies) == 0 {
		if err := o.deps.Sessions.Touch(ctx, sessionID); err != nil {
			logger.Warn("failed to touch session", "error", err)
		}
		return nil
	}

	appended, err := o.deps.Sessions.AppendHistory(ctx, sessionID, replies...)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		logger.Warn("session vanished before replies were appended", "replies", len(replies))
		return replies
	case err != nil && appended == nil:
		logger.Error("failed to append replies", "error", err)
		return replies
	case err != nil:
		logger.Error("failed to persist replies", "error", err)
	}
	return appended
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
