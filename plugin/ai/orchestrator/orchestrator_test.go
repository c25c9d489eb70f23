package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/pandemonium/plugin/ai"
	"github.com/hrygo/pandemonium/plugin/ai/cache"
	"github.com/hrygo/pandemonium/plugin/ai/persona"
	"github.com/hrygo/pandemonium/plugin/ai/session"
	"github.com/hrygo/pandemonium/plugin/ai/timing"
)

type fixture struct {
	orch     *Orchestrator
	deps     Deps
	svc      *cache.Service
	sessions *session.Store
	durable  *session.MockDurable
	llm      *ai.MockCompletionProvider
	metrics  *MockRecorder
}

func profile(id string, status persona.Status) *persona.Profile {
	return &persona.Profile{
		ID:                id,
		Name:              strings.ToUpper(id[:1]) + id[1:],
		Status:            status,
		SystemInstruction: "You are " + id + ".",
	}
}

func newFixture(t *testing.T, taskTimeout time.Duration, profiles ...*persona.Profile) *fixture {
	t.Helper()
	return newFixtureWithDurable(t, session.NewMockDurable(), taskTimeout, profiles...)
}

// newFixtureWithDurable builds a fixture whose store writes through to durable.
// A nil durable gives a cache-only store.
func newFixtureWithDurable(t *testing.T, durable *session.MockDurable, taskTimeout time.Duration, profiles ...*persona.Profile) *fixture {
	t.Helper()
	svc := cache.NewService(cache.DefaultServiceConfig())
	t.Cleanup(svc.Close)

	var backing session.Durable
	if durable != nil {
		backing = durable
	}
	sessions := session.NewStore(svc, backing, session.Config{HistoryLimit: 50})

	personas, err := persona.NewMemoryProvider(persona.Generation{Temperature: 0.7, MaxTokens: 128}, profiles...)
	require.NoError(t, err)

	model := timing.NewModel(timing.Config{
		Min:         time.Millisecond,
		Max:         10 * time.Millisecond,
		Checkpoints: 3,
	}, func() float64 { return 0.5 })

	llm := ai.NewMockCompletionProvider()
	metrics := NewMockRecorder()
	deps := Deps{
		Sessions:    sessions,
		Personas:    personas,
		Completion:  llm,
		Timing:      model,
		Metrics:     metrics,
		TaskTimeout: taskTimeout,
	}
	orch, err := New(deps)
	require.NoError(t, err)
	t.Cleanup(orch.Wait)

	return &fixture{
		orch:     orch,
		deps:     deps,
		svc:      svc,
		sessions: sessions,
		durable:  durable,
		llm:      llm,
		metrics:  metrics,
	}
}

func (f *fixture) newSession(t *testing.T, personaIDs ...string) string {
	t.Helper()
	s, err := f.sessions.Create(context.Background(), personaIDs, "admin", "test")
	require.NoError(t, err)
	return s.ID
}

func collect(t *testing.T, r *Round) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("round did not complete, got %d events", len(events))
		}
	}
}

func personaEvents(events []Event, personaID string) []Event {
	var out []Event
	for _, ev := range events {
		if ev.PersonaID == personaID {
			out = append(out, ev)
		}
	}
	return out
}

func types(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func terminalKinds(events []Event) map[string]ErrorKind {
	kinds := make(map[string]ErrorKind)
	for _, ev := range events {
		if ev.Type == EventError {
			kinds[ev.PersonaID] = ev.Data.(ErrorPayload).Kind
		}
	}
	return kinds
}

func count(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestNewRejectsShortTaskTimeout(t *testing.T) {
	svc := cache.NewService(cache.DefaultServiceConfig())
	t.Cleanup(svc.Close)
	_, err := New(Deps{
		Sessions:    session.NewStore(svc, nil, session.Config{}),
		Personas:    &persona.MemoryProvider{},
		Completion:  ai.NewMockCompletionProvider(),
		Timing:      timing.NewModel(timing.DefaultConfig(), nil),
		TaskTimeout: 8 * time.Second,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be greater than")

	_, err = New(Deps{})
	assert.Error(t, err)
}

func TestScenarioActiveAndSleepingPersona(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", persona.StatusActive), profile("bob", persona.StatusSleeping))
	id := f.newSession(t, "alice", "bob")

	r, err := f.orch.HandleUserMessage(context.Background(), id, "hello")
	require.NoError(t, err)
	events := collect(t, r)

	require.NotEmpty(t, events)
	assert.Equal(t, EventAck, events[0].Type)
	assert.Equal(t, "hello", events[0].Data.(AckPayload).Message.Content)
	assert.Equal(t, EventComplete, events[len(events)-1].Type)

	assert.Equal(t, []EventType{
		EventTypingStart,
		EventTypingProgress, EventTypingProgress, EventTypingProgress,
		EventTypingEnd,
		EventMessage,
	}, types(personaEvents(events, "alice")))

	alice := personaEvents(events, "alice")
	assert.InDelta(t, 1.0/3, alice[1].Data.(ProgressPayload).Progress, 1e-9)
	assert.InDelta(t, 1.0, alice[3].Data.(ProgressPayload).Progress, 1e-9)
	reply := alice[5].Data.(MessagePayload)
	assert.Equal(t, "alice", reply.Message.PersonaID)
	assert.Equal(t, persona.DefaultMood, reply.Mood)
	assert.NotEmpty(t, reply.Message.Content)

	bob := personaEvents(events, "bob")
	require.Len(t, bob, 1)
	assert.Equal(t, EventError, bob[0].Type)
	assert.Equal(t, KindPersonaInactive, bob[0].Data.(ErrorPayload).Kind)

	done := events[len(events)-1].Data.(CompletePayload)
	assert.Equal(t, 1, done.Succeeded)
	assert.Equal(t, 1, done.Failed)

	summary := r.Wait()
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Errors, 1)
	assert.ErrorIs(t, summary.Errors[0], ErrPersonaInactive)
}

func TestUserMessagePrecedesReplies(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""), profile("bob", ""), profile("carol", ""))
	id := f.newSession(t, "alice", "bob", "carol")

	r, err := f.orch.HandleUserMessage(context.Background(), id, "what do you think?")
	require.NoError(t, err)
	summary := r.Wait()
	require.Len(t, summary.Messages, 3)

	for _, m := range summary.Messages {
		assert.Greater(t, m.Seq, summary.User.Seq)
	}

	history, err := f.sessions.GetHistory(context.Background(), id, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, "what do you think?", history[0].Content)

	persisted := f.durable.Messages(id)
	require.Len(t, persisted, 4)
	assert.Equal(t, session.RoleUser, persisted[0].Role)
	assert.Equal(t, 4, f.durable.Session(id).MessageCount)
}

func TestFailureIsIsolated(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""), profile("bob", ""), profile("carol", ""))
	f.llm.Reply = func(_ context.Context, req ai.CompletionRequest) (string, error) {
		if strings.Contains(req.SystemInstruction, "bob") {
			return "", errors.New("upstream exploded")
		}
		return "Sounds good to me.", nil
	}
	id := f.newSession(t, "alice", "bob", "carol")

	r, err := f.orch.HandleUserMessage(context.Background(), id, "ship it?")
	require.NoError(t, err)
	events := collect(t, r)

	assert.Equal(t, 2, count(events, EventMessage))
	assert.Equal(t, map[string]ErrorKind{"bob": KindGenerationFailed}, terminalKinds(events))
	assert.Equal(t, EventComplete, events[len(events)-1].Type)

	// bob started typing, so typing_end precedes the error.
	assert.Equal(t, []EventType{EventTypingStart, EventTypingEnd, EventError}, types(personaEvents(events, "bob")))

	summary := r.Wait()
	require.Len(t, summary.Errors, 1)
	assert.ErrorIs(t, summary.Errors[0], ErrGenerationFailed)
	assert.Contains(t, summary.Errors[0].Error(), "upstream exploded")
	assert.Equal(t, "GenerationFailed", f.metrics.PersonaResults["bob"])
	assert.Equal(t, "", f.metrics.PersonaResults["alice"])
}

func TestEmptyCompletionIsGenerationFailure(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""))
	f.llm.Reply = func(context.Context, ai.CompletionRequest) (string, error) { return "  \n", nil }
	id := f.newSession(t, "alice")

	r, err := f.orch.HandleUserMessage(context.Background(), id, "hi")
	require.NoError(t, err)
	summary := r.Wait()
	require.Len(t, summary.Errors, 1)
	assert.ErrorIs(t, summary.Errors[0], ai.ErrEmptyCompletion)
}

func TestTimeoutIsContained(t *testing.T) {
	const ceiling = 150 * time.Millisecond
	f := newFixture(t, ceiling, profile("alice", ""), profile("bob", ""), profile("carol", ""))

	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	f.llm.Reply = func(_ context.Context, req ai.CompletionRequest) (string, error) {
		if strings.Contains(req.SystemInstruction, "bob") {
			<-hang // ignores its context
			return "too late", nil
		}
		return "On it.", nil
	}
	id := f.newSession(t, "alice", "bob", "carol")

	began := time.Now()
	r, err := f.orch.HandleUserMessage(context.Background(), id, "status?")
	require.NoError(t, err)
	events := collect(t, r)
	elapsed := time.Since(began)

	assert.Less(t, elapsed, ceiling+time.Second)
	assert.GreaterOrEqual(t, elapsed, ceiling)
	assert.Equal(t, map[string]ErrorKind{"bob": KindTimeout}, terminalKinds(events))
	assert.Equal(t, 2, count(events, EventMessage))

	bob := personaEvents(events, "bob")
	assert.Equal(t, EventError, bob[len(bob)-1].Type)
	assert.Equal(t, EventTypingEnd, bob[len(bob)-2].Type)

	summary := r.Wait()
	require.Len(t, summary.Errors, 1)
	assert.ErrorIs(t, summary.Errors[0], ErrTimeout)
}

// staleProvider serves profiles without looking at the context.
type staleProvider struct {
	persona.Provider
}

func (s staleProvider) GetPersona(_ context.Context, id string) (*persona.Profile, error) {
	return s.Provider.GetPersona(context.Background(), id)
}

func TestExpiredDeadlineIsTimeoutAtEveryStep(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""), profile("dave", persona.StatusSleeping))
	start := &session.RoundStart{Session: &session.Session{ID: "s1"}}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	// The profile lookup fails with the context's error, not ErrNotFound.
	res := f.orch.generate(ctx, nil, start, "alice")
	require.NotNil(t, res.err)
	assert.Equal(t, KindTimeout, res.err.Kind)
	assert.ErrorIs(t, res.err, context.DeadlineExceeded)

	res = f.orch.generate(ctx, nil, start, "ghost")
	require.NotNil(t, res.err)
	assert.Equal(t, KindTimeout, res.err.Kind)

	f.orch.deps.Personas = staleProvider{Provider: f.deps.Personas}
	res = f.orch.generate(ctx, nil, start, "dave")
	require.NotNil(t, res.err)
	assert.Equal(t, KindPersonaInactive, res.err.Kind)
}

func TestInactivePersonaExcluded(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""), profile("bob", ""), profile("dave", persona.StatusArchived))
	id := f.newSession(t, "alice", "dave", "bob")

	r, err := f.orch.HandleUserMessage(context.Background(), id, "roll call")
	require.NoError(t, err)
	events := collect(t, r)

	assert.Equal(t, map[string]ErrorKind{"dave": KindPersonaInactive}, terminalKinds(events))
	assert.Equal(t, 2, count(events, EventMessage))
	assert.Len(t, personaEvents(events, "dave"), 1)

	for _, req := range f.llm.Requests() {
		assert.NotContains(t, req.SystemInstruction, "dave")
	}
}

func TestUnknownPersona(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""))
	id := f.newSession(t, "alice", "ghost")

	r, err := f.orch.HandleUserMessage(context.Background(), id, "anyone?")
	require.NoError(t, err)
	events := collect(t, r)
	assert.Equal(t, map[string]ErrorKind{"ghost": KindPersonaNotFound}, terminalKinds(events))
}

func TestSessionErrorsAbortBeforeFanOut(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""))

	_, err := f.orch.HandleUserMessage(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	id := f.newSession(t, "alice")
	require.NoError(t, f.sessions.Complete(context.Background(), id))
	_, err = f.orch.HandleUserMessage(context.Background(), id, "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, err, session.ErrSessionInactive)

	_, err = f.orch.HandleUserMessage(context.Background(), id, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	assert.Empty(t, f.llm.Requests())
}

func TestDetachedRoundStillPersists(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""), profile("bob", ""))
	release := make(chan struct{})
	f.llm.Reply = func(context.Context, ai.CompletionRequest) (string, error) {
		<-release
		return "Still here.", nil
	}
	id := f.newSession(t, "alice", "bob")

	ctx, cancel := context.WithCancel(context.Background())
	r, err := f.orch.HandleUserMessage(ctx, id, "are you there?")
	require.NoError(t, err)
	r.Detach()
	cancel()
	close(release)

	summary := r.Wait()
	assert.Equal(t, 2, summary.Succeeded)

	events := collect(t, r)
	require.NotEmpty(t, events)
	assert.Equal(t, EventAck, events[0].Type)
	for _, ev := range events[1:] {
		assert.Equal(t, EventTypingStart, ev.Type, "nothing after typing_start reaches a detached caller")
	}
	assert.Len(t, f.durable.Messages(id), 3)
}

// snapshotStore records the history snapshot handed to every round.
type snapshotStore struct {
	session.SessionStore

	mu        sync.Mutex
	snapshots [][]session.Message
}

func (s *snapshotStore) BeginRound(ctx context.Context, id string, user session.Message) (*session.RoundStart, error) {
	start, err := s.SessionStore.BeginRound(ctx, id, user)
	if err == nil {
		s.mu.Lock()
		s.snapshots = append(s.snapshots, start.History)
		s.mu.Unlock()
	}
	return start, err
}

func TestConcurrentRoundsOnOneSession(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""), profile("bob", ""))
	id := f.newSession(t, "alice", "bob")

	recorder := &snapshotStore{SessionStore: f.sessions}
	deps := f.deps
	deps.Sessions = recorder
	orch, err := New(deps)
	require.NoError(t, err)
	t.Cleanup(orch.Wait)

	const rounds = 5
	summaries := make([]*Summary, rounds)
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := orch.HandleUserMessage(context.Background(), id, fmt.Sprintf("message %d", i))
			if assert.NoError(t, err) {
				summaries[i] = r.Wait()
			}
		}(i)
	}
	wg.Wait()

	history, err := f.sessions.GetHistory(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Len(t, history, rounds*3)
	for _, s := range summaries {
		require.NotNil(t, s)
		require.Len(t, s.Messages, 2)
		for _, m := range s.Messages {
			assert.Greater(t, m.Seq, s.User.Seq)
		}
	}
	assert.Equal(t, rounds, f.metrics.Completed)

	// Every snapshot is a prefix of the final history.
	require.Len(t, recorder.snapshots, rounds)
	for _, snapshot := range recorder.snapshots {
		require.LessOrEqual(t, len(snapshot), len(history))
		for i, m := range snapshot {
			assert.Equal(t, history[i].ID, m.ID)
			assert.Equal(t, history[i].Seq, m.Seq)
		}
	}
}

func TestSessionExpiryMidRoundRehydrates(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""), profile("bob", ""))
	id := f.newSession(t, "alice", "bob")

	var once sync.Once
	f.llm.Reply = func(ctx context.Context, _ ai.CompletionRequest) (string, error) {
		once.Do(func() {
			assert.NoError(t, f.svc.Invalidate(ctx, "session:*"))
		})
		return "Still with you.", nil
	}

	r, err := f.orch.HandleUserMessage(context.Background(), id, "hold on")
	require.NoError(t, err)
	events := collect(t, r)
	assert.Equal(t, EventComplete, events[len(events)-1].Type)

	summary := r.Wait()
	assert.Equal(t, 2, summary.Succeeded)
	require.Len(t, summary.Messages, 2)

	history, err := f.sessions.GetHistory(context.Background(), id, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, "hold on", history[0].Content)
	for i, m := range history {
		assert.Equal(t, int64(i+1), m.Seq)
	}
	assert.Len(t, f.durable.Messages(id), 3)
}

func TestSessionExpiryMidRoundWithoutDurableStore(t *testing.T) {
	f := newFixtureWithDurable(t, nil, time.Second, profile("alice", ""), profile("bob", ""))
	id := f.newSession(t, "alice", "bob")

	var once sync.Once
	f.llm.Reply = func(ctx context.Context, _ ai.CompletionRequest) (string, error) {
		once.Do(func() {
			assert.NoError(t, f.svc.Invalidate(ctx, "session:*"))
		})
		return "Still with you.", nil
	}

	r, err := f.orch.HandleUserMessage(context.Background(), id, "hold on")
	require.NoError(t, err)
	events := collect(t, r)
	assert.Equal(t, 2, count(events, EventMessage))
	assert.Equal(t, EventComplete, events[len(events)-1].Type)

	summary := r.Wait()
	assert.Equal(t, 2, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	require.Len(t, summary.Messages, 2)
	for _, m := range summary.Messages {
		assert.Zero(t, m.Seq, "replies of a vanished session are never sequenced")
		assert.Equal(t, "Still with you.", m.Content)
	}

	_, err = f.sessions.Get(context.Background(), id)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestRequestCarriesHistory(t *testing.T) {
	f := newFixture(t, time.Second, profile("alice", ""), profile("bob", ""))
	f.llm.Reply = func(_ context.Context, req ai.CompletionRequest) (string, error) {
		if strings.Contains(req.SystemInstruction, "alice") {
			return "Alice here.", nil
		}
		return "Bob here.", nil
	}
	id := f.newSession(t, "alice", "bob")

	r, err := f.orch.HandleUserMessage(context.Background(), id, "hello")
	require.NoError(t, err)
	r.Wait()

	r, err = f.orch.HandleUserMessage(context.Background(), id, "again")
	require.NoError(t, err)
	r.Wait()

	var aliceReq *ai.CompletionRequest
	for _, req := range f.llm.Requests() {
		if req.UserText == "again" && strings.Contains(req.SystemInstruction, "alice") {
			aliceReq = &req
		}
	}
	require.NotNil(t, aliceReq)
	assert.Equal(t, []ai.Message{
		ai.UserMessage("hello"),
		ai.AssistantMessage("Alice here."),
		ai.UserMessage("[bob] Bob here."),
	}, aliceReq.History)
	assert.Equal(t, 0.7, aliceReq.Params.Temperature)
	assert.Equal(t, 128, aliceReq.Params.MaxTokens)
}

func TestEmotionAndHumanization(t *testing.T) {
	p := profile("alice", "")
	p.Emotional.FrustrationTriggers = []string{"deadline"}
	p.Vocabulary.Substitutions = []persona.Substitution{{Word: "utilize", Replacement: "use"}}
	f := newFixture(t, time.Second, p)
	f.llm.Reply = func(context.Context, ai.CompletionRequest) (string, error) {
		return "We should **utilize** the weekend.", nil
	}
	id := f.newSession(t, "alice")

	r, err := f.orch.HandleUserMessage(context.Background(), id, "The DEADLINE moved up")
	require.NoError(t, err)
	summary := r.Wait()
	require.Len(t, summary.Messages, 1)
	assert.Equal(t, "We should use the weekend.", summary.Messages[0].Content)
	assert.Equal(t, persona.EmotionFrustrated, summary.Messages[0].Emotion)
	assert.Equal(t, int64(10), summary.Messages[0].DelayMs)
}
