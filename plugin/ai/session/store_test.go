package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/pandemonium/plugin/ai/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, durable Durable, limit int) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	svc := cache.NewService(cache.ServiceConfig{Now: clock.Now})
	t.Cleanup(svc.Close)
	s := NewStore(svc, durable, Config{
		TTL:          time.Hour,
		HistoryLimit: limit,
		Now:          clock.Now,
	})
	return s, clock
}

func assistant(persona, content string) Message {
	return Message{PersonaID: persona, Role: RoleAssistant, Content: content}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, nil, 50)

	sess, err := s.Create(ctx, []string{"alice", "bob", "alice"}, "admin", "standup")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, []string{"alice", "bob"}, sess.PersonaIDs)
	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, clock.Now(), sess.CreatedAt)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.PersonaIDs, got.PersonaIDs)
	assert.Equal(t, "standup", got.Name)

	tests := []struct {
		name string
		ids  []string
	}{
		{"no personas", nil},
		{"blank persona", []string{"alice", " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.ids, "admin", "x")
			assert.ErrorIs(t, err, ErrInvalidSession)
		})
	}

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBeginRoundSnapshotsPriorHistory(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil, 50)
	sess, err := s.Create(ctx, []string{"alice"}, "admin", "")
	require.NoError(t, err)

	first, err := s.BeginRound(ctx, sess.ID, Message{Content: "hello"})
	require.NoError(t, err)
	assert.Empty(t, first.History)
	assert.Equal(t, int64(1), first.User.Seq)
	assert.Equal(t, RoleUser, first.User.Role)
	assert.NotEmpty(t, first.User.ID)
	assert.Equal(t, sess.ID, first.User.SessionID)

	replies, err := s.AppendHistory(ctx, sess.ID, assistant("alice", "hi"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, int64(2), replies[0].Seq)

	second, err := s.BeginRound(ctx, sess.ID, Message{Content: "how are you"})
	require.NoError(t, err)
	require.Len(t, second.History, 2)
	assert.Equal(t, "hello", second.History[0].Content)
	assert.Equal(t, "hi", second.History[1].Content)
	assert.Equal(t, int64(3), second.User.Seq)
	assert.Equal(t, 3, second.Session.MessageCount)
}

func TestGetHistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil, 50)
	sess, err := s.Create(ctx, []string{"alice"}, "admin", "")
	require.NoError(t, err)

	for i := 1; i <= 60; i++ {
		_, err := s.AppendHistory(ctx, sess.ID, assistant("alice", fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	history, err := s.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 50)
	assert.Equal(t, "m11", history[0].Content)
	assert.Equal(t, "m60", history[49].Content)
	for i := 1; i < len(history); i++ {
		assert.Less(t, history[i-1].Seq, history[i].Seq)
	}

	recent, err := s.GetHistory(ctx, sess.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "m58", recent[0].Content)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.MessageCount)
}

func TestConcurrentRoundsKeepEveryMessage(t *testing.T) {
	ctx := context.Background()
	durable := NewMockDurable()
	s, _ := newTestStore(t, durable, 200)
	sess, err := s.Create(ctx, []string{"alice", "bob"}, "admin", "")
	require.NoError(t, err)

	const rounds = 20
	var wg sync.WaitGroup
	for r := 0; r < rounds; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			start, err := s.BeginRound(ctx, sess.ID, Message{Content: fmt.Sprintf("u%d", r)})
			if !assert.NoError(t, err) {
				return
			}
			replies, err := s.AppendHistory(ctx, sess.ID,
				assistant("alice", fmt.Sprintf("a%d", r)),
				assistant("bob", fmt.Sprintf("b%d", r)),
			)
			if assert.NoError(t, err) {
				for _, m := range replies {
					assert.Greater(t, m.Seq, start.User.Seq)
				}
			}
		}(r)
	}
	wg.Wait()

	history, err := s.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, rounds*3)

	seen := make(map[int64]bool)
	for i, m := range history {
		assert.False(t, seen[m.Seq], "duplicate seq %d", m.Seq)
		seen[m.Seq] = true
		if i > 0 {
			assert.Less(t, history[i-1].Seq, m.Seq)
		}
	}

	assert.Len(t, durable.Messages(sess.ID), rounds*3)
	assert.Equal(t, rounds*3, durable.Session(sess.ID).MessageCount)
}

func TestRehydrateAfterExpiry(t *testing.T) {
	ctx := context.Background()
	durable := NewMockDurable()
	s, clock := newTestStore(t, durable, 50)
	sess, err := s.Create(ctx, []string{"alice"}, "admin", "")
	require.NoError(t, err)

	_, err = s.BeginRound(ctx, sess.ID, Message{Content: "hello"})
	require.NoError(t, err)
	_, err = s.AppendHistory(ctx, sess.ID, assistant("alice", "hi"))
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)

	start, err := s.BeginRound(ctx, sess.ID, Message{Content: "still there?"})
	require.NoError(t, err)
	require.Len(t, start.History, 2)
	assert.Equal(t, int64(3), start.User.Seq)
}

func TestExpiryWithoutDurable(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, nil, 50)
	sess, err := s.Create(ctx, []string{"alice"}, "admin", "")
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	require.NoError(t, s.Touch(ctx, sess.ID))

	clock.Advance(45 * time.Minute)
	_, err = s.Get(ctx, sess.ID)
	require.NoError(t, err, "touch renews the TTL")

	clock.Advance(61 * time.Minute)
	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = s.AppendHistory(ctx, sess.ID, assistant("alice", "late"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCompleteRejectsNewRounds(t *testing.T) {
	ctx := context.Background()
	durable := NewMockDurable()
	s, _ := newTestStore(t, durable, 50)
	sess, err := s.Create(ctx, []string{"alice"}, "admin", "")
	require.NoError(t, err)

	require.NoError(t, s.Complete(ctx, sess.ID))
	require.NoError(t, s.Complete(ctx, sess.ID))
	assert.Equal(t, StatusCompleted, durable.Session(sess.ID).Status)

	_, err = s.BeginRound(ctx, sess.ID, Message{Content: "hello"})
	assert.ErrorIs(t, err, ErrSessionInactive)

	// Replies of a round that began before completion are still kept.
	_, err = s.AppendHistory(ctx, sess.ID, assistant("alice", "bye"))
	assert.NoError(t, err)
}

func TestBeginRoundPersistFailureLeavesHistory(t *testing.T) {
	ctx := context.Background()
	durable := NewMockDurable()
	s, _ := newTestStore(t, durable, 50)
	sess, err := s.Create(ctx, []string{"alice"}, "admin", "")
	require.NoError(t, err)

	durable.SaveErr = errors.New("disk full")
	_, err = s.BeginRound(ctx, sess.ID, Message{Content: "hello"})
	require.Error(t, err)

	history, err := s.GetHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	durable.SaveErr = nil
	start, err := s.BeginRound(ctx, sess.ID, Message{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), start.User.Seq)
}

func TestListIdle(t *testing.T) {
	ctx := context.Background()
	durable := NewMockDurable()
	s, clock := newTestStore(t, durable, 50)

	old, err := s.Create(ctx, []string{"alice"}, "admin", "old")
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	fresh, err := s.Create(ctx, []string{"alice"}, "admin", "fresh")
	require.NoError(t, err)
	done, err := s.Create(ctx, []string{"alice"}, "admin", "done")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, done.ID))

	ids, err := s.ListIdle(ctx, clock.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, ids)
	assert.NotContains(t, ids, fresh.ID)
}
