package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MockDurable is an in-memory Durable for tests.
type MockDurable struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]Message

	// SaveErr, when set, fails every SaveMessages call.
	SaveErr error
	saves   int
}

// NewMockDurable creates an empty MockDurable.
func NewMockDurable() *MockDurable {
	return &MockDurable{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
	}
}

func (m *MockDurable) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return errors.New("duplicate session")
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MockDurable) LoadSession(_ context.Context, id string, limit int) (*Session, []Message, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil, 0, ErrSessionNotFound
	}
	all := m.messages[id]
	next := int64(1)
	for _, msg := range all {
		if msg.Seq >= next {
			next = msg.Seq + 1
		}
	}
	return s.Clone(), tail(all, limit), next, nil
}

func (m *MockDurable) SaveMessages(_ context.Context, sessionID string, msgs []Message, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	all := append(m.messages[sessionID], msgs...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	m.messages[sessionID] = all
	s.MessageCount += len(msgs)
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	m.saves++
	return nil
}

func (m *MockDurable) UpdateStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = status
	return nil
}

func (m *MockDurable) TouchSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	return nil
}

func (m *MockDurable) ListIdle(_ context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.IsActive() && s.LastActivity.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Messages returns every persisted message of a session in sequence order.
func (m *MockDurable) Messages(sessionID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages[sessionID]...)
}

// Session returns the persisted session row.
func (m *MockDurable) Session(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Clone()
	}
	return nil
}

// Saves returns the number of successful SaveMessages calls.
func (m *MockDurable) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var _ Durable = (*MockDurable)(nil)
