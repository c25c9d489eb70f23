package orchestrator

import (
	"sync"
	"time"
)

// MockRecorder records every Recorder call for tests.
type MockRecorder struct {
	mu             sync.Mutex
	Rounds         []string
	PersonaResults map[string]string // persona id -> last kind, "" for success
	Completed      int
	Succeeded      int
	Failed         int
}

// NewMockRecorder creates an empty MockRecorder.
func NewMockRecorder() *MockRecorder {
	return &MockRecorder{PersonaResults: make(map[string]string)}
}

func (m *MockRecorder) RecordRound(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rounds = append(m.Rounds, sessionID)
}

func (m *MockRecorder) RecordPersonaResult(personaID, kind string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersonaResults[personaID] = kind
}

func (m *MockRecorder) RecordRoundComplete(_ time.Duration, succeeded, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Completed++
	m.Succeeded += succeeded
	m.Failed += failed
}

var _ Recorder = (*MockRecorder)(nil)
