package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and aggregates counters for conversation rounds.
type Metrics struct {
	mu sync.Mutex

	roundTotal     atomic.Int64
	roundCompleted atomic.Int64
	personaSuccess atomic.Int64
	personaFailed  atomic.Int64
	streamEvents   atomic.Int64

	personaMetrics map[string]*PersonaMetrics
	failureKinds   map[string]int64

	// round durations, bounded FIFO
	durations    []time.Duration
	maxDurations int
}

// PersonaMetrics represents metrics for a single persona.
type PersonaMetrics struct {
	replyCount    atomic.Int64
	totalDuration atomic.Int64 // milliseconds
	errorCount    atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		personaMetrics: make(map[string]*PersonaMetrics),
		failureKinds:   make(map[string]int64),
		durations:      make([]time.Duration, 0, maxDurations),
		maxDurations:   maxDurations,
	}
}

// RecordRound records that a round was started.
func (m *Metrics) RecordRound(sessionID string) {
	m.roundTotal.Add(1)
}

// RecordPersonaResult records a persona's terminal outcome. An empty kind means success.
func (m *Metrics) RecordPersonaResult(personaID, kind string, duration time.Duration) {
	pm := m.getPersonaMetrics(personaID)
	pm.totalDuration.Add(duration.Milliseconds())
	if kind == "" {
		m.personaSuccess.Add(1)
		pm.replyCount.Add(1)
		return
	}
	m.personaFailed.Add(1)
	pm.errorCount.Add(1)

	m.mu.Lock()
	m.failureKinds[kind]++
	m.mu.Unlock()
}

// RecordRoundComplete records a finished round and its duration.
func (m *Metrics) RecordRoundComplete(duration time.Duration, succeeded, failed int) {
	m.roundCompleted.Add(1)

	m.mu.Lock()
	if len(m.durations) >= m.maxDurations {
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)
	m.mu.Unlock()
}

// RecordStreamEvent records an event written to a client stream.
func (m *Metrics) RecordStreamEvent() {
	m.streamEvents.Add(1)
}

func (m *Metrics) getPersonaMetrics(personaID string) *PersonaMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm, ok := m.personaMetrics[personaID]
	if !ok {
		pm = &PersonaMetrics{}
		m.personaMetrics[personaID] = pm
	}
	return pm
}

// Reset resets all metrics.
func (m *Metrics) Reset() {
	m.roundTotal.Store(0)
	m.roundCompleted.Store(0)
	m.personaSuccess.Store(0)
	m.personaFailed.Store(0)
	m.streamEvents.Store(0)

	m.mu.Lock()
	m.personaMetrics = make(map[string]*PersonaMetrics)
	m.failureKinds = make(map[string]int64)
	m.durations = make([]time.Duration, 0, m.maxDurations)
	m.mu.Unlock()
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	personas := make(map[string]*PersonaMetricsSnapshot, len(m.personaMetrics))
	for id, pm := range m.personaMetrics {
		snap := &PersonaMetricsSnapshot{
			ReplyCount: pm.replyCount.Load(),
			ErrorCount: pm.errorCount.Load(),
		}
		if n := snap.ReplyCount + snap.ErrorCount; n > 0 {
			snap.AverageDurationMs = pm.totalDuration.Load() / n
		}
		personas[id] = snap
	}

	kinds := make(map[string]int64, len(m.failureKinds))
	for k, v := range m.failureKinds {
		kinds[k] = v
	}

	var p50 int64
	if len(m.durations) > 0 {
		sorted := make([]time.Duration, len(m.durations))
		copy(sorted, m.durations)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		p50 = sorted[len(sorted)/2].Milliseconds()
	}

	return &MetricsSnapshot{
		RoundTotal:       m.roundTotal.Load(),
		RoundCompleted:   m.roundCompleted.Load(),
		PersonaSuccess:   m.personaSuccess.Load(),
		PersonaFailed:    m.personaFailed.Load(),
		StreamEvents:     m.streamEvents.Load(),
		FailureKinds:     kinds,
		Personas:         personas,
		RoundDurationP50: p50,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	RoundTotal       int64                              `json:"roundTotal"`
	RoundCompleted   int64                              `json:"roundCompleted"`
	PersonaSuccess   int64                              `json:"personaSuccess"`
	PersonaFailed    int64                              `json:"personaFailed"`
	StreamEvents     int64                              `json:"streamEvents"`
	FailureKinds     map[string]int64                   `json:"failureKinds"`
	Personas         map[string]*PersonaMetricsSnapshot `json:"personas"`
	RoundDurationP50 int64                              `json:"roundDurationP50Ms"`
}

// PersonaMetricsSnapshot represents metrics for a single persona.
type PersonaMetricsSnapshot struct {
	ReplyCount        int64 `json:"replyCount"`
	ErrorCount        int64 `json:"errorCount"`
	AverageDurationMs int64 `json:"averageDurationMs"`
}

// SuccessRate returns the persona success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	total := s.PersonaSuccess + s.PersonaFailed
	if total == 0 {
		return 100.0
	}
	return float64(s.PersonaSuccess) / float64(total) * 100.0
}
