package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultIdleTimeout is how long a session may stay silent before it is completed.
	DefaultIdleTimeout = 24 * time.Hour
	// DefaultSweepInterval is the default interval between idle sweeps.
	DefaultSweepInterval = 10 * time.Minute
)

// CleanupConfig holds configuration for the idle-session job.
type CleanupConfig struct {
	IdleTimeout   time.Duration // Inactivity after which a session is completed (default: 24h)
	SweepInterval time.Duration // Interval between sweeps (default: 10m)
	Now           func() time.Time
	Logger        *slog.Logger
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		IdleTimeout:   DefaultIdleTimeout,
		SweepInterval: DefaultSweepInterval,
	}
}

// SessionCleanupJob periodically completes sessions that have gone idle.
type SessionCleanupJob struct {
	sessions SessionStore
	config   CleanupConfig

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewSessionCleanupJob creates a new cleanup job.
func NewSessionCleanupJob(sessions SessionStore, config CleanupConfig) *SessionCleanupJob {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &SessionCleanupJob{
		sessions: sessions,
		config:   config,
	}
}

// Start begins the periodic sweep in a goroutine.
func (j *SessionCleanupJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil // Already running
	}

	j.running = true
	j.stopChan = make(chan struct{})
	j.done = make(chan struct{})

	go j.run(ctx, j.stopChan, j.done)

	j.config.Logger.Info("session cleanup job started",
		"idle_timeout", j.config.IdleTimeout,
		"interval", j.config.SweepInterval)

	return nil
}

// Stop stops the job and waits for an in-progress sweep to finish.
func (j *SessionCleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopChan)
	j.running = false
	done := j.done
	j.mu.Unlock()

	<-done
	j.config.Logger.Info("session cleanup job stopped")
}

// Run blocks until ctx is done, sweeping on every interval.
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	if err := j.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	j.Stop()
	return nil
}

// RunOnce executes a single sweep immediately and returns the number of
// sessions it completed.
func (j *SessionCleanupJob) RunOnce(ctx context.Context) (int, error) {
	return j.sweep(ctx)
}

// IsRunning returns whether the cleanup job is currently running.
func (j *SessionCleanupJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *SessionCleanupJob) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.markStopped(stop)
			return
		case <-stop:
			return
		case <-ticker.C:
			if completed, err := j.sweep(ctx); err != nil {
				j.config.Logger.Error("session cleanup failed", "error", err)
			} else if completed > 0 {
				j.config.Logger.Info("session cleanup completed", "completed", completed)
			}
		}
	}
}

// markStopped clears the running flag when the context ends the loop.
func (j *SessionCleanupJob) markStopped(stop <-chan struct{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopChan == stop {
		j.running = false
	}
}

func (j *SessionCleanupJob) sweep(ctx context.Context) (int, error) {
	cutoff := j.config.Now().Add(-j.config.IdleTimeout)
	ids, err := j.sessions.ListIdle(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, id := range ids {
		if err := j.sessions.Complete(ctx, id); err != nil {
			j.config.Logger.Warn("failed to complete idle session", "session_id", id, "error", err)
			continue
		}
		completed++
	}
	return completed, nil
}
