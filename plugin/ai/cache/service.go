package cache

import (
	"context"
	"sync"
	"time"
)

// ServiceConfig sizes the live-session cache.
type ServiceConfig struct {
	// Capacity bounds the number of cached sessions. The least recently
	// used session is dropped first and rehydrates from the durable store.
	Capacity int
	// SessionTTL is how long an idle session stays cached.
	SessionTTL time.Duration
	// SweepInterval is how often expired sessions are purged.
	SweepInterval time.Duration
	Now           func() time.Time
}

// DefaultServiceConfig holds room for 10k sessions idle for up to an hour.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Capacity:      10000,
		SessionTTL:    time.Hour,
		SweepInterval: time.Minute,
	}
}

// Service is the session store's L1. A sweeper goroutine purges sessions
// whose TTL ran out, so memory tracks the number of live conversations
// rather than every session ever opened.
// Service 是会话存储的一级缓存，后台定期清理过期会话。
type Service struct {
	lru   *LRUCache
	every time.Duration

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewService(cfg ServiceConfig) *Service {
	def := DefaultServiceConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	lru := NewLRUCache(cfg.Capacity, cfg.SessionTTL)
	if cfg.Now != nil {
		lru.WithClock(cfg.Now)
	}

	s := &Service{lru: lru, every: cfg.SweepInterval, stop: make(chan struct{})}
	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

// Close stops the sweeper. Safe to call more than once.
func (s *Service) Close() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Service) Get(_ context.Context, key string) ([]byte, bool) {
	return s.lru.Get(key)
}

func (s *Service) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.lru.Set(key, value, ttl)
	return nil
}

// Touch extends a session's stay in the cache after activity.
func (s *Service) Touch(_ context.Context, key string, ttl time.Duration) bool {
	return s.lru.Touch(key, ttl)
}

// Keys lists cached sessions under prefix. The idle scan walks these.
func (s *Service) Keys(_ context.Context, prefix string) []string {
	return s.lru.Keys(prefix)
}

// Invalidate evicts one key, or every key under a prefix given as "prefix*".
// Evicted sessions stay readable through rehydration when a durable store exists.
func (s *Service) Invalidate(_ context.Context, pattern string) error {
	s.lru.Invalidate(pattern)
	return nil
}

// Size is the number of cached sessions, expired ones not yet swept included.
func (s *Service) Size() int {
	return s.lru.Size()
}

// Sweep purges expired sessions now and reports how many went.
func (s *Service) Sweep() int {
	return s.lru.CleanupExpired()
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

var _ Cache = (*Service)(nil)
