package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/pandemonium/plugin/ai/cache"
	"github.com/hrygo/pandemonium/plugin/ai/timeout"
)

const (
	cachePrefix = "session:"

	// DefaultTTL is how long an untouched session stays cached.
	DefaultTTL = time.Hour
	// DefaultHistoryLimit is the size of the rolling history window.
	DefaultHistoryLimit = 50

	lockStripes = 256
)

// Config configures the session store.
type Config struct {
	TTL          time.Duration
	HistoryLimit int
	// Now overrides the clock in tests.
	Now    func() time.Time
	Logger *slog.Logger
}

// entry is the cached form of a session.
type entry struct {
	Session *Session  `json:"session"`
	History []Message `json:"history"`
	NextSeq int64     `json:"nextSeq"`
}

// Store implements SessionStore over a TTL cache, writing through to an
// optional Durable and rehydrating from it on cache misses.
type Store struct {
	cache   cache.Cache
	durable Durable
	ttl     time.Duration
	limit   int
	now     func() time.Time
	logger  *slog.Logger

	locks [lockStripes]sync.Mutex
}

var _ SessionStore = (*Store)(nil)

// NewStore creates a session store. durable may be nil, in which case a
// session lives only as long as its cache entry.
func NewStore(c cache.Cache, durable Durable, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		cache:   c,
		durable: durable,
		ttl:     cfg.TTL,
		limit:   cfg.HistoryLimit,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

// HistoryLimit returns the size of the rolling history window.
func (s *Store) HistoryLimit() int {
	return s.limit
}

// lock serializes all mutations of one session.
func (s *Store) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &s.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// Create starts an active session. Persona IDs keep their order; duplicates are dropped.
func (s *Store) Create(ctx context.Context, personaIDs []string, ownerID, name string) (*Session, error) {
	ids := make([]string, 0, len(personaIDs))
	seen := make(map[string]struct{}, len(personaIDs))
	for _, id := range personaIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: empty persona id", ErrInvalidSession)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one persona is required", ErrInvalidSession)
	}

	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		Name:         name,
		OwnerID:      ownerID,
		PersonaIDs:   ids,
		Status:       StatusActive,
		LastActivity: now,
		CreatedAt:    now,
	}

	if s.durable != nil {
		if err := s.durable.CreateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}

	unlock := s.lock(sess.ID)
	defer unlock()
	if err := s.save(ctx, &entry{Session: sess, History: []Message{}, NextSeq: 1}); err != nil {
		return nil, err
	}

	s.logger.Info("session created",
		"session_id", sess.ID,
		"owner_id", ownerID,
		"personas", len(ids),
	)
	return sess.Clone(), nil
}

// Get returns a copy of the session metadata.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	unlock := s.lock(id)
	defer unlock()

	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Session.Clone(), nil
}

// BeginRound appends the user message and returns the history that preceded it.
// The user message is persisted before the call returns; a persistence
// failure leaves the session untouched.
// Rounds on one session are ordered by their user messages only. The
// snapshot holds every earlier user message, but replies of a round still
// in flight land after it and are not part of it.
func (s *Store) BeginRound(ctx context.Context, id string, user Message) (*RoundStart, error) {
	unlock := s.lock(id)
	defer unlock()

	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Session.IsActive() {
		return nil, ErrSessionInactive
	}

	snapshot := append([]Message(nil), e.History...)

	user.Role = RoleUser
	user.PersonaID = ""
	now := s.now()
	appended := s.stamp(e, now, user)

	if s.durable != nil {
		pctx, cancel := persistContext(ctx)
		defer cancel()
		if err := s.durable.SaveMessages(pctx, id, appended, now); err != nil {
			return nil, fmt.Errorf("persist user message: %w", err)
		}
	}

	s.push(e, now, appended)
	if err := s.save(ctx, e); err != nil {
		return nil, err
	}

	return &RoundStart{
		Session: e.Session.Clone(),
		User:    appended[0],
		History: snapshot,
	}, nil
}

// AppendHistory appends messages after every message already in the session.
// The cache is updated first; a durable write failure is returned after the
// in-memory history already holds the messages.
func (s *Store) AppendHistory(ctx context.Context, id string, msgs ...Message) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	unlock := s.lock(id)
	defer unlock()

	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	appended := s.stamp(e, now, msgs...)
	s.push(e, now, appended)
	if err := s.save(ctx, e); err != nil {
		return nil, err
	}

	if s.durable != nil {
		pctx, cancel := persistContext(ctx)
		defer cancel()
		if err := s.durable.SaveMessages(pctx, id, appended, now); err != nil {
			return appended, fmt.Errorf("persist messages: %w", err)
		}
	}
	return appended, nil
}

// GetHistory returns up to limit of the most recent messages, oldest first.
func (s *Store) GetHistory(ctx context.Context, id string, limit int) ([]Message, error) {
	unlock := s.lock(id)
	defer unlock()

	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return tail(e.History, limit), nil
}

// Touch records activity now and renews the cache TTL.
func (s *Store) Touch(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	e, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	if now.After(e.Session.LastActivity) {
		e.Session.LastActivity = now
	}
	if err := s.save(ctx, e); err != nil {
		return err
	}
	if s.durable != nil {
		pctx, cancel := persistContext(ctx)
		defer cancel()
		if err := s.durable.TouchSession(pctx, id, now); err != nil {
			return fmt.Errorf("persist activity: %w", err)
		}
	}
	return nil
}

// Complete marks the session completed.
func (s *Store) Complete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	e, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !e.Session.IsActive() {
		return nil
	}

	if s.durable != nil {
		pctx, cancel := persistContext(ctx)
		defer cancel()
		if err := s.durable.UpdateStatus(pctx, id, StatusCompleted); err != nil {
			return fmt.Errorf("persist status: %w", err)
		}
	}
	e.Session.Status = StatusCompleted
	if err := s.save(ctx, e); err != nil {
		return err
	}

	s.logger.Info("session completed", "session_id", id, "messages", e.Session.MessageCount)
	return nil
}

// ListIdle returns active sessions, cached or durable, idle since before the cutoff.
func (s *Store) ListIdle(ctx context.Context, before time.Time) ([]string, error) {
	seen := make(map[string]struct{})

	for _, key := range s.cache.Keys(ctx, cachePrefix) {
		data, ok := s.cache.Get(ctx, key)
		if !ok {
			continue
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil || e.Session == nil {
			continue
		}
		if e.Session.IsActive() && e.Session.LastActivity.Before(before) {
			seen[e.Session.ID] = struct{}{}
		}
	}

	if s.durable != nil {
		ids, err := s.durable.ListIdle(ctx, before)
		if err != nil {
			return nil, fmt.Errorf("list idle sessions: %w", err)
		}
		for _, id := range ids {
			if _, cached := s.cache.Get(ctx, cachePrefix+id); cached {
				// The cached copy is authoritative for activity since the last durable touch.
				continue
			}
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// stamp fills in identity, session, time and sequence fields.
func (s *Store) stamp(e *entry, now time.Time, msgs ...Message) []Message {
	out := make([]Message, 0, len(msgs))
	next := e.NextSeq
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = shortuuid.New()
		}
		m.SessionID = e.Session.ID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.Seq = next
		next++
		out = append(out, m)
	}
	return out
}

// push appends stamped messages and drops the oldest beyond the window.
func (s *Store) push(e *entry, now time.Time, msgs []Message) {
	e.History = append(e.History, msgs...)
	if over := len(e.History) - s.limit; over > 0 {
		e.History = append([]Message(nil), e.History[over:]...)
	}
	e.NextSeq += int64(len(msgs))
	e.Session.MessageCount += len(msgs)
	if now.After(e.Session.LastActivity) {
		e.Session.LastActivity = now
	}
}

// load returns the cached entry, rehydrating it from the durable store on a miss.
// Callers must hold the session lock.
func (s *Store) load(ctx context.Context, id string) (*entry, error) {
	if data, ok := s.cache.Get(ctx, cachePrefix+id); ok {
		var e entry
		if err := json.Unmarshal(data, &e); err == nil && e.Session != nil {
			return &e, nil
		}
		s.logger.Warn("dropping unreadable session cache entry", "session_id", id)
	}

	if s.durable == nil {
		return nil, ErrSessionNotFound
	}

	sess, history, next, err := s.durable.LoadSession(ctx, id, s.limit)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if history == nil {
		history = []Message{}
	}
	e := &entry{Session: sess, History: history, NextSeq: next}
	if err := s.save(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Debug("session rehydrated", "session_id", id, "messages", len(history), "next_seq", next)
	return e, nil
}

func (s *Store) save(ctx context.Context, e *entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", e.Session.ID, err)
	}
	if err := s.cache.Set(ctx, cachePrefix+e.Session.ID, data, s.ttl); err != nil {
		return fmt.Errorf("cache session %s: %w", e.Session.ID, err)
	}
	return nil
}

func tail(history []Message, limit int) []Message {
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	return append([]Message{}, history[len(history)-limit:]...)
}

// persistContext detaches durable writes from the caller so a dropped
// client connection does not abort them.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout.PersistTimeout)
}
