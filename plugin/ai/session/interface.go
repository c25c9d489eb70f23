// Package session keeps live conversation sessions and their bounded rolling history.
//
// 会话存储：会话元数据与最近 K 条消息保存在 TTL 缓存中，缓存失效后可从持久层恢复。
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session is neither cached nor durable.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInactive is returned when a round is started on a completed session.
	ErrSessionInactive = errors.New("session is not active")
	// ErrInvalidSession is returned when a session cannot be created as requested.
	ErrInvalidSession = errors.New("invalid session")
)

// Status is the lifecycle status of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Role is the author role of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is the metadata of one multi-persona conversation.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OwnerID      string    `json:"ownerID"`
	PersonaIDs   []string  `json:"personaIDs"`
	Status       Status    `json:"status"`
	MessageCount int       `json:"messageCount"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsActive reports whether the session accepts new rounds.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.PersonaIDs = append([]string(nil), s.PersonaIDs...)
	return &c
}

// Message is one immutable entry of a conversation history.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	// PersonaID is empty for messages from the human user.
	PersonaID string    `json:"personaID,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Emotion   string    `json:"emotion,omitempty"`
	DelayMs   int64     `json:"delayMs,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	// Seq is the arrival position within the session, assigned on append.
	Seq int64 `json:"seq,omitempty"`
}

// RoundStart is the state a round works from: the session as of the round's
// user message, that message with its sequence number, and the history that
// preceded it.
type RoundStart struct {
	Session *Session
	User    Message
	History []Message
}

// SessionStore is the contract the orchestrator and the API rely on.
type SessionStore interface {
	// Create starts an active session with a fixed set of personas.
	Create(ctx context.Context, personaIDs []string, ownerID, name string) (*Session, error)

	// Get returns a copy of the session metadata.
	Get(ctx context.Context, id string) (*Session, error)

	// BeginRound appends the user message and snapshots the prior history
	// in one critical section.
	BeginRound(ctx context.Context, id string, user Message) (*RoundStart, error)

	// AppendHistory appends messages in the given order and returns them
	// with sequence numbers assigned.
	AppendHistory(ctx context.Context, id string, msgs ...Message) ([]Message, error)

	// GetHistory returns the most recent messages, oldest first.
	// limit <= 0 means the whole retained window.
	GetHistory(ctx context.Context, id string, limit int) ([]Message, error)

	// Touch records activity and renews the session TTL.
	Touch(ctx context.Context, id string) error

	// Complete marks the session completed. Completing twice is a no-op.
	Complete(ctx context.Context, id string) error

	// ListIdle returns active sessions whose last activity is before the cutoff.
	ListIdle(ctx context.Context, before time.Time) ([]string, error)
}

// Durable is the append-only persistence the store writes through to and
// rehydrates from.
type Durable interface {
	CreateSession(ctx context.Context, s *Session) error
	// LoadSession returns the session, its most recent limit messages and
	// the next free sequence number.
	LoadSession(ctx context.Context, id string, limit int) (*Session, []Message, int64, error)
	// SaveMessages persists messages and advances the session's counter
	// and last activity.
	SaveMessages(ctx context.Context, sessionID string, msgs []Message, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	TouchSession(ctx context.Context, id string, at time.Time) error
	ListIdle(ctx context.Context, before time.Time) ([]string, error)
}
