package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hrygo/pandemonium/store"
)

// storeDurable persists sessions through the relational store.
type storeDurable struct {
	store *store.Store
}

// NewStoreDurable adapts a store to Durable. A nil store yields a nil Durable.
func NewStoreDurable(s *store.Store) Durable {
	if s == nil {
		return nil
	}
	return &storeDurable{store: s}
}

func (d *storeDurable) CreateSession(ctx context.Context, s *Session) error {
	_, err := d.store.CreateSession(ctx, &store.Session{
		ID:             s.ID,
		Name:           s.Name,
		OwnerID:        s.OwnerID,
		PersonaIDs:     s.PersonaIDs,
		Status:         store.SessionStatus(s.Status),
		MessageCount:   s.MessageCount,
		LastActivityTs: s.LastActivity.Unix(),
		CreatedTs:      s.CreatedAt.Unix(),
	})
	return err
}

func (d *storeDurable) LoadSession(ctx context.Context, id string, limit int) (*Session, []Message, int64, error) {
	row, err := d.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, 0, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load session %s: %w", id, err)
	}

	rows, err := d.store.ListMessages(ctx, &store.FindMessage{SessionID: id, Limit: limit})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load history of %s: %w", id, err)
	}

	history := make([]Message, 0, len(rows))
	next := int64(1)
	for _, m := range rows {
		history = append(history, fromStoreMessage(m))
		if m.Seq >= next {
			next = m.Seq + 1
		}
	}

	return &Session{
		ID:           row.ID,
		Name:         row.Name,
		OwnerID:      row.OwnerID,
		PersonaIDs:   row.PersonaIDs,
		Status:       Status(row.Status),
		MessageCount: row.MessageCount,
		LastActivity: time.Unix(row.LastActivityTs, 0),
		CreatedAt:    time.Unix(row.CreatedTs, 0),
	}, history, next, nil
}

func (d *storeDurable) SaveMessages(ctx context.Context, sessionID string, msgs []Message, at time.Time) error {
	rows := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, toStoreMessage(m))
	}
	if err := d.store.CreateMessages(ctx, rows...); err != nil {
		return fmt.Errorf("save messages of %s: %w", sessionID, err)
	}
	ts := at.Unix()
	return d.store.UpdateSession(ctx, &store.UpdateSession{
		ID:                sessionID,
		MessageCountDelta: len(msgs),
		LastActivityTs:    &ts,
	})
}

func (d *storeDurable) UpdateStatus(ctx context.Context, id string, status Status) error {
	s := store.SessionStatus(status)
	return d.store.UpdateSession(ctx, &store.UpdateSession{ID: id, Status: &s})
}

func (d *storeDurable) TouchSession(ctx context.Context, id string, at time.Time) error {
	ts := at.Unix()
	return d.store.UpdateSession(ctx, &store.UpdateSession{ID: id, LastActivityTs: &ts})
}

func (d *storeDurable) ListIdle(ctx context.Context, before time.Time) ([]string, error) {
	active := store.SessionStatusActive
	cutoff := before.Unix()
	list, err := d.store.ListSessions(ctx, &store.FindSession{Status: &active, LastActivityBefore: &cutoff})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func toStoreMessage(m Message) *store.Message {
	return &store.Message{
		ID:        m.ID,
		SessionID: m.SessionID,
		PersonaID: m.PersonaID,
		Role:      store.MessageRole(m.Role),
		Content:   m.Content,
		Emotion:   m.Emotion,
		DelayMs:   m.DelayMs,
		Seq:       m.Seq,
		CreatedTs: m.CreatedAt.Unix(),
	}
}

func fromStoreMessage(m *store.Message) Message {
	return Message{
		ID:        m.ID,
		SessionID: m.SessionID,
		PersonaID: m.PersonaID,
		Role:      Role(m.Role),
		Content:   m.Content,
		Emotion:   m.Emotion,
		DelayMs:   m.DelayMs,
		Seq:       m.Seq,
		CreatedAt: time.Unix(m.CreatedTs, 0),
	}
}
