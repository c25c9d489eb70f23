package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/pandemonium/store"
)

func (d *DB) CreateMessages(ctx context.Context, messages []*store.Message) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	fields := []string{"id", "session_id", "persona_id", "role", "content", "emotion", "delay_ms", "seq", "created_ts"}
	stmt := `INSERT INTO pd_message (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(fields)) + `)`
	for _, m := range messages {
		if _, err := tx.ExecContext(ctx, stmt, m.ID, m.SessionID, m.PersonaID, m.Role, m.Content, m.Emotion, m.DelayMs, m.Seq, m.CreatedTs); err != nil {
			return fmt.Errorf("failed to create pd_message %s: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pd_message batch: %w", err)
	}
	return nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	query := `SELECT id, session_id, persona_id, role, content, emotion, delay_ms, seq, created_ts FROM pd_message WHERE session_id = ` +
		placeholder(1) + ` ORDER BY seq DESC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, find.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pd_message: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.PersonaID, &m.Role, &m.Content, &m.Emotion, &m.DelayMs, &m.Seq, &m.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan pd_message: %w", err)
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pd_message: %w", err)
	}

	// Newest-first from the query, oldest-first to the caller.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}
