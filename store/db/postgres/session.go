package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/pandemonium/store"
)

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	personaIDs, err := encodeIDs(create.PersonaIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode persona ids: %w", err)
	}
	fields := []string{"id", "name", "owner_id", "persona_ids", "status", "message_count", "last_activity_ts", "created_ts"}
	args := []any{create.ID, create.Name, create.OwnerID, personaIDs, create.Status, create.MessageCount, create.LastActivityTs, create.CreatedTs}

	stmt := `INSERT INTO pd_session (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to create pd_session: %w", err)
	}
	return create, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *find.OwnerID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}
	if find.LastActivityBefore != nil {
		where, args = append(where, "last_activity_ts < "+placeholder(len(args)+1)), append(args, *find.LastActivityBefore)
	}

	query := `SELECT id, name, owner_id, persona_ids, status, message_count, last_activity_ts, created_ts FROM pd_session WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY last_activity_ts DESC, id ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pd_session: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Session, 0)
	for rows.Next() {
		s := &store.Session{}
		var personaIDs string
		if err := rows.Scan(&s.ID, &s.Name, &s.OwnerID, &personaIDs, &s.Status, &s.MessageCount, &s.LastActivityTs, &s.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan pd_session: %w", err)
		}
		if s.PersonaIDs, err = decodeIDs(personaIDs); err != nil {
			return nil, fmt.Errorf("failed to decode persona ids of session %s: %w", s.ID, err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pd_session: %w", err)
	}
	return list, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) error {
	set, args := []string{}, []any{}

	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *update.Status)
	}
	if update.MessageCountDelta != 0 {
		set, args = append(set, "message_count = message_count + "+placeholder(len(args)+1)), append(args, update.MessageCountDelta)
	}
	if update.LastActivityTs != nil {
		set, args = append(set, "last_activity_ts = GREATEST(last_activity_ts, "+placeholder(len(args)+1)+")"), append(args, *update.LastActivityTs)
	}
	if len(set) == 0 {
		return fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE pd_session SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update pd_session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}
