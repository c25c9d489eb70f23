package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Session model related methods.
	CreateSession(ctx context.Context, create *Session) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) error

	// Message model related methods.
	CreateMessages(ctx context.Context, messages []*Message) error
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	// SystemSetting model related methods.
	GetSystemSetting(ctx context.Context, name string) (*SystemSetting, error)
	UpsertSystemSetting(ctx context.Context, upsert *SystemSetting) error
}
