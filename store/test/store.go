// Package test runs the store against every configured driver.
//
// SQLite always runs against a temp-file database. PostgreSQL runs when
// DRIVER=postgres and POSTGRES_TEST_DSN points at a disposable database.
package test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrygo/pandemonium/internal/profile"
	"github.com/hrygo/pandemonium/store"
	"github.com/hrygo/pandemonium/store/db"
)

func getDriverFromEnv() string {
	driver := os.Getenv("DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}

func getTestingProfile(t *testing.T) *profile.Profile {
	t.Helper()
	dir := t.TempDir()
	p := &profile.Profile{
		Mode:   "test",
		Data:   dir,
		Driver: getDriverFromEnv(),
	}
	switch p.Driver {
	case "sqlite":
		p.DSN = filepath.Join(dir, fmt.Sprintf("pandemonium_%s.db", p.Mode))
	case "postgres":
		p.DSN = os.Getenv("POSTGRES_TEST_DSN")
		if p.DSN == "" {
			t.Skip("POSTGRES_TEST_DSN is not set")
		}
	}
	return p
}

// NewTestingStore returns a migrated store that is closed when the test ends.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	p := getTestingProfile(t)
	driver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}
	ts := store.New(driver, p)
	if err := ts.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		if p.Driver == "postgres" {
			_, _ = driver.GetDB().ExecContext(context.Background(), "DROP TABLE IF EXISTS pd_message, pd_session, system_setting")
		}
		_ = ts.Close()
	})
	return ts
}
