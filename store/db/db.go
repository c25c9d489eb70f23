package db

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/pandemonium/internal/profile"
	"github.com/hrygo/pandemonium/store"
	"github.com/hrygo/pandemonium/store/db/postgres"
	"github.com/hrygo/pandemonium/store/db/sqlite"
)

// ErrNoDurableStore is returned for the memory driver, which keeps sessions
// only in the session cache.
var ErrNoDurableStore = errors.New("the memory driver has no durable store")

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "memory":
		return nil, ErrNoDurableStore
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}

// OpenStore creates the driver, wraps it in a store and migrates the schema.
// It returns a nil store for the memory driver.
func OpenStore(ctx context.Context, profile *profile.Profile) (*store.Store, error) {
	driver, err := NewDBDriver(profile)
	if errors.Is(err, ErrNoDurableStore) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s := store.New(driver, profile)
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return s, nil
}
