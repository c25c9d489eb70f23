package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/pandemonium/internal/version"
)

// Migration files live in migration/{driver}/. LATEST.sql initializes a fresh
// database; upgrades are migration/{driver}/{major.minor}/NN__description.sql
// and are applied in lexical order when their version lies in (db, current].

//go:embed migration
var migrationFS embed.FS

const (
	// MigrateFileNameSplit is the split character between the patch version and the description in the migration file name.
	// For example, "1__add_index.sql".
	MigrateFileNameSplit = "__"
	// LatestSchemaFileName is the name of the latest schema file.
	LatestSchemaFileName = "LATEST.sql"

	defaultSchemaVersion = "0.0.0"
)

// Migrate brings the database schema to version.SchemaVersion.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}

	if !initialized {
		if err := s.applyLatest(ctx); err != nil {
			return err
		}
		return s.updateSchemaVersion(ctx, version.SchemaVersion)
	}

	current, err := s.GetSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version.IsVersionGreaterThan(current, version.SchemaVersion) {
		slog.Error("cannot downgrade schema version",
			slog.String("databaseVersion", current),
			slog.String("currentVersion", version.SchemaVersion),
		)
		return errors.Errorf("cannot downgrade schema version from %s to %s", current, version.SchemaVersion)
	}
	if version.IsVersionGreaterThan(version.SchemaVersion, current) {
		if err := s.applyMigrations(ctx, current, version.SchemaVersion); err != nil {
			return errors.Wrap(err, "failed to apply migrations")
		}
		return s.updateSchemaVersion(ctx, version.SchemaVersion)
	}
	return nil
}

// GetSchemaVersion returns the schema version recorded in the database.
func (s *Store) GetSchemaVersion(ctx context.Context) (string, error) {
	setting, err := s.driver.GetSystemSetting(ctx, SystemSettingSchemaVersion)
	if err != nil {
		return "", errors.Wrap(err, "failed to get schema version")
	}
	if setting == nil || setting.Value == "" {
		return defaultSchemaVersion, nil
	}
	return setting.Value, nil
}

func (s *Store) applyLatest(ctx context.Context) error {
	filePath := s.migrationBasePath() + LatestSchemaFileName
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read latest schema file %s", filePath)
	}

	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	slog.Info("initializing new database with latest schema", slog.String("file", filePath))
	if _, err := tx.ExecContext(ctx, string(bytes)); err != nil {
		return errors.Wrapf(err, "failed to execute SQL file %s", filePath)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func (s *Store) applyMigrations(ctx context.Context, current, target string) error {
	filePaths, err := fs.Glob(migrationFS, s.migrationBasePath()+"*/*.sql")
	if err != nil {
		return errors.Wrap(err, "failed to read migration files")
	}
	sort.Strings(filePaths)

	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	applied := 0
	for _, filePath := range filePaths {
		fileVersion, err := migrationFileVersion(filePath)
		if err != nil {
			return err
		}
		if !shouldApplyMigration(fileVersion, current, target) {
			continue
		}

		slog.Info("applying migration", slog.String("file", filePath), slog.String("version", fileVersion))
		bytes, err := migrationFS.ReadFile(filePath)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration file: %s", filePath)
		}
		if _, err := tx.ExecContext(ctx, string(bytes)); err != nil {
			return errors.Wrapf(err, "failed to execute migration %s", filePath)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit migration transaction")
	}
	slog.Info("migration completed", slog.Int("migrationsApplied", applied))
	return nil
}

func (s *Store) updateSchemaVersion(ctx context.Context, schemaVersion string) error {
	if err := s.driver.UpsertSystemSetting(ctx, &SystemSetting{
		Name:  SystemSettingSchemaVersion,
		Value: schemaVersion,
	}); err != nil {
		return errors.Wrap(err, "failed to update schema version")
	}
	return nil
}

func (s *Store) migrationBasePath() string {
	return fmt.Sprintf("migration/%s/", s.profile.Driver)
}

// shouldApplyMigration reports whether fileVersion lies in (current, target].
func shouldApplyMigration(fileVersion, current, target string) bool {
	if current == "" {
		current = defaultSchemaVersion
	}
	return version.IsVersionGreaterThan(fileVersion, current) &&
		version.IsVersionGreaterOrEqualThan(target, fileVersion)
}

// migrationFileVersion turns "migration/sqlite/0.4/01__add_index.sql" into "0.4.1".
func migrationFileVersion(filePath string) (string, error) {
	dir := path.Base(path.Dir(filePath))
	name := path.Base(filePath)
	raw, _, ok := strings.Cut(name, MigrateFileNameSplit)
	if !ok {
		return "", errors.Errorf("invalid migration filename format (missing %s): %s", MigrateFileNameSplit, filePath)
	}
	patch, err := strconv.Atoi(raw)
	if err != nil {
		return "", errors.Wrapf(err, "migration filename must start with a number: %s", filePath)
	}
	v := fmt.Sprintf("%s.%d", dir, patch)
	if !version.IsValid(v) {
		return "", errors.Errorf("invalid migration version %s for %s", v, filePath)
	}
	return v, nil
}
