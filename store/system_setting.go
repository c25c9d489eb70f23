package store

import "context"

// SystemSettingSchemaVersion holds the schema version written by the migrator.
const SystemSettingSchemaVersion = "schema_version"

type SystemSetting struct {
	Name  string
	Value string
}

// GetSystemSetting returns the setting or nil when it is not set.
func (s *Store) GetSystemSetting(ctx context.Context, name string) (*SystemSetting, error) {
	return s.driver.GetSystemSetting(ctx, name)
}

func (s *Store) UpsertSystemSetting(ctx context.Context, upsert *SystemSetting) error {
	return s.driver.UpsertSystemSetting(ctx, upsert)
}
