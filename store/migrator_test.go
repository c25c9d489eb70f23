package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldApplyMigration(t *testing.T) {
	tests := []struct {
		file, current, target string
		want                  bool
	}{
		{"0.3.1", "0.3.0", "0.4.0", true},
		{"0.3.0", "0.3.0", "0.4.0", false},
		{"0.4.0", "0.3.0", "0.4.0", true},
		{"0.4.1", "0.3.0", "0.4.0", false},
		{"0.1.0", "", "0.4.0", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shouldApplyMigration(tt.file, tt.current, tt.target), "%+v", tt)
	}
}

func TestMigrationFileVersion(t *testing.T) {
	v, err := migrationFileVersion("migration/sqlite/0.4/01__add_index.sql")
	require.NoError(t, err)
	assert.Equal(t, "0.4.1", v)

	_, err = migrationFileVersion("migration/sqlite/0.4/add_index.sql")
	assert.Error(t, err)

	_, err = migrationFileVersion("migration/sqlite/0.4/xx__add_index.sql")
	assert.Error(t, err)

	_, err = migrationFileVersion("migration/sqlite/next/01__add_index.sql")
	assert.Error(t, err)
}

func TestLatestSchemaEmbedded(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres"} {
		data, err := migrationFS.ReadFile("migration/" + driver + "/" + LatestSchemaFileName)
		require.NoError(t, err, driver)
		assert.Contains(t, string(data), "CREATE TABLE pd_session")
		assert.Contains(t, string(data), "CREATE TABLE pd_message")
	}
}
