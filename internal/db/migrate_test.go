package db

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSortsByVersion(t *testing.T) {
	files := fstest.MapFS{
		"010_indexes.sql": {Data: []byte("SELECT 10;")},
		"002_events.sql":  {Data: []byte("SELECT 2;")},
		"001_init.sql":    {Data: []byte("SELECT 1;")},
		"README.md":       {Data: []byte("ignored")},
		"draft.sql":       {Data: []byte("ignored")},
	}

	migrations, err := NewMigrator(nil, files).Load()
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "001_init.sql", migrations[0].Name)
	assert.Equal(t, "SELECT 1;", migrations[0].SQL)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, 10, migrations[2].Version)
}

func TestLoadRejectsDuplicateVersions(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	}

	_, err := NewMigrator(nil, files).Load()
	assert.Error(t, err)
}

func TestEmbeddedMigrationsCreateCoreTables(t *testing.T) {
	migrations, err := NewMigrator(nil, Migrations()).Load()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, 1, migrations[0].Version)

	sql := migrations[0].SQL
	for _, table := range []string{"providers", "patients", "availability_rules", "appointment_slots", "appointments", "event_logs"} {
		assert.True(t, strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table), "missing table %s", table)
	}
}
