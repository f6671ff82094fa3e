package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := sqlx.Connect(DriverName, cfg.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplySQLiteOptimizations(db))
	return db
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMigrationManager_ApplyMigrations(t *testing.T) {
	db := openTestDB(t)
	mm := NewMigrationManager(db, Migrations())

	require.NoError(t, mm.ApplyMigrations())
	// Second run is a no-op.
	require.NoError(t, mm.ApplyMigrations())

	versions, err := mm.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, versions)

	require.NoError(t, NewSchemaValidator(db).Validate())
}

func TestMigrationManager_OrdersByVersion(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"002_add_column.sql": {Data: []byte("ALTER TABLE things ADD COLUMN label TEXT;")},
		"001_things.sql":     {Data: []byte("CREATE TABLE things (id INTEGER PRIMARY KEY);")},
		"README.md":          {Data: []byte("ignored")},
	}

	require.NoError(t, NewMigrationManager(db, fsys).ApplyMigrations())

	_, err := db.Exec("INSERT INTO things (id, label) VALUES (1, 'x')")
	assert.NoError(t, err)
}

func TestMigrationManager_FailedMigrationNotRecorded(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"001_broken.sql": {Data: []byte("CREATE TABLE oops (")},
	}
	mm := NewMigrationManager(db, fsys)

	require.Error(t, mm.ApplyMigrations())
	versions, err := mm.AppliedVersions()
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestSchemaValidator_MissingSchema(t *testing.T) {
	db := openTestDB(t)
	v := NewSchemaValidator(db)

	assert.Error(t, v.ValidateTablesExist())
	assert.Error(t, v.ValidateIndexes())
}

func TestSchemaValidator_ForeignKeys(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db, Migrations()).ApplyMigrations())

	assert.NoError(t, NewSchemaValidator(db).ValidateConstraints())

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM tokens"))
	assert.Zero(t, count)
}
