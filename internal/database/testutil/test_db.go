package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/kbguard/internal/database"
)

type schemaStep int

const (
	schemaNone schemaStep = iota
	schemaMigrated
	schemaSeeded
)

type testDBConfig struct {
	step     schemaStep
	seedOpts []database.SeedOption
}

// TestDBOption customises MustOpenTestDB.
type TestDBOption func(*testDBConfig)

// WithAutoMigrate creates the schema without seeding roles or permissions.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.step = max(cfg.step, schemaMigrated)
	}
}

// WithSeedData migrates and seeds the permission catalog and system roles. opts are passed to
// database.SeedData, for example database.WithBootstrapSuperAdmins.
func WithSeedData(opts ...database.SeedOption) TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.step = schemaSeeded
		cfg.seedOpts = append(cfg.seedOpts, opts...)
	}
}

// MustOpenTestDB opens a private named in-memory sqlite database and closes it when the test
// ends. The single connection keeps every query on the same in-memory instance.
func MustOpenTestDB(t testing.TB, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	var cfg testDBConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := database.Open(database.Config{
		Driver:       database.DriverSQLite,
		DSN:          fmt.Sprintf("file:kb-%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err, "open test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	switch cfg.step {
	case schemaSeeded:
		require.NoError(t, database.AutoMigrateAndSeed(db, cfg.seedOpts...), "seed test database")
	case schemaMigrated:
		require.NoError(t, database.AutoMigrate(db), "migrate test database")
	}
	return db
}
