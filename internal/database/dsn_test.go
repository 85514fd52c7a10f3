package database

import (
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	cases := []struct {
		name   string
		cfg    Config
		expect string
	}{
		{
			name:   "defaults",
			cfg:    Config{User: "kbguard", Name: "kbguard"},
			expect: "host=localhost port=5432 user=kbguard dbname=kbguard sslmode=disable",
		},
		{
			name: "options sorted after connection fields",
			cfg: Config{
				User:     "user",
				Name:     "db",
				Host:     "db.example.com",
				Port:     6543,
				Password: "pass",
				Options:  map[string]string{"sslmode": "require", "search_path": "public"},
			},
			expect: "host=db.example.com port=6543 user=user dbname=db password=pass search_path=public sslmode=require",
		},
		{
			name:   "dsn override",
			cfg:    Config{DSN: "postgres://u@h/db"},
			expect: "postgres://u@h/db",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dsn, err := buildPostgresDSN(tc.cfg)
			require.NoError(t, err)
			require.Equal(t, tc.expect, dsn)
		})
	}
}

func TestBuildPostgresDSNQuotesValues(t *testing.T) {
	password := `it's a \secret`
	dsn, err := buildPostgresDSN(Config{User: "svc", Name: "kb", Password: password})
	require.NoError(t, err)

	parsed, err := pgconn.ParseConfig(dsn)
	require.NoError(t, err)
	require.Equal(t, password, parsed.Password)
	require.Equal(t, "svc", parsed.User)
	require.Equal(t, "kb", parsed.Database)
	require.Equal(t, uint16(5432), parsed.Port)
}

func TestBuildMySQLDSNRoundTrips(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "user",
		Password: "secret",
		Name:     "db",
		Host:     "db.example.com",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify", "sql_mode": "'STRICT_ALL_TABLES'"},
	})
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "user", parsed.User)
	require.Equal(t, "secret", parsed.Passwd)
	require.Equal(t, "db.example.com:3307", parsed.Addr)
	require.Equal(t, "db", parsed.DBName)
	require.True(t, parsed.ParseTime)
	require.Equal(t, time.UTC, parsed.Loc)
	require.Contains(t, dsn, "tls=skip-verify")
	require.Contains(t, dsn, "charset=utf8mb4")
	require.Equal(t, "'STRICT_ALL_TABLES'", parsed.Params["sql_mode"])
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "kbguard", Name: "kbguard"})
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:3306", parsed.Addr)
	require.Equal(t, "tcp", parsed.Net)
}

func TestBuildDSNRequiresUserAndName(t *testing.T) {
	_, err := buildPostgresDSN(Config{})
	require.Error(t, err)

	_, err = buildMySQLDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestNormalizeDriver(t *testing.T) {
	require.Equal(t, DriverSQLite, NormalizeDriver(""))
	require.Equal(t, DriverSQLite, NormalizeDriver("sqlite3"))
	require.Equal(t, DriverPostgres, NormalizeDriver(" PostgreSQL "))
	require.Equal(t, DriverMySQL, NormalizeDriver("MySQL"))
	require.Equal(t, "oracle", NormalizeDriver("oracle"))
}

func TestSQLiteDSN(t *testing.T) {
	dsn, err := sqliteDSN(Config{Path: ":memory:"})
	require.NoError(t, err)
	require.Equal(t, "file::memory:?cache=shared&_foreign_keys=1", dsn)

	dir := t.TempDir()
	dsn, err = sqliteDSN(Config{Path: dir + "/nested/kb.sqlite"})
	require.NoError(t, err)
	require.Contains(t, dsn, "nested/kb.sqlite?_foreign_keys=1&_journal_mode=WAL")
	require.DirExists(t, dir+"/nested")
}
