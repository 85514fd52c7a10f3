package app

import (
	"strings"

	"github.com/charlesng35/kbguard/internal/database"
)

// DatabaseOptions converts the database section into database.Config. Host based
// credentials are taken from the block matching the selected driver.
func (c DatabaseConfig) DatabaseOptions() database.Config {
	driver := database.NormalizeDriver(c.Driver)
	cfg := database.Config{
		Driver:             driver,
		Path:               strings.TrimSpace(c.Path),
		DSN:                strings.TrimSpace(c.DSN),
		MaxOpenConns:       c.MaxOpenConns,
		MaxIdleConns:       c.MaxIdleConns,
		ConnMaxLifetime:    c.ConnMaxLifetime,
		SlowQueryThreshold: c.SlowQuery,
	}

	auth, ok := map[string]DBAuthConfig{
		database.DriverPostgres: c.Postgres,
		database.DriverMySQL:    c.MySQL,
	}[driver]
	if !ok {
		return cfg
	}

	cfg.Host = strings.TrimSpace(auth.Host)
	cfg.Port = auth.Port
	cfg.Name = strings.TrimSpace(auth.Database)
	cfg.User = strings.TrimSpace(auth.Username)
	cfg.Password = auth.Password
	cfg.Options = auth.Options
	return cfg
}
