package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the kbguard service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Permission  PermissionConfig  `mapstructure:"permission"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFile         LogFileConfig   `mapstructure:"log_file"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// LogFileConfig enables an additional rotating log file.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// RateLimitConfig bounds calls to the check endpoint per caller.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Postgres        DBAuthConfig  `mapstructure:"postgres"`
	MySQL           DBAuthConfig  `mapstructure:"mysql"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowQuery       time.Duration `mapstructure:"slow_query_threshold"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// CacheConfig selects and configures the permission cache backend.
type CacheConfig struct {
	Backend    string                `mapstructure:"backend"`
	MemorySize int                   `mapstructure:"memory_size"`
	Redis      RedisCacheConfig      `mapstructure:"redis"`
	Permission PermissionCacheConfig `mapstructure:"permission"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	URL       string        `mapstructure:"url"`
	Address   string        `mapstructure:"address"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TLS       bool          `mapstructure:"tls"`
	PoolSize  int           `mapstructure:"pool_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// PermissionCacheConfig sets cache lifetimes.
type PermissionCacheConfig struct {
	DecisionTTL time.Duration `mapstructure:"decision_ttl"`
	RoleTTL     time.Duration `mapstructure:"role_ttl"`
}

// PermissionConfig tunes the decision engine.
type PermissionConfig struct {
	RetryBackoff         time.Duration `mapstructure:"retry_backoff"`
	DefaultTenant        string        `mapstructure:"default_tenant"`
	BootstrapSuperAdmins []string      `mapstructure:"bootstrap_super_admins"`
	AuditDenials         bool          `mapstructure:"audit_denials"`
}

// AuthConfig captures token validation settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"access_token_ttl"`
}

// MaintenanceConfig schedules background jobs. Schedules use cron syntax including
// the @every descriptor.
type MaintenanceConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	CacheSweepSchedule string        `mapstructure:"cache_sweep_schedule"`
	AuditSchedule      string        `mapstructure:"audit_retention_schedule"`
	AuditRetentionDays int           `mapstructure:"audit_retention_days"`
	JobTimeout         time.Duration `mapstructure:"job_timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("KBGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Cache.NormalizedBackend() {
	case CacheBackendMemory, CacheBackendDatabase, CacheBackendRedis:
	default:
		return fmt.Errorf("config: unsupported cache backend %q", c.Cache.Backend)
	}
	if len(c.Permission.BootstrapSuperAdmins) > 0 && strings.TrimSpace(c.Permission.DefaultTenant) == "" {
		return errors.New("config: permission.default_tenant is required with bootstrap_super_admins")
	}
	if c.Maintenance.Enabled && c.Maintenance.AuditRetentionDays <= 0 {
		return errors.New("config: maintenance.audit_retention_days must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_file.path", "")
	v.SetDefault("server.log_file.max_size_mb", 100)
	v.SetDefault("server.log_file.max_backups", 5)
	v.SetDefault("server.log_file.max_age_days", 30)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.rate_limit.requests", 600)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/kbguard.sqlite")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.slow_query_threshold", "200ms")

	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.memory_size", 100000)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.redis.key_prefix", "kbguard:")
	v.SetDefault("cache.permission.decision_ttl", "5m")
	v.SetDefault("cache.permission.role_ttl", "10m")

	v.SetDefault("permission.retry_backoff", "50ms")
	v.SetDefault("permission.default_tenant", "")
	v.SetDefault("permission.bootstrap_super_admins", []string{})
	v.SetDefault("permission.audit_denials", false)

	v.SetDefault("auth.jwt.issuer", "kbguard")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.cache_sweep_schedule", "@every 1m")
	v.SetDefault("maintenance.audit_retention_schedule", "0 3 * * *")
	v.SetDefault("maintenance.audit_retention_days", 90)
	v.SetDefault("maintenance.job_timeout", "2m")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.timeout", "3s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
