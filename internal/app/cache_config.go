package app

import (
	"strings"

	"github.com/charlesng35/kbguard/internal/cache"
)

// Cache backends.
const (
	CacheBackendMemory   = "memory"
	CacheBackendDatabase = "database"
	CacheBackendRedis    = "redis"
)

// NormalizedBackend returns the lower-cased backend name, defaulting to memory.
func (c CacheConfig) NormalizedBackend() string {
	backend := strings.ToLower(strings.TrimSpace(c.Backend))
	if backend == "" {
		return CacheBackendMemory
	}
	return backend
}

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		URL:       strings.TrimSpace(c.Redis.URL),
		Address:   strings.TrimSpace(c.Redis.Address),
		Username:  strings.TrimSpace(c.Redis.Username),
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		TLS:       c.Redis.TLS,
		PoolSize:  c.Redis.PoolSize,
		Timeout:   c.Redis.Timeout,
		KeyPrefix: c.Redis.KeyPrefix,
	}
}
