package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charlesng35/kbguard/pkg/crypto"
)

const jwtSecretBytes = 48

// RuntimeDefaults lists what ApplyRuntimeDefaults changed. Secret values are never included.
type RuntimeDefaults struct {
	GeneratedSecrets []string
	Adjustments      []string
}

// Changed reports whether anything was filled in or adjusted.
func (d RuntimeDefaults) Changed() bool {
	return len(d.GeneratedSecrets) > 0 || len(d.Adjustments) > 0
}

// ApplyRuntimeDefaults fills values configuration left empty and settles combinations that
// cannot work as written:
//
//   - an empty auth.jwt.secret is replaced by a random key, valid for this process only
//   - the redis backend without an address or URL falls back to the database backend
//   - bootstrap super admin ids are trimmed and de-duplicated
func ApplyRuntimeDefaults(cfg *Config) (RuntimeDefaults, error) {
	var applied RuntimeDefaults
	if cfg == nil {
		return applied, errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateHexKey(jwtSecretBytes)
		if err != nil {
			return applied, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		applied.GeneratedSecrets = append(applied.GeneratedSecrets, "auth.jwt.secret")
	}

	redis := cfg.Cache.Redis
	if cfg.Cache.NormalizedBackend() == CacheBackendRedis &&
		strings.TrimSpace(redis.Address) == "" && strings.TrimSpace(redis.URL) == "" {
		cfg.Cache.Backend = CacheBackendDatabase
		applied.Adjustments = append(applied.Adjustments, "cache.backend: redis has no address, using database")
	}

	admins := make([]string, 0, len(cfg.Permission.BootstrapSuperAdmins))
	for _, id := range cfg.Permission.BootstrapSuperAdmins {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(admins, id) {
			admins = append(admins, id)
		}
	}
	if len(admins) != len(cfg.Permission.BootstrapSuperAdmins) {
		applied.Adjustments = append(applied.Adjustments,
			fmt.Sprintf("permission.bootstrap_super_admins: %d blank or duplicate entries dropped", len(cfg.Permission.BootstrapSuperAdmins)-len(admins)))
	}
	cfg.Permission.BootstrapSuperAdmins = admins

	return applied, nil
}
