package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaults(t *testing.T) {
	cases := []struct {
		name        string
		cfg         Config
		secrets     []string
		adjustments int
		check       func(t *testing.T, cfg Config)
	}{
		{
			name:    "generates missing jwt secret",
			secrets: []string{"auth.jwt.secret"},
			check: func(t *testing.T, cfg Config) {
				require.Len(t, cfg.Auth.JWT.Secret, jwtSecretBytes*2)
			},
		},
		{
			name: "keeps configured secret",
			cfg:  Config{Auth: AuthConfig{JWT: JWTSettings{Secret: "configured"}}},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, "configured", cfg.Auth.JWT.Secret)
			},
		},
		{
			name: "redis without address falls back to database",
			cfg: Config{
				Auth:  AuthConfig{JWT: JWTSettings{Secret: "configured"}},
				Cache: CacheConfig{Backend: "Redis"},
			},
			adjustments: 1,
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, CacheBackendDatabase, cfg.Cache.Backend)
			},
		},
		{
			name: "redis url is enough",
			cfg: Config{
				Auth:  AuthConfig{JWT: JWTSettings{Secret: "configured"}},
				Cache: CacheConfig{Backend: CacheBackendRedis, Redis: RedisCacheConfig{URL: "redis://localhost:6379/0"}},
			},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
			},
		},
		{
			name: "bootstrap admins trimmed and de-duplicated",
			cfg: Config{
				Auth:       AuthConfig{JWT: JWTSettings{Secret: "configured"}},
				Permission: PermissionConfig{BootstrapSuperAdmins: []string{" root ", "root", "", "ops"}},
			},
			adjustments: 1,
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, []string{"root", "ops"}, cfg.Permission.BootstrapSuperAdmins)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			applied, err := ApplyRuntimeDefaults(&cfg)
			require.NoError(t, err)
			require.Equal(t, tc.secrets, applied.GeneratedSecrets)
			require.Len(t, applied.Adjustments, tc.adjustments)
			require.Equal(t, len(tc.secrets) > 0 || tc.adjustments > 0, applied.Changed())
			tc.check(t, cfg)
		})
	}
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.EqualError(t, err, "config is nil")
}
