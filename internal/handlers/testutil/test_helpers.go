package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/kbguard/internal/api"
	"github.com/charlesng35/kbguard/internal/app"
	iauth "github.com/charlesng35/kbguard/internal/auth"
	"github.com/charlesng35/kbguard/internal/cache"
	"github.com/charlesng35/kbguard/internal/database"
	sharedtestutil "github.com/charlesng35/kbguard/internal/database/testutil"
	"github.com/charlesng35/kbguard/internal/middleware"
	"github.com/charlesng35/kbguard/internal/monitoring"
	"github.com/charlesng35/kbguard/internal/permissions"
	"github.com/charlesng35/kbguard/internal/security"
	"github.com/charlesng35/kbguard/internal/services"
	"github.com/charlesng35/kbguard/internal/store"
	"github.com/charlesng35/kbguard/pkg/response"
)

const (
	// Tenant is the tenant every environment is seeded for.
	Tenant = "t1"
	// RootUser is bootstrapped as super admin of Tenant.
	RootUser = "root"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T       *testing.T
	DB      *gorm.DB
	Router  *gin.Engine
	JWT     *iauth.JWTService
	Config  *app.Config
	Cache   *permissions.PermissionCache
	Checker *permissions.Checker
	Grants  *services.GrantService
}

// Option adjusts the configuration before the router is built.
type Option func(*app.Config)

// WithRateLimit overrides the check endpoint rate limit.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(cfg *app.Config) {
		cfg.Server.RateLimit = app.RateLimitConfig{Requests: requests, Window: window}
	}
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData(database.WithBootstrapSuperAdmins(Tenant, RootUser)))

	cfg := &app.Config{
		Server: app.ServerConfig{
			RateLimit: app.RateLimitConfig{Requests: 1000, Window: time.Minute},
		},
		Cache: app.CacheConfig{Backend: app.CacheBackendMemory, MemorySize: 1024},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true, Timeout: time.Second},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTConfig())
	require.NoError(t, err)

	grantStore, err := store.NewGrantStore(db)
	require.NoError(t, err)
	mem, err := cache.NewMemoryStore(cfg.Cache.MemorySize)
	require.NoError(t, err)
	permCache, err := permissions.NewPermissionCache(mem, permissions.WithTeamMembership(grantStore))
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	checker, err := permissions.NewChecker(grantStore,
		permissions.WithCache(permCache),
		permissions.WithRetryBackoff(0),
		permissions.WithDenialRecorder(audit))
	require.NoError(t, err)

	grants, err := services.NewGrantService(grantStore, checker, audit)
	require.NoError(t, err)
	roles, err := services.NewRoleService(grantStore, checker, audit)
	require.NoError(t, err)
	teams, err := services.NewTeamService(db, grants, audit)
	require.NoError(t, err)

	mod, err := monitoring.NewModule(monitoring.Options{})
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		Config:     cfg,
		JWT:        jwtSvc,
		Checker:    checker,
		Grants:     grants,
		Roles:      roles,
		Teams:      teams,
		Audit:      audit,
		Monitoring: mod,
		Security:   security.NewAuditService(db, jwtSvc, cfg),
		RateStore:  middleware.NewStoreRateStore(mem),
	})
	require.NoError(t, err)

	return &Env{
		T:       t,
		DB:      db,
		Router:  router,
		JWT:     jwtSvc,
		Config:  cfg,
		Cache:   permCache,
		Checker: checker,
		Grants:  grants,
	}
}

// Token issues an access token for userID scoped to the seeded tenant.
func (e *Env) Token(userID string) string {
	e.T.Helper()
	token, err := e.JWT.IssueToken(iauth.TokenInput{UserID: userID, TenantID: Tenant})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
