package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/kbguard/internal/api"
	"github.com/charlesng35/kbguard/internal/app"
	"github.com/charlesng35/kbguard/internal/app/maintenance"
	iauth "github.com/charlesng35/kbguard/internal/auth"
	"github.com/charlesng35/kbguard/internal/cache"
	"github.com/charlesng35/kbguard/internal/database"
	"github.com/charlesng35/kbguard/internal/middleware"
	"github.com/charlesng35/kbguard/internal/monitoring"
	"github.com/charlesng35/kbguard/internal/monitoring/checks"
	"github.com/charlesng35/kbguard/internal/permissions"
	"github.com/charlesng35/kbguard/internal/security"
	"github.com/charlesng35/kbguard/internal/services"
	"github.com/charlesng35/kbguard/internal/store"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Store      cache.Store
	Backend    string
	Redis      *cache.RedisStore
	Cache      *permissions.PermissionCache
	Checker    *permissions.Checker
	JWT        *iauth.JWTService
	Audit      *services.AuditService
	Grants     *services.GrantService
	Roles      *services.RoleService
	Teams      *services.TeamService
	Monitoring *monitoring.Module
	Security   *security.AuditService
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, cache, decision engine, services and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial bootstrap cleanup failed", zap.Error(shutdownErr))
			}
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Store, stack.Backend, err = stack.openCacheStore(cfg, log)
	if err != nil {
		return nil, err
	}

	grantStore, err := store.NewGrantStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise grant store: %w", err)
	}

	stack.Cache, err = permissions.NewPermissionCache(stack.Store,
		permissions.WithTTLs(cfg.Cache.Permission.DecisionTTL, cfg.Cache.Permission.RoleTTL),
		permissions.WithTeamMembership(grantStore))
	if err != nil {
		return nil, fmt.Errorf("initialise permission cache: %w", err)
	}

	stack.Audit, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	checkerOpts := []permissions.CheckerOption{
		permissions.WithCache(stack.Cache),
		permissions.WithRetryBackoff(cfg.Permission.RetryBackoff),
		permissions.WithLogger(log.With(zap.String("component", "checker"))),
	}
	if cfg.Permission.AuditDenials {
		checkerOpts = append(checkerOpts, permissions.WithDenialRecorder(stack.Audit))
	}
	stack.Checker, err = permissions.NewChecker(grantStore, checkerOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise permission checker: %w", err)
	}

	if stack.Grants, err = services.NewGrantService(grantStore, stack.Checker, stack.Audit); err != nil {
		return nil, fmt.Errorf("initialise grant service: %w", err)
	}
	if stack.Roles, err = services.NewRoleService(grantStore, stack.Checker, stack.Audit); err != nil {
		return nil, fmt.Errorf("initialise role service: %w", err)
	}
	if stack.Teams, err = services.NewTeamService(stack.DB, stack.Grants, stack.Audit); err != nil {
		return nil, fmt.Errorf("initialise team service: %w", err)
	}

	stack.JWT, err = iauth.NewJWTService(cfg.Auth.JWTConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	if err := stack.initialiseMonitoring(cfg); err != nil {
		return nil, err
	}

	stack.Security = security.NewAuditService(stack.DB, stack.JWT, cfg)
	logSecurityAudit(stack.Security.Run(context.Background()), log)

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.Cache, stack.Audit,
			maintenance.WithSweepSchedule(cfg.Maintenance.CacheSweepSchedule),
			maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
			maintenance.WithJobTimeout(cfg.Maintenance.JobTimeout),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:     cfg,
		JWT:        stack.JWT,
		Checker:    stack.Checker,
		Grants:     stack.Grants,
		Roles:      stack.Roles,
		Teams:      stack.Teams,
		Audit:      stack.Audit,
		Monitoring: stack.Monitoring,
		Security:   stack.Security,
		RateStore:  middleware.NewStoreRateStore(stack.Store),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// openCacheStore selects the configured backend. An unreachable Redis falls back to the
// database store so the service still starts.
func (s *runtimeStack) openCacheStore(cfg *app.Config, log *zap.Logger) (cache.Store, string, error) {
	backend := cfg.Cache.NormalizedBackend()

	switch backend {
	case app.CacheBackendMemory:
		mem, err := cache.NewMemoryStore(cfg.Cache.MemorySize)
		if err != nil {
			return nil, "", fmt.Errorf("initialise memory cache: %w", err)
		}
		return mem, backend, nil
	case app.CacheBackendRedis:
		redisStore, err := cache.NewRedisStore(cfg.Cache.RedisClientConfig())
		if err == nil {
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = redisStore.Ping(pingCtx)
			cancel()
			if err != nil {
				_ = redisStore.Close()
			}
		}
		if err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			return cache.NewDatabaseStore(s.DB), app.CacheBackendDatabase, nil
		}
		s.Redis = redisStore
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		return redisStore, backend, nil
	default:
		return cache.NewDatabaseStore(s.DB), app.CacheBackendDatabase, nil
	}
}

func (s *runtimeStack) initialiseMonitoring(cfg *app.Config) error {
	module, err := monitoring.NewModule(monitoring.Options{BuildInfo: true})
	if err != nil {
		return fmt.Errorf("initialise monitoring: %w", err)
	}
	monitoring.SetModule(module)

	health := module.Health()
	health.SetTimeout(cfg.Monitoring.Health.Timeout)
	health.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Component: "process", Status: monitoring.StatusUp}
	}))
	health.RegisterReadiness(checks.Database(s.DB))
	health.RegisterReadiness(checks.Cache(s.Store, s.Backend))
	if cfg.Maintenance.Enabled {
		health.RegisterReadiness(checks.Maintenance(0))
	}

	s.Monitoring = module
	return nil
}

func logSecurityAudit(result security.Result, log *zap.Logger) {
	for _, check := range result.Checks {
		switch check.Status {
		case security.StatusFail:
			log.Error("security check failed", zap.String("check", check.ID), zap.String("message", check.Message))
		case security.StatusWarn:
			log.Warn("security check warning", zap.String("check", check.ID), zap.String("message", check.Message))
		}
	}
}

// Shutdown releases resources in reverse order of construction.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("stop maintenance jobs: %w", ctx.Err()))
		}
	}
	if s.Cache != nil {
		errs = multierr.Append(errs, s.Cache.Close())
	}
	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}
	errs = multierr.Append(errs, closeDatabase(s.DB))
	return errs
}

func initialiseDatabase(cfg *app.Config, log *zap.Logger) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseOptions()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var seedOpts []database.SeedOption
	if tenant := strings.TrimSpace(cfg.Permission.DefaultTenant); tenant != "" && len(cfg.Permission.BootstrapSuperAdmins) > 0 {
		seedOpts = append(seedOpts, database.WithBootstrapSuperAdmins(tenant, cfg.Permission.BootstrapSuperAdmins...))
	}

	if err := database.AutoMigrateAndSeed(db, seedOpts...); err != nil {
		_ = closeDatabase(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log.Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func closeDatabase(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql db: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
