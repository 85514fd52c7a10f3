package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/kbguard/internal/app"
	iauth "github.com/charlesng35/kbguard/internal/auth"
	"github.com/charlesng35/kbguard/internal/handlers"
	"github.com/charlesng35/kbguard/internal/middleware"
	"github.com/charlesng35/kbguard/internal/monitoring"
	"github.com/charlesng35/kbguard/internal/permissions"
	"github.com/charlesng35/kbguard/internal/security"
	"github.com/charlesng35/kbguard/internal/services"
)

// Dependencies are the long-lived components the router exposes over HTTP.
type Dependencies struct {
	Config     *app.Config
	JWT        *iauth.JWTService
	Checker    *permissions.Checker
	Grants     *services.GrantService
	Roles      *services.RoleService
	Teams      *services.TeamService
	Audit      *services.AuditService
	Monitoring *monitoring.Module
	Security   *security.AuditService
	RateStore  middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.JWT == nil:
		return errors.New("jwt service must be provided")
	case d.Checker == nil:
		return errors.New("permission checker must be provided")
	case d.Grants == nil:
		return errors.New("grant service must be provided")
	case d.Roles == nil:
		return errors.New("role service must be provided")
	case d.Teams == nil:
		return errors.New("team service must be provided")
	case d.Audit == nil:
		return errors.New("audit service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	registerHealthRoutes(r, cfg, deps.Monitoring)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	permHandler, err := handlers.NewPermissionHandler(deps.Checker)
	if err != nil {
		return nil, err
	}
	limiter := middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window)
	registerPermissionRoutes(api, permHandler, limiter)

	roleHandler, err := handlers.NewRoleHandler(deps.Roles)
	if err != nil {
		return nil, err
	}
	grantHandler, err := handlers.NewGrantHandler(deps.Grants)
	if err != nil {
		return nil, err
	}
	teamHandler, err := handlers.NewTeamHandler(deps.Teams)
	if err != nil {
		return nil, err
	}
	tenantAdmin := middleware.RequireCapability(deps.Checker, nil, permissions.ResourceTenant, permissions.CapabilityAdmin)

	registerRoleRoutes(api, roleHandler)
	registerUserRoutes(api, roleHandler, grantHandler)
	registerTeamRoutes(api, roleHandler, grantHandler, teamHandler, tenantAdmin)
	registerResourceRoutes(api, grantHandler)

	cacheHandler, err := handlers.NewCacheHandler(deps.Checker.Cache(), cfg.Cache.NormalizedBackend())
	if err != nil {
		return nil, err
	}
	registerCacheRoutes(api, cacheHandler, tenantAdmin)

	auditHandler, err := handlers.NewAuditHandler(deps.Audit)
	if err != nil {
		return nil, err
	}
	api.GET("/audit", tenantAdmin, auditHandler.List)

	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(deps.Monitoring, cfg.Monitoring), tenantAdmin)
	registerSecurityRoutes(api, handlers.NewSecurityHandler(deps.Security), tenantAdmin)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		if deps.Monitoring != nil {
			r.GET(endpoint, gin.WrapH(deps.Monitoring.Handler()))
		} else {
			r.GET(endpoint, gin.WrapH(promhttp.Handler()))
		}
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
