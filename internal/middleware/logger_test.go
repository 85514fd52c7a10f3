package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/kbguard/pkg/logger"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(logger.Replace(zap.New(core)))
	return logs
}

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := observeLogs(t)

	r := gin.New()
	r.Use(RequestID(), Logger(), Metrics())
	r.GET("/api/kb/:id", func(c *gin.Context) {
		c.Set(CtxUserIDKey, "u1")
		c.Set(CtxTenantIDKey, "t1")
		c.String(http.StatusOK, "ok")
	})
	r.GET("/api/denied", func(c *gin.Context) {
		c.Status(http.StatusForbidden)
	})
	r.GET("/api/broken", func(c *gin.Context) {
		c.Status(http.StatusServiceUnavailable)
	})

	for _, path := range []string{"/api/kb/kb-1", "/api/denied", "/api/broken"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 3)

	first := entries[0].ContextMap()
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, "http", first["module"])
	require.Equal(t, "/api/kb/kb-1", first["path"])
	require.Equal(t, "/api/kb/:id", first["route"])
	require.Equal(t, "u1", first["user_id"])
	require.Equal(t, "t1", first["tenant_id"])
	require.NotEmpty(t, first["request_id"])

	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestLoggerMiddlewareSkipsHealthyProbes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := observeLogs(t)

	r := gin.New()
	r.Use(Logger())
	r.GET("/health/live", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health/ready", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	for _, path := range []string{"/health/live", "/health/ready"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "/health/ready", entries[0].ContextMap()["path"])
}
