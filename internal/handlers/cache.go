package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/permissions"
	apperrors "github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/response"
)

// CacheHandler exposes permission cache statistics and manual maintenance.
type CacheHandler struct {
	cache   *permissions.PermissionCache
	backend string
}

// NewCacheHandler constructs a CacheHandler for the configured backend.
func NewCacheHandler(cache *permissions.PermissionCache, backend string) (*CacheHandler, error) {
	if cache == nil {
		return nil, errors.New("cache handler: permission cache is required")
	}
	return &CacheHandler{cache: cache, backend: backend}, nil
}

// GET /api/cache/stats
func (h *CacheHandler) Stats(c *gin.Context) {
	stats, err := h.cache.Stats(requestContext(c))
	if err != nil {
		response.Error(c, apperrors.Infrastructure(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"backend":      h.backend,
		"hits":         stats.Hits,
		"misses":       stats.Misses,
		"hit_rate":     stats.HitRate,
		"entries":      stats.Entries,
		"decision_ttl": h.cache.DecisionTTL().String(),
	})
}

// POST /api/cache/sweep
func (h *CacheHandler) Sweep(c *gin.Context) {
	removed, err := h.cache.Sweep(requestContext(c))
	if err != nil {
		response.Error(c, apperrors.Infrastructure(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": removed})
}
