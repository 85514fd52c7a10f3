package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/response"
)

// bindJSON decodes the request body into dest. Validation is left to the service that
// receives dest. An empty body leaves dest untouched.
func bindJSON[T any](c *gin.Context, dest *T) bool {
	if c.Request == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid JSON payload"))
		return false
	}
	return true
}

// parseIntQuery reads a positive integer query parameter, falling back on absent, malformed
// or non-positive values.
func parseIntQuery(c *gin.Context, key string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
