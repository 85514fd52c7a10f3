package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/logger"
	"github.com/charlesng35/kbguard/pkg/response"
)

// Recovery turns a handler panic into a generic 500 envelope. If the handler already
// started the response only the log entry is written.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			logger.WithModule("http").Error("handler panic",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetString(CtxRequestIDKey)),
				zap.String("user_id", c.GetString(CtxUserIDKey)),
				zap.String("tenant_id", c.GetString(CtxTenantIDKey)),
				zap.String("panic", fmt.Sprint(recovered)),
				zap.Stack("stack"),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			response.Error(c, errors.ErrInternalServer)
			c.Abort()
		}()
		c.Next()
	}
}

// NotFoundHandler answers unknown routes with the JSON error envelope.
func NotFoundHandler(c *gin.Context) {
	err := errors.ErrNotFound.WithMessage(fmt.Sprintf("route %s %s not found", c.Request.Method, c.Request.URL.Path))
	response.Error(c, err)
}
