package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mcadmin/mc-admin/pkg/logger"
)

// RequestLogger logs every HTTP request with structured fields
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		}
		if username, exists := c.Get("username"); exists {
			fields["username"] = username
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("HTTP request", nil, fields)
		case status >= 400:
			logger.Warn("HTTP request", fields)
		default:
			logger.Info("HTTP request", fields)
		}
	}
}
