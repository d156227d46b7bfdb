package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcadmin/mc-admin/pkg/errs"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// ErrorHandler recovers panics and translates errors attached to the
// context into JSON responses with the status pkg/errs assigns.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", fmt.Errorf("%v", r), map[string]interface{}{
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := errs.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", err, map[string]interface{}{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			})
		}
		c.JSON(status, gin.H{"error": err.Error()})
	}
}
