// Package api is the HTTP boundary: thin gin handlers translating
// requests onto the core services and errors onto status codes.
package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

// fail attaches the error; the error-handler middleware renders it
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// respond writes a JSON body with the given status
func respond(c *gin.Context, status int, body interface{}) {
	c.JSON(status, body)
}

// bindJSON decodes the request body, reporting a Validation error
func bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		fail(c, errs.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

// intQuery reads an integer query parameter with a default
func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}
