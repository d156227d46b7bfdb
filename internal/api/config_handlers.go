package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

// ConfigModule is one hot-reloadable config module as the boundary sees
// it: raw JSON in, raw JSON out. dynconfig.Module satisfies it.
type ConfigModule interface {
	Raw() ([]byte, error)
	SetRaw(raw []byte) error
}

type ConfigHandler struct {
	modules map[string]ConfigModule
}

// NewConfigHandler registers the modules the boundary exposes, keyed by
// module name.
func NewConfigHandler(modules map[string]ConfigModule) *ConfigHandler {
	return &ConfigHandler{modules: modules}
}

// List returns the registered module names
func (h *ConfigHandler) List(c *gin.Context) {
	names := make([]string, 0, len(h.modules))
	for name := range h.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	respond(c, http.StatusOK, gin.H{"modules": names})
}

// Get returns a module's current configuration
func (h *ConfigHandler) Get(c *gin.Context) {
	module, ok := h.modules[c.Param("module")]
	if !ok {
		fail(c, errs.NotFound("unknown config module %q", c.Param("module")))
		return
	}

	raw, err := module.Raw()
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// Set replaces a module's configuration. Unknown fields are rejected.
func (h *ConfigHandler) Set(c *gin.Context) {
	module, ok := h.modules[c.Param("module")]
	if !ok {
		fail(c, errs.NotFound("unknown config module %q", c.Param("module")))
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		fail(c, errs.Validation("unreadable request body"))
		return
	}
	if !json.Valid(raw) {
		fail(c, errs.Validation("request body is not valid JSON"))
		return
	}

	if err := module.SetRaw(raw); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"updated": true})
}
