package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcadmin/mc-admin/internal/backup"
	"github.com/mcadmin/mc-admin/internal/restic"
)

type SnapshotHandler struct {
	backups *backup.Service
}

func NewSnapshotHandler(backups *backup.Service) *SnapshotHandler {
	return &SnapshotHandler{backups: backups}
}

// List returns repository snapshots, optionally a single one by id
func (h *SnapshotHandler) List(c *gin.Context) {
	snapshots, err := h.backups.List(c.Request.Context(), c.Query("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"snapshots": snapshots})
}

type backupRequest struct {
	ServerID string `json:"serverId"`
	Path     string `json:"path"`
}

// Create takes a snapshot of a server's data (or the whole servers root)
func (h *SnapshotHandler) Create(c *gin.Context) {
	var req backupRequest
	if !bindJSON(c, &req) {
		return
	}

	summary, err := h.backups.Backup(c.Request.Context(), req.ServerID, req.Path)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, summary)
}

type restoreRequest struct {
	Include string `json:"include"`
	DryRun  bool   `json:"dryRun"`
}

// Restore applies a snapshot; with dryRun it only previews the actions
func (h *SnapshotHandler) Restore(c *gin.Context) {
	var req restoreRequest
	if !bindJSON(c, &req) {
		return
	}

	if req.DryRun {
		actions, err := h.backups.RestorePreview(c.Request.Context(), c.Param("id"), req.Include)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"dryRun": true, "actions": actions})
		return
	}

	if err := h.backups.Restore(c.Request.Context(), c.Param("id"), req.Include); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"restored": true})
}

// ForgetSnapshot removes one snapshot by id
func (h *SnapshotHandler) ForgetSnapshot(c *gin.Context) {
	prune := c.Query("prune") == "true"
	if err := h.backups.ForgetSnapshot(c.Request.Context(), c.Param("id"), prune); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"forgotten": true})
}

type forgetRequest struct {
	restic.RetentionPolicy
	Prune bool `json:"prune"`
}

// Forget applies a retention policy across the repository
func (h *SnapshotHandler) Forget(c *gin.Context) {
	var req forgetRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.backups.Forget(c.Request.Context(), req.RetentionPolicy, req.Prune); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"forgotten": true})
}
