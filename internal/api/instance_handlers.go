package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcadmin/mc-admin/internal/supervisor"
	"github.com/mcadmin/mc-admin/pkg/errs"
)

type InstanceHandler struct {
	sup *supervisor.Supervisor
}

func NewInstanceHandler(sup *supervisor.Supervisor) *InstanceHandler {
	return &InstanceHandler{sup: sup}
}

// List returns the ids and statuses of all instances
func (h *InstanceHandler) List(c *gin.Context) {
	ids, err := h.sup.List()
	if err != nil {
		fail(c, err)
		return
	}

	instances := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		status, err := h.sup.Status(c.Request.Context(), id)
		if err != nil {
			instances = append(instances, gin.H{"id": id, "status": "UNKNOWN"})
			continue
		}
		instances = append(instances, gin.H{"id": id, "status": status.String()})
	}
	respond(c, http.StatusOK, gin.H{"instances": instances})
}

// Get returns one instance's status and compose properties
func (h *InstanceHandler) Get(c *gin.Context) {
	info, err := h.sup.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	body := gin.H{"id": info.ID, "status": info.Status.String()}
	if p := info.Properties; p != nil {
		body["containerName"] = p.ContainerName
		body["image"] = p.Image
		body["javaVersion"] = p.JavaVersion
		body["serverType"] = p.ServerType
		body["gameVersion"] = p.GameVersion
		body["maxMemoryBytes"] = p.MaxMemoryBytes
		body["gamePort"] = p.GamePort
		body["rconPort"] = p.RconPort
	}
	respond(c, http.StatusOK, body)
}

// Create materializes a new instance from raw compose YAML
func (h *InstanceHandler) Create(c *gin.Context) {
	id := c.Param("id")
	composeYAML, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		fail(c, errs.Validation("unreadable request body"))
		return
	}

	if err := h.sup.Create(id, composeYAML); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"id": id, "status": supervisor.StatusExists.String()})
}

// UpdateCompose replaces the compose file of a container-less instance
func (h *InstanceHandler) UpdateCompose(c *gin.Context) {
	composeYAML, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		fail(c, errs.Validation("unreadable request body"))
		return
	}

	if err := h.sup.UpdateCompose(c.Request.Context(), c.Param("id"), composeYAML); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"updated": true})
}

// Remove deletes the instance directory
func (h *InstanceHandler) Remove(c *gin.Context) {
	if err := h.sup.Remove(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"removed": true})
}

func (h *InstanceHandler) lifecycle(c *gin.Context, op func() error) {
	if err := op(); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"ok": true})
}

func (h *InstanceHandler) Up(c *gin.Context) {
	h.lifecycle(c, func() error { return h.sup.Up(c.Request.Context(), c.Param("id")) })
}

func (h *InstanceHandler) Down(c *gin.Context) {
	h.lifecycle(c, func() error { return h.sup.Down(c.Request.Context(), c.Param("id")) })
}

func (h *InstanceHandler) Start(c *gin.Context) {
	h.lifecycle(c, func() error { return h.sup.Start(c.Request.Context(), c.Param("id")) })
}

func (h *InstanceHandler) Stop(c *gin.Context) {
	h.lifecycle(c, func() error { return h.sup.Stop(c.Request.Context(), c.Param("id")) })
}

func (h *InstanceHandler) Restart(c *gin.Context) {
	h.lifecycle(c, func() error { return h.sup.Restart(c.Request.Context(), c.Param("id")) })
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
}

// Command runs a console command over RCON
func (h *InstanceHandler) Command(c *gin.Context) {
	var req commandRequest
	if !bindJSON(c, &req) {
		return
	}

	out, err := h.sup.SendRconCommand(c.Request.Context(), c.Param("id"), req.Command)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"response": out})
}

// Players returns the authoritative online player list
func (h *InstanceHandler) Players(c *gin.Context) {
	players, err := h.sup.ListPlayers(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if players == nil {
		players = []string{}
	}
	respond(c, http.StatusOK, gin.H{"players": players})
}

// Stats samples container resource usage (takes about a second)
func (h *InstanceHandler) Stats(c *gin.Context) {
	stats, err := h.sup.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"cpuPercent":       stats.CPUPercent,
		"memoryBytes":      stats.MemoryBytes,
		"diskReadBytes":    stats.DiskReadBytes,
		"diskWrittenBytes": stats.DiskWrittenBytes,
		"networkRxBytes":   stats.NetworkRxBytes,
		"networkTxBytes":   stats.NetworkTxBytes,
	})
}

// DiskSpace reports the filesystem behind the instance's data dir
func (h *InstanceHandler) DiskSpace(c *gin.Context) {
	space, err := h.sup.DiskSpaceInfo(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, space)
}

// Rebuild runs down, compose swap, up, streaming progress as SSE
func (h *InstanceHandler) Rebuild(c *gin.Context) {
	composeYAML, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		fail(c, errs.Validation("unreadable request body"))
		return
	}

	progress := make(chan string, 16)
	result := make(chan error, 1)
	go func() {
		result <- h.sup.Rebuild(c.Request.Context(), c.Param("id"), composeYAML, progress)
		close(progress)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Status(http.StatusOK)
	for msg := range progress {
		c.SSEvent("progress", msg)
		c.Writer.Flush()
	}
	if err := <-result; err != nil {
		c.SSEvent("error", err.Error())
		c.Writer.Flush()
	}
}
