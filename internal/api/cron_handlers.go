package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcadmin/mc-admin/internal/cron"
	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/internal/repository"
)

type CronHandler struct {
	manager  *cron.Manager
	registry *cron.Registry
	cronRepo *repository.CronRepository

	// Window start for the restart slot finder, "HH:MM"
	restartWindowStart string
}

func NewCronHandler(manager *cron.Manager, registry *cron.Registry, cronRepo *repository.CronRepository, restartWindowStart string) *CronHandler {
	return &CronHandler{
		manager:            manager,
		registry:           registry,
		cronRepo:           cronRepo,
		restartWindowStart: restartWindowStart,
	}
}

type cronJobRequest struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Identifier string          `json:"identifier" binding:"required"`
	CronExpr   string          `json:"cronExpression" binding:"required"`
	Second     *int            `json:"second"`
	Params     json.RawMessage `json:"params"`
}

// CreateJob registers a new scheduled job
func (h *CronHandler) CreateJob(c *gin.Context) {
	var req cronJobRequest
	if !bindJSON(c, &req) {
		return
	}

	job, err := h.manager.Create(req.Identifier, req.Params, req.CronExpr, cron.CreateOptions{
		ID:     req.ID,
		Name:   req.Name,
		Second: req.Second,
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, job)
}

// UpdateJob atomically replaces a job's params and schedule
func (h *CronHandler) UpdateJob(c *gin.Context) {
	var req cronJobRequest
	if !bindJSON(c, &req) {
		return
	}

	job, err := h.manager.Update(c.Param("id"), req.Identifier, req.Params, req.CronExpr, req.Second)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, job)
}

// ListJobs returns jobs matching the filter query parameters
func (h *CronHandler) ListJobs(c *gin.Context) {
	filter := repository.JobFilter{
		Identifier: c.Query("identifier"),
		NameLike:   c.Query("name"),
	}
	for _, status := range c.QueryArray("status") {
		filter.Statuses = append(filter.Statuses, models.CronJobStatus(status))
	}

	jobs, err := h.manager.GetAll(filter)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob returns one job row plus its next trigger time
func (h *CronHandler) GetJob(c *gin.Context) {
	job, err := h.manager.GetConfig(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	next, err := h.manager.NextRunTime(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"job": job, "nextRunTime": next})
}

func (h *CronHandler) transition(c *gin.Context, op func(id string) error) {
	if err := op(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	job, err := h.manager.GetConfig(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, job)
}

func (h *CronHandler) PauseJob(c *gin.Context)  { h.transition(c, h.manager.Pause) }
func (h *CronHandler) ResumeJob(c *gin.Context) { h.transition(c, h.manager.Resume) }
func (h *CronHandler) CancelJob(c *gin.Context) { h.transition(c, h.manager.Cancel) }

// Executions returns the most recent execution records of a job
func (h *CronHandler) Executions(c *gin.Context) {
	history, err := h.manager.ExecutionHistory(c.Param("id"), intQuery(c, "limit", 20))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"executions": history})
}

// Identifiers lists the registered job types
func (h *CronHandler) Identifiers(c *gin.Context) {
	type identifier struct {
		Identifier  string `json:"identifier"`
		Description string `json:"description"`
	}

	var ids []identifier
	for _, name := range h.registry.Identifiers() {
		reg, _ := h.registry.Lookup(name)
		ids = append(ids, identifier{Identifier: name, Description: reg.Description})
	}
	respond(c, http.StatusOK, gin.H{"identifiers": ids})
}

// RestartSlot proposes a restart schedule that avoids every backup
// job's minutes
func (h *CronHandler) RestartSlot(c *gin.Context) {
	expr, err := cron.FindRestartSlot(h.cronRepo, h.restartWindowStart, cron.SlotOptions{
		ExcludeServerID: c.Query("serverId"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"cronExpression": expr})
}
