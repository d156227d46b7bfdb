package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
	"gorm.io/datatypes"

	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/errs"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// fiveField parses the standard cron dialect
var fiveField = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)

// sixField additionally takes a leading seconds field
var sixField = robfig.NewParser(
	robfig.Second | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)

// parseSchedule validates a 5-field expression, optionally pinned to a
// fixed second within each matching minute.
func parseSchedule(cronExpr string, second *int) (robfig.Schedule, error) {
	if second == nil {
		schedule, err := fiveField.Parse(cronExpr)
		if err != nil {
			return nil, errs.Validation("invalid cron expression %q: %v", cronExpr, err)
		}
		return schedule, nil
	}
	if *second < 0 || *second > 59 {
		return nil, errs.Validation("second must be 0-59, got %d", *second)
	}
	schedule, err := sixField.Parse(fmt.Sprintf("%d %s", *second, cronExpr))
	if err != nil {
		return nil, errs.Validation("invalid cron expression %q: %v", cronExpr, err)
	}
	return schedule, nil
}

// Manager owns the scheduler and the cron row lifecycle. All mutations
// go through it so the trigger table and the database stay consistent.
type Manager struct {
	repo     *repository.CronRepository
	registry *Registry
	executor *Executor

	scheduler *robfig.Cron
	location  *time.Location

	mu      sync.Mutex
	entries map[string]robfig.EntryID

	runCtx    context.Context
	cancelRun context.CancelFunc
}

func NewManager(repo *repository.CronRepository, registry *Registry, executor *Executor, location *time.Location) *Manager {
	if location == nil {
		location = time.Local
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &Manager{
		repo:      repo,
		registry:  registry,
		executor:  executor,
		scheduler: robfig.New(robfig.WithLocation(location)),
		location:  location,
		entries:   make(map[string]robfig.EntryID),
		runCtx:    runCtx,
		cancelRun: cancelRun,
	}
}

// Start begins firing triggers
func (m *Manager) Start() {
	m.scheduler.Start()
}

// Stop stops the scheduler, cancels in-flight executions and waits for
// them to drain.
func (m *Manager) Stop() {
	m.cancelRun()
	<-m.scheduler.Stop().Done()
}

// CreateOptions are the optional parts of Create
type CreateOptions struct {
	ID     string
	Name   string
	Second *int
}

// Create registers a new job or re-activates a CANCELLED row with the
// same id. The id defaults to "<identifier>_<rand8>".
func (m *Manager) Create(identifier string, params json.RawMessage, cronExpr string, opts CreateOptions) (*models.CronJob, error) {
	if _, err := m.registry.DecodeParams(identifier, params); err != nil {
		return nil, err
	}
	schedule, err := parseSchedule(cronExpr, opts.Second)
	if err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("%s_%s", identifier, randSuffix(8))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.repo.FindJob(id)
	if err != nil {
		return nil, errs.Internal(err, "failed to load cron job %s", id)
	}

	job := &models.CronJob{
		ID:         id,
		Identifier: identifier,
		Name:       opts.Name,
		Cron:       cronExpr,
		Second:     opts.Second,
		Params:     datatypes.JSON(params),
		Status:     models.CronJobActive,
	}
	if existing != nil {
		job.ExecutionCount = existing.ExecutionCount
		job.CreatedAt = existing.CreatedAt
		if existing.Name != "" && opts.Name == "" {
			job.Name = existing.Name
		}
	}

	if err := m.repo.SaveJob(job); err != nil {
		return nil, errs.Internal(err, "failed to save cron job %s", id)
	}

	m.unscheduleLocked(id)
	m.scheduleLocked(id, schedule)

	logger.Info("cron job created", map[string]interface{}{
		"cronjob_id": id,
		"identifier": identifier,
		"cron":       cronExpr,
	})
	return job, nil
}

// Update rewrites a job's configuration. An ACTIVE job is rescheduled
// atomically from the caller's perspective.
func (m *Manager) Update(id, identifier string, params json.RawMessage, cronExpr string, second *int) (*models.CronJob, error) {
	if _, err := m.registry.DecodeParams(identifier, params); err != nil {
		return nil, err
	}
	schedule, err := parseSchedule(cronExpr, second)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.repo.FindJob(id)
	if err != nil {
		return nil, errs.Internal(err, "failed to load cron job %s", id)
	}
	if job == nil {
		return nil, errs.NotFound("cron job %s not found", id)
	}

	job.Identifier = identifier
	job.Cron = cronExpr
	job.Second = second
	job.Params = datatypes.JSON(params)
	if err := m.repo.SaveJob(job); err != nil {
		return nil, errs.Internal(err, "failed to save cron job %s", id)
	}

	if job.Status == models.CronJobActive {
		m.unscheduleLocked(id)
		m.scheduleLocked(id, schedule)
	}

	logger.Info("cron job updated", map[string]interface{}{
		"cronjob_id": id,
		"cron":       cronExpr,
	})
	return job, nil
}

// Pause drops the trigger of an ACTIVE job
func (m *Manager) Pause(id string) error {
	return m.transition(id, models.CronJobPaused, func(job *models.CronJob) error {
		if job.Status != models.CronJobActive {
			return errs.Conflict("cron job %s is %s, only ACTIVE jobs can be paused", id, job.Status)
		}
		m.unscheduleLocked(id)
		return nil
	})
}

// Resume re-registers a PAUSED or CANCELLED job
func (m *Manager) Resume(id string) error {
	return m.transition(id, models.CronJobActive, func(job *models.CronJob) error {
		if job.Status == models.CronJobActive {
			return errs.Conflict("cron job %s is already ACTIVE", id)
		}
		schedule, err := parseSchedule(job.Cron, job.Second)
		if err != nil {
			return err
		}
		m.scheduleLocked(id, schedule)
		return nil
	})
}

// Cancel soft-deletes a job: the trigger is dropped, the row and its
// execution history remain.
func (m *Manager) Cancel(id string) error {
	return m.transition(id, models.CronJobCancelled, func(job *models.CronJob) error {
		if job.Status == models.CronJobCancelled {
			return errs.Conflict("cron job %s is already CANCELLED", id)
		}
		m.unscheduleLocked(id)
		return nil
	})
}

func (m *Manager) transition(id string, to models.CronJobStatus, apply func(job *models.CronJob) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.repo.FindJob(id)
	if err != nil {
		return errs.Internal(err, "failed to load cron job %s", id)
	}
	if job == nil {
		return errs.NotFound("cron job %s not found", id)
	}

	if err := apply(job); err != nil {
		return err
	}
	if err := m.repo.UpdateJobStatus(id, to); err != nil {
		return errs.Internal(err, "failed to update cron job %s", id)
	}

	logger.Info("cron job status changed", map[string]interface{}{
		"cronjob_id": id,
		"status":     string(to),
	})
	return nil
}

// GetConfig returns one cron row
func (m *Manager) GetConfig(id string) (*models.CronJob, error) {
	job, err := m.repo.FindJob(id)
	if err != nil {
		return nil, errs.Internal(err, "failed to load cron job %s", id)
	}
	if job == nil {
		return nil, errs.NotFound("cron job %s not found", id)
	}
	return job, nil
}

// GetAll lists cron rows matching the filter
func (m *Manager) GetAll(filter repository.JobFilter) ([]models.CronJob, error) {
	return m.repo.FindJobs(filter)
}

// ExecutionHistory lists a job's runs, newest first
func (m *Manager) ExecutionHistory(id string, limit int) ([]models.CronJobExecution, error) {
	if _, err := m.GetConfig(id); err != nil {
		return nil, err
	}
	return m.repo.ExecutionHistory(id, limit)
}

// NextRunTime returns the next fire time of a scheduled job, or nil
// when the job carries no trigger (paused, cancelled).
func (m *Manager) NextRunTime(id string) (*time.Time, error) {
	if _, err := m.GetConfig(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	entryID, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	next := m.scheduler.Entry(entryID).Next
	if next.IsZero() {
		return nil, nil
	}
	return &next, nil
}

// Recover registers triggers for every ACTIVE row at boot. Rows with
// unknown identifiers or invalid params are left untouched in the
// database but not scheduled.
func (m *Manager) Recover() error {
	jobs, err := m.repo.FindActiveJobs()
	if err != nil {
		return errs.Internal(err, "failed to load active cron jobs")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	recovered := 0
	for _, job := range jobs {
		if _, err := m.registry.DecodeParams(job.Identifier, job.Params); err != nil {
			logger.Warn("skipping unrecoverable cron job", map[string]interface{}{
				"cronjob_id": job.ID,
				"identifier": job.Identifier,
				"reason":     err.Error(),
			})
			continue
		}
		schedule, err := parseSchedule(job.Cron, job.Second)
		if err != nil {
			logger.Warn("skipping cron job with invalid schedule", map[string]interface{}{
				"cronjob_id": job.ID,
				"cron":       job.Cron,
				"reason":     err.Error(),
			})
			continue
		}
		m.scheduleLocked(job.ID, schedule)
		recovered++
	}

	logger.Info("cron recovery complete", map[string]interface{}{
		"active_rows": len(jobs),
		"scheduled":   recovered,
	})
	return nil
}

// Scheduled reports whether a trigger is currently registered
func (m *Manager) Scheduled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

func (m *Manager) scheduleLocked(id string, schedule robfig.Schedule) {
	entryID := m.scheduler.Schedule(schedule, robfig.FuncJob(func() {
		m.executor.Run(m.runCtx, id)
	}))
	m.entries[id] = entryID
}

func (m *Manager) unscheduleLocked(id string) {
	if entryID, ok := m.entries[id]; ok {
		m.scheduler.Remove(entryID)
		delete(m.entries, id)
	}
}

// ValidateExpression checks a cron expression without touching state,
// used by the HTTP boundary for dry validation.
func ValidateExpression(cronExpr string, second *int) error {
	_, err := parseSchedule(strings.TrimSpace(cronExpr), second)
	return err
}
