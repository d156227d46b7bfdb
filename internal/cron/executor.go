package cron

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// ErrCancelled is returned by job functions that observe cancellation
var ErrCancelled = errors.New("execution cancelled")

const randAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randSuffix returns n random lowercase alphanumeric characters
func randSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = randAlphabet[int(b)%len(randAlphabet)]
	}
	return string(buf)
}

// ExecutionContext is handed to the job function for one run. Log
// appends timestamped messages that end up in the execution history
// row.
type ExecutionContext struct {
	CronJobID   string
	Identifier  string
	ExecutionID string
	Params      interface{}
	StartedAt   time.Time

	ctx context.Context

	mu       sync.Mutex
	messages []string
}

func newExecutionContext(ctx context.Context, job *models.CronJob, params interface{}) *ExecutionContext {
	now := time.Now()
	return &ExecutionContext{
		CronJobID:   job.ID,
		Identifier:  job.Identifier,
		ExecutionID: fmt.Sprintf("%d_%s", now.UnixMilli(), randSuffix(4)),
		Params:      params,
		StartedAt:   now,
		ctx:         ctx,
	}
}

// Log appends a message with a [HH:MM:SS.mmm] prefix
func (ec *ExecutionContext) Log(msg string) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05.000"), msg)
	ec.mu.Lock()
	ec.messages = append(ec.messages, line)
	ec.mu.Unlock()
}

// Logf is Log with formatting
func (ec *ExecutionContext) Logf(format string, args ...interface{}) {
	ec.Log(fmt.Sprintf(format, args...))
}

// Context returns the run's cancellation context
func (ec *ExecutionContext) Context() context.Context {
	return ec.ctx
}

// Cancelled reports whether the run has been cancelled. Long-running
// job bodies poll this between steps.
func (ec *ExecutionContext) Cancelled() bool {
	select {
	case <-ec.ctx.Done():
		return true
	default:
		return false
	}
}

// Messages returns a copy of the accumulated log lines
func (ec *ExecutionContext) Messages() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return append([]string(nil), ec.messages...)
}

// Executor runs one job to completion and persists the outcome. Runs
// of the same job are serialized; different jobs run concurrently.
type Executor struct {
	repo     *repository.CronRepository
	registry *Registry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewExecutor(repo *repository.CronRepository, registry *Registry) *Executor {
	return &Executor{
		repo:     repo,
		registry: registry,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Executor) jobLock(jobID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[jobID] = lock
	}
	return lock
}

// Run executes one fire of the job. The row is re-read so parameter
// updates between fires take effect, and a row no longer ACTIVE is
// skipped (covers a pause racing a fire).
func (e *Executor) Run(ctx context.Context, jobID string) {
	lock := e.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := e.repo.FindJob(jobID)
	if err != nil {
		logger.Error("cron run aborted, could not load job", err, map[string]interface{}{
			"cronjob_id": jobID,
		})
		return
	}
	if job == nil || job.Status != models.CronJobActive {
		return
	}

	params, err := e.registry.DecodeParams(job.Identifier, job.Params)
	if err != nil {
		logger.Error("cron run aborted, invalid params", err, map[string]interface{}{
			"cronjob_id": jobID,
			"identifier": job.Identifier,
		})
		return
	}

	reg, _ := e.registry.Lookup(job.Identifier)
	ec := newExecutionContext(ctx, job, params)

	logger.Info("cron execution started", map[string]interface{}{
		"cronjob_id":   job.ID,
		"identifier":   job.Identifier,
		"execution_id": ec.ExecutionID,
	})

	runErr := e.invoke(reg.Fn, ec)
	ended := time.Now()
	duration := ended.Sub(ec.StartedAt).Milliseconds()

	status := models.ExecutionCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, ErrCancelled), errors.Is(runErr, context.Canceled):
		status = models.ExecutionCancelled
		ec.Log("execution cancelled")
	default:
		status = models.ExecutionFailed
		ec.Logf("execution failed: %v", runErr)
	}

	messages, err := json.Marshal(ec.Messages())
	if err != nil {
		messages = []byte("[]")
	}

	row := &models.CronJobExecution{
		ID:         ec.ExecutionID,
		CronJobID:  job.ID,
		StartedAt:  ec.StartedAt,
		EndedAt:    &ended,
		DurationMs: &duration,
		Status:     status,
		Messages:   messages,
	}
	if err := e.repo.RecordExecution(row); err != nil {
		logger.Error("failed to record cron execution", err, map[string]interface{}{
			"cronjob_id":   job.ID,
			"execution_id": ec.ExecutionID,
		})
	}

	logger.Info("cron execution finished", map[string]interface{}{
		"cronjob_id":   job.ID,
		"execution_id": ec.ExecutionID,
		"status":       string(status),
		"duration_ms":  duration,
	})
}

// invoke shields the engine from panicking job bodies
func (e *Executor) invoke(fn JobFunc, ec *ExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ec)
}
