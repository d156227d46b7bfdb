package cron

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/errs"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CronJob{}, &models.CronJobExecution{}))
	return db
}

type echoParams struct {
	Message  string `json:"message" validate:"required"`
	ServerID string `json:"serverId,omitempty"`
}

func newTestEngine(t *testing.T, fn JobFunc) (*Manager, *repository.CronRepository) {
	t.Helper()
	repo := repository.NewCronRepository(openTestDB(t))
	registry := NewRegistry()
	registry.Register(Registration{
		Identifier:  "echo",
		Description: "test job",
		Fn:          fn,
		NewParams:   func() interface{} { return &echoParams{} },
	})
	registry.Register(Registration{
		Identifier: "backup",
		Fn:         func(*ExecutionContext) error { return nil },
		NewParams:  func() interface{} { return &echoParams{} },
	})
	executor := NewExecutor(repo, registry)
	return NewManager(repo, registry, executor, time.UTC), repo
}

func TestCreateGeneratesIDAndSchedules(t *testing.T) {
	manager, _ := newTestEngine(t, func(*ExecutionContext) error { return nil })

	job, err := manager.Create("echo", json.RawMessage(`{"message":"hi"}`), "*/5 * * * *", CreateOptions{Name: "greeter"})
	require.NoError(t, err)

	assert.Regexp(t, `^echo_[a-z0-9]{8}$`, job.ID)
	assert.Equal(t, models.CronJobActive, job.Status)
	assert.True(t, manager.Scheduled(job.ID))

	next, err := manager.NextRunTime(job.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Zero(t, next.Minute()%5)
}

func TestCreateRejectsUnknownIdentifierAndBadParams(t *testing.T) {
	manager, _ := newTestEngine(t, func(*ExecutionContext) error { return nil })

	_, err := manager.Create("nonexistent", nil, "* * * * *", CreateOptions{})
	assert.True(t, errs.IsNotFound(err))

	_, err = manager.Create("echo", json.RawMessage(`{}`), "* * * * *", CreateOptions{})
	assert.True(t, errs.IsValidation(err), "missing required message field")

	_, err = manager.Create("echo", json.RawMessage(`{"message":"hi","bogus":1}`), "* * * * *", CreateOptions{})
	assert.True(t, errs.IsValidation(err), "unknown field rejected")

	_, err = manager.Create("echo", json.RawMessage(`{"message":"hi"}`), "not a cron", CreateOptions{})
	assert.True(t, errs.IsValidation(err))
}

func TestCreateReactivatesCancelledRow(t *testing.T) {
	manager, _ := newTestEngine(t, func(*ExecutionContext) error { return nil })

	job, err := manager.Create("echo", json.RawMessage(`{"message":"hi"}`), "* * * * *", CreateOptions{ID: "echo_fixed001"})
	require.NoError(t, err)
	require.NoError(t, manager.Cancel(job.ID))
	assert.False(t, manager.Scheduled(job.ID))

	revived, err := manager.Create("echo", json.RawMessage(`{"message":"again"}`), "*/2 * * * *", CreateOptions{ID: "echo_fixed001"})
	require.NoError(t, err)
	assert.Equal(t, models.CronJobActive, revived.Status)
	assert.True(t, manager.Scheduled(job.ID))
}

func TestPauseResumeCancelTransitions(t *testing.T) {
	manager, _ := newTestEngine(t, func(*ExecutionContext) error { return nil })

	job, err := manager.Create("echo", json.RawMessage(`{"message":"hi"}`), "* * * * *", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, manager.Pause(job.ID))
	assert.False(t, manager.Scheduled(job.ID))

	err = manager.Pause(job.ID)
	assert.True(t, errs.IsConflict(err), "pausing a paused job")

	require.NoError(t, manager.Resume(job.ID))
	assert.True(t, manager.Scheduled(job.ID))

	err = manager.Resume(job.ID)
	assert.True(t, errs.IsConflict(err), "resuming an active job")

	require.NoError(t, manager.Cancel(job.ID))
	config, err := manager.GetConfig(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CronJobCancelled, config.Status)

	// CANCELLED resumes back to ACTIVE
	require.NoError(t, manager.Resume(job.ID))
	assert.True(t, manager.Scheduled(job.ID))
}

func TestUpdateReschedulesActiveJob(t *testing.T) {
	manager, _ := newTestEngine(t, func(*ExecutionContext) error { return nil })

	job, err := manager.Create("echo", json.RawMessage(`{"message":"hi"}`), "0 1 * * *", CreateOptions{})
	require.NoError(t, err)

	updated, err := manager.Update(job.ID, "echo", json.RawMessage(`{"message":"bye"}`), "0 2 * * *", nil)
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", updated.Cron)
	assert.True(t, manager.Scheduled(job.ID))

	_, err = manager.Update("missing", "echo", json.RawMessage(`{"message":"x"}`), "* * * * *", nil)
	assert.True(t, errs.IsNotFound(err))
}

func TestGetAllFilters(t *testing.T) {
	manager, _ := newTestEngine(t, func(*ExecutionContext) error { return nil })

	a, err := manager.Create("echo", json.RawMessage(`{"message":"a"}`), "* * * * *", CreateOptions{Name: "nightly echo"})
	require.NoError(t, err)
	_, err = manager.Create("backup", json.RawMessage(`{"message":"b"}`), "15 3 * * *", CreateOptions{Name: "nightly backup"})
	require.NoError(t, err)
	require.NoError(t, manager.Pause(a.ID))

	byIdentifier, err := manager.GetAll(repository.JobFilter{Identifier: "backup"})
	require.NoError(t, err)
	require.Len(t, byIdentifier, 1)

	byStatus, err := manager.GetAll(repository.JobFilter{Statuses: []models.CronJobStatus{models.CronJobPaused}})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, a.ID, byStatus[0].ID)

	byName, err := manager.GetAll(repository.JobFilter{NameLike: "nightly"})
	require.NoError(t, err)
	assert.Len(t, byName, 2)
}

func TestExecutorRecordsCompletedRun(t *testing.T) {
	ran := make(chan *ExecutionContext, 1)
	manager, _ := newTestEngine(t, func(ec *ExecutionContext) error {
		ec.Log("step one")
		ec.Log("step two")
		ran <- ec
		return nil
	})

	job, err := manager.Create("echo", json.RawMessage(`{"message":"hi"}`), "* * * * *", CreateOptions{})
	require.NoError(t, err)

	manager.executor.Run(context.Background(), job.ID)
	ec := <-ran

	assert.Regexp(t, `^\d{13}_[a-z0-9]{4}$`, ec.ExecutionID)
	assert.Equal(t, "hi", ec.Params.(*echoParams).Message)

	history, err := manager.ExecutionHistory(job.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ExecutionCompleted, history[0].Status)
	require.NotNil(t, history[0].DurationMs)

	var messages []string
	require.NoError(t, json.Unmarshal(history[0].Messages, &messages))
	require.Len(t, messages, 2)
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\.\d{3}\] step one$`, messages[0])

	config, err := manager.GetConfig(job.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, config.ExecutionCount)
}

func TestExecutorRecordsFailureAndPanic(t *testing.T) {
	var fail error
	manager, _ := newTestEngine(t, func(*ExecutionContext) error { return fail })

	job, err := manager.Create("echo", json.RawMessage(`{"message":"hi"}`), "* * * * *", CreateOptions{})
	require.NoError(t, err)

	fail = errors.New("disk full")
	manager.executor.Run(context.Background(), job.ID)

	history, err := manager.ExecutionHistory(job.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ExecutionFailed, history[0].Status)
	assert.Contains(t, string(history[0].Messages), "disk full")
}

func TestExecutorRecordsCancellation(t *testing.T) {
	manager, _ := newTestEngine(t, func(ec *ExecutionContext) error {
		if ec.Cancelled() {
			return ErrCancelled
		}
		return nil
	})

	job, err := manager.Create("echo", json.RawMessage(`{"message":"hi"}`), "* * * * *", CreateOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	manager.executor.Run(ctx, job.ID)

	history, err := manager.ExecutionHistory(job.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ExecutionCancelled, history[0].Status)
}

func TestExecutorSkipsInactiveJob(t *testing.T) {
	manager, _ := newTestEngine(t, func(*ExecutionContext) error {
		t.Fatal("paused job must not run")
		return nil
	})

	job, err := manager.Create("echo", json.RawMessage(`{"message":"hi"}`), "* * * * *", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, manager.Pause(job.ID))

	manager.executor.Run(context.Background(), job.ID)

	history, err := manager.ExecutionHistory(job.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRecoverySchedulesActiveRowsAndSkipsUnknown(t *testing.T) {
	manager, repo := newTestEngine(t, func(*ExecutionContext) error { return nil })

	job, err := manager.Create("echo", json.RawMessage(`{"message":"hi"}`), "* * * * *", CreateOptions{})
	require.NoError(t, err)

	// A row whose identifier was removed in an upgrade
	orphan := &models.CronJob{
		ID:         "vanished_job1",
		Identifier: "vanished",
		Cron:       "* * * * *",
		Params:     []byte(`{}`),
		Status:     models.CronJobActive,
	}
	require.NoError(t, repo.SaveJob(orphan))

	// Fresh manager simulates a restart
	registry := NewRegistry()
	registry.Register(Registration{
		Identifier: "echo",
		Fn:         func(*ExecutionContext) error { return nil },
		NewParams:  func() interface{} { return &echoParams{} },
	})
	restarted := NewManager(repo, registry, NewExecutor(repo, registry), time.UTC)
	require.NoError(t, restarted.Recover())

	assert.True(t, restarted.Scheduled(job.ID))
	assert.False(t, restarted.Scheduled("vanished_job1"))

	// The unrecoverable row is left untouched
	stored, err := repo.FindJob("vanished_job1")
	require.NoError(t, err)
	assert.Equal(t, models.CronJobActive, stored.Status)
}

func TestParseScheduleWithSecondsField(t *testing.T) {
	second := 30
	schedule, err := parseSchedule("* * * * *", &second)
	require.NoError(t, err)

	next := schedule.Next(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 30, next.Second())

	bad := 90
	_, err = parseSchedule("* * * * *", &bad)
	assert.True(t, errs.IsValidation(err))
}
