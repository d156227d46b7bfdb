package models

import (
	"time"

	"gorm.io/datatypes"
)

// CronJobStatus is the scheduling state of a cron row
type CronJobStatus string

const (
	CronJobActive    CronJobStatus = "ACTIVE"
	CronJobPaused    CronJobStatus = "PAUSED"
	CronJobCancelled CronJobStatus = "CANCELLED"
)

// CronJob is a persistent scheduled job. Identifier names the registered
// job function; Params is JSON validated against that identifier's
// parameter struct.
type CronJob struct {
	ID         string         `gorm:"primaryKey;size:128" json:"id"`
	Identifier string         `gorm:"size:64;not null;index" json:"identifier"`
	Name       string         `gorm:"size:256" json:"name"`
	Cron       string         `gorm:"size:64;not null" json:"cron"`
	Second     *int           `json:"second,omitempty"`
	Params     datatypes.JSON `json:"params"`

	ExecutionCount int64         `gorm:"not null;default:0" json:"execution_count"`
	Status         CronJobStatus `gorm:"size:16;not null;default:ACTIVE;index" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CronJob) TableName() string {
	return "cron_jobs"
}

// CronExecutionStatus is the outcome of one cron run
type CronExecutionStatus string

const (
	ExecutionRunning   CronExecutionStatus = "RUNNING"
	ExecutionCompleted CronExecutionStatus = "COMPLETED"
	ExecutionFailed    CronExecutionStatus = "FAILED"
	ExecutionCancelled CronExecutionStatus = "CANCELLED"
)

// CronJobExecution is the history row for one run of a cron job
type CronJobExecution struct {
	ID        string `gorm:"primaryKey;size:64" json:"id"`
	CronJobID string `gorm:"size:128;not null;index" json:"cronjob_id"`

	StartedAt  time.Time           `gorm:"not null" json:"started_at"`
	EndedAt    *time.Time          `json:"ended_at,omitempty"`
	DurationMs *int64              `json:"duration_ms,omitempty"`
	Status     CronExecutionStatus `gorm:"size:16;not null" json:"status"`
	Messages   datatypes.JSON      `json:"messages"`

	CronJob CronJob `gorm:"foreignKey:CronJobID" json:"-"`
}

func (CronJobExecution) TableName() string {
	return "cron_job_executions"
}
