package repository

import (
	"errors"
	"strings"

	"github.com/mcadmin/mc-admin/internal/models"
	"gorm.io/gorm"
)

// CronRepository persists cron jobs and their execution history
type CronRepository struct {
	db *gorm.DB
}

func NewCronRepository(db *gorm.DB) *CronRepository {
	return &CronRepository{db: db}
}

// FindJob returns a cron row by id, or nil
func (r *CronRepository) FindJob(id string) (*models.CronJob, error) {
	var job models.CronJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SaveJob inserts or updates a cron row
func (r *CronRepository) SaveJob(job *models.CronJob) error {
	return r.db.Save(job).Error
}

// UpdateJobStatus changes a cron row's status
func (r *CronRepository) UpdateJobStatus(id string, status models.CronJobStatus) error {
	return r.db.Model(&models.CronJob{}).Where("id = ?", id).Update("status", status).Error
}

// JobFilter narrows FindJobs results
type JobFilter struct {
	Identifier string
	Statuses   []models.CronJobStatus
	NameLike   string
}

// FindJobs lists cron rows matching the filter
func (r *CronRepository) FindJobs(filter JobFilter) ([]models.CronJob, error) {
	q := r.db.Model(&models.CronJob{})
	if filter.Identifier != "" {
		q = q.Where("identifier = ?", filter.Identifier)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.NameLike != "" {
		q = q.Where("name LIKE ?", "%"+strings.ReplaceAll(filter.NameLike, "%", "\\%")+"%")
	}

	var jobs []models.CronJob
	err := q.Order("created_at").Find(&jobs).Error
	return jobs, err
}

// FindActiveJobs lists the rows recovery must re-register
func (r *CronRepository) FindActiveJobs() ([]models.CronJob, error) {
	return r.FindJobs(JobFilter{Statuses: []models.CronJobStatus{models.CronJobActive}})
}

// RecordExecution persists an execution row and bumps the job's counter in
// the same transaction.
func (r *CronRepository) RecordExecution(execution *models.CronJobExecution) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(execution).Error; err != nil {
			return err
		}
		return tx.Model(&models.CronJob{}).
			Where("id = ?", execution.CronJobID).
			UpdateColumn("execution_count", gorm.Expr("execution_count + 1")).Error
	})
}

// ExecutionHistory lists executions for a job, newest first
func (r *CronRepository) ExecutionHistory(cronJobID string, limit int) ([]models.CronJobExecution, error) {
	q := r.db.Where("cron_job_id = ?", cronJobID).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var executions []models.CronJobExecution
	err := q.Find(&executions).Error
	return executions, err
}

// CountExecutions returns the number of execution rows for a job
func (r *CronRepository) CountExecutions(cronJobID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.CronJobExecution{}).Where("cron_job_id = ?", cronJobID).Count(&count).Error
	return count, err
}
