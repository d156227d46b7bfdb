package repository

import (
	"errors"
	"fmt"

	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/pkg/logger"
	"gorm.io/gorm"
)

// ServerRepository persists server rows. Rows are never hard-deleted;
// disappearance from disk turns the ACTIVE row into a REMOVED tombstone.
type ServerRepository struct {
	db *gorm.DB
}

func NewServerRepository(db *gorm.DB) *ServerRepository {
	return &ServerRepository{db: db}
}

// FindActive returns the single ACTIVE row for a server id, or nil
func (r *ServerRepository) FindActive(serverID string) (*models.ServerRecord, error) {
	var rec models.ServerRecord
	err := r.db.Where("server_id = ? AND status = ?", serverID, models.ServerRecordActive).
		Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByID returns a row by primary key
func (r *ServerRepository) FindByID(id uint) (*models.ServerRecord, error) {
	var rec models.ServerRecord
	if err := r.db.First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindAllActive returns all ACTIVE rows
func (r *ServerRepository) FindAllActive() ([]models.ServerRecord, error) {
	var recs []models.ServerRecord
	err := r.db.Where("status = ?", models.ServerRecordActive).Order("server_id").Find(&recs).Error
	return recs, err
}

// EnsureActive returns the ACTIVE row for a server id, creating it if absent
func (r *ServerRepository) EnsureActive(serverID string) (*models.ServerRecord, error) {
	rec, err := r.FindActive(serverID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	rec = &models.ServerRecord{
		ServerID: serverID,
		Status:   models.ServerRecordActive,
	}
	if err := r.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to create server record: %w", err)
	}
	return rec, nil
}

// Tombstone marks the ACTIVE row for a server id as REMOVED
func (r *ServerRepository) Tombstone(serverID string) error {
	return r.db.Model(&models.ServerRecord{}).
		Where("server_id = ? AND status = ?", serverID, models.ServerRecordActive).
		Update("status", models.ServerRecordRemoved).Error
}

// SyncWithInstances reconciles the table with the live instance id set:
// new instances get ACTIVE rows, vanished instances get tombstoned.
func (r *ServerRepository) SyncWithInstances(instanceIDs []string) error {
	live := make(map[string]bool, len(instanceIDs))
	for _, id := range instanceIDs {
		live[id] = true
	}

	active, err := r.FindAllActive()
	if err != nil {
		return err
	}

	for _, rec := range active {
		if !live[rec.ServerID] {
			if err := r.Tombstone(rec.ServerID); err != nil {
				return err
			}
			logger.Info("Server record tombstoned", map[string]interface{}{
				"server_id": rec.ServerID,
			})
		}
		delete(live, rec.ServerID)
	}

	for id := range live {
		if _, err := r.EnsureActive(id); err != nil {
			return err
		}
		logger.Info("Server record created", map[string]interface{}{
			"server_id": id,
		})
	}

	return nil
}
