package models

import (
	"time"
)

// ServerRecordStatus is the lifecycle state of a persisted server row
type ServerRecordStatus string

const (
	ServerRecordActive  ServerRecordStatus = "ACTIVE"
	ServerRecordRemoved ServerRecordStatus = "REMOVED"
)

// ServerRecord is the persisted counterpart of a filesystem instance.
// When an instance disappears from disk its ACTIVE row becomes a REMOVED
// tombstone instead of being deleted, so player history keeps valid
// foreign keys. At most one ACTIVE row may exist per ServerID.
type ServerRecord struct {
	ID       uint               `gorm:"primaryKey" json:"id"`
	ServerID string             `gorm:"size:64;not null;index" json:"server_id"`
	Status   ServerRecordStatus `gorm:"size:16;not null;default:ACTIVE;index" json:"status"`

	// Optional template provenance
	ServerType  string `gorm:"size:32" json:"server_type,omitempty"`
	GameVersion string `gorm:"size:32" json:"game_version,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ServerRecord) TableName() string {
	return "server_records"
}
