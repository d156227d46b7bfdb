package models

import (
	"time"

	"gorm.io/datatypes"
)

// DynamicConfig is a hot-reloadable per-module configuration blob.
// SchemaVersion is a hash of the module's config struct shape; when it no
// longer matches, the stored JSON is re-validated against the current
// struct and re-saved under the new version.
type DynamicConfig struct {
	ModuleName    string         `gorm:"primaryKey;size:64" json:"module_name"`
	Config        datatypes.JSON `gorm:"not null" json:"config"`
	SchemaVersion string         `gorm:"size:64;not null" json:"schema_version"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (DynamicConfig) TableName() string {
	return "dynamic_configs"
}
