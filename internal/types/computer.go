package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Computer describes a remote compute resource that calculation nodes may
// reference. It participates in content hashing through its UUID only.
type Computer struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string         `gorm:"column:name;not null;uniqueIndex" json:"name"`
	Hostname      string         `gorm:"column:hostname;not null" json:"hostname"`
	Description   string         `gorm:"column:description" json:"description,omitempty"`
	TransportType string         `gorm:"column:transport_type;not null" json:"transport_type"`
	SchedulerType string         `gorm:"column:scheduler_type;not null" json:"scheduler_type"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (Computer) TableName() string { return "computer" }
