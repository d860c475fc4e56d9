package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AuthInfo holds the per-user access configuration for a computer.
type AuthInfo struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ComputerID uuid.UUID      `gorm:"type:uuid;column:computer_id;not null;index:idx_auth_info,unique,priority:1" json:"computer_id"`
	UserID     uuid.UUID      `gorm:"type:uuid;column:user_id;not null;index:idx_auth_info,unique,priority:2" json:"user_id"`
	Enabled    bool           `gorm:"column:enabled;not null;default:true" json:"enabled"`
	AuthParams datatypes.JSON `gorm:"column:auth_params" json:"auth_params"`
	Metadata   datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
}

func (AuthInfo) TableName() string { return "auth_info" }
