package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Node is the persisted record of a provenance graph node. The integer ID
// is assigned by the database at store time; the UUID is assigned in memory
// when the node is instantiated and is never reused.
type Node struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UUID        uuid.UUID      `gorm:"type:uuid;column:uuid;not null;uniqueIndex" json:"uuid"`
	Kind        string         `gorm:"column:kind;not null;index" json:"kind"`
	ProcessType string         `gorm:"column:process_type;index" json:"process_type,omitempty"`
	Label       string         `gorm:"column:label" json:"label,omitempty"`
	Description string         `gorm:"column:description" json:"description,omitempty"`
	Attributes  datatypes.JSON `gorm:"column:attributes" json:"attributes"`
	Extras      datatypes.JSON `gorm:"column:extras" json:"extras"`
	ComputerID  *uuid.UUID     `gorm:"type:uuid;column:computer_id;index" json:"computer_id,omitempty"`
	UserID      *uuid.UUID     `gorm:"type:uuid;column:user_id;index" json:"user_id,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Node) TableName() string { return "node" }
