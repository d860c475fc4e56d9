package types

import (
	"time"

	"github.com/google/uuid"
)

// Link is a persisted typed provenance edge between two stored nodes.
// The unique index on (target_id, label) is the final arbiter for label
// collisions under concurrent writers.
type Link struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SourceID  uuid.UUID `gorm:"type:uuid;column:source_id;not null;index" json:"source_id"`
	TargetID  uuid.UUID `gorm:"type:uuid;column:target_id;not null;index:idx_link_target_label,unique,priority:1" json:"target_id"`
	Type      string    `gorm:"column:type;not null;index" json:"type"`
	Label     string    `gorm:"column:label;not null;index:idx_link_target_label,unique,priority:2" json:"label"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Link) TableName() string { return "link" }
