package types

import (
	"time"

	"github.com/google/uuid"
)

// NodeLock marks a node as claimed by a worker. Existence of the row is
// the lock: acquisition inserts it, and the unique index on node_id turns
// a concurrent acquisition into an integrity violation.
type NodeLock struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	NodeID    uuid.UUID `gorm:"type:uuid;column:node_id;not null;uniqueIndex" json:"node_id"`
	Owner     string    `gorm:"column:owner;not null" json:"owner"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (NodeLock) TableName() string { return "node_lock" }
