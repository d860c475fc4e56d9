package types

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email       string    `gorm:"column:email;not null;uniqueIndex" json:"email"`
	FirstName   string    `gorm:"column:first_name" json:"first_name,omitempty"`
	LastName    string    `gorm:"column:last_name" json:"last_name,omitempty"`
	Institution string    `gorm:"column:institution" json:"institution,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "user" }
