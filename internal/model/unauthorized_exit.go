package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UnauthorizedExit is a denormalized index of unauthorized exit attempts,
// kept alongside the ledger for fast reporting.
type UnauthorizedExit struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	Plate      string    `gorm:"type:varchar(32);not null;index" json:"plate"`
	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UnauthorizedExit) TableName() string {
	return "unauthorized_exits"
}

func (u *UnauthorizedExit) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
