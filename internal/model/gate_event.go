package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GateEvent audits every command dispatched to the gate hardware.
type GateEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	Lane      string         `gorm:"type:varchar(16);not null" json:"lane"`
	Command   string         `gorm:"type:varchar(16);not null" json:"command"`
	Result    string         `gorm:"type:varchar(16);not null" json:"result"`
	Plate     *string        `gorm:"type:varchar(32)" json:"plate,omitempty"`
	RecordID  *uuid.UUID     `gorm:"type:uuid" json:"record_id,omitempty"`
	Detail    datatypes.JSON `gorm:"type:jsonb" json:"detail,omitempty"`
	SentAt    time.Time      `gorm:"not null;index" json:"sent_at"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (GateEvent) TableName() string {
	return "gate_events"
}

func (e *GateEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
