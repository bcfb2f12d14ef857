package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Action string

const (
	ActionEntry            Action = "entry"
	ActionExit             Action = "exit"
	ActionUnauthorizedExit Action = "unauthorized_exit"
)

// VehicleState is derived from a plate's record history, never stored.
type VehicleState string

const (
	StateAbsent       VehicleState = "absent"
	StateParkedUnpaid VehicleState = "parked_unpaid"
	StateParkedPaid   VehicleState = "parked_paid"
)

// ActivityRecord is one row of the ledger. Rows are immutable once written,
// except for the sanctioned payment flip on the current unpaid entry.
type ActivityRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	Plate      string    `gorm:"type:varchar(32);not null;index" json:"plate"`
	Action     Action    `gorm:"type:activity_action;not null" json:"action"`
	Paid       bool      `gorm:"not null;default:false" json:"paid"`
	AmountDue  float64   `gorm:"type:numeric(10,2);not null;default:0" json:"amount_due"`
	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ActivityRecord) TableName() string {
	return "activity_records"
}

func (r *ActivityRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
