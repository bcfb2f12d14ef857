package repository

import (
	"context"

	"gorm.io/gorm"

	"parking-service/internal/model"
)

type GateEventRepository struct {
	db *gorm.DB
}

func NewGateEventRepository(db *gorm.DB) *GateEventRepository {
	return &GateEventRepository{db: db}
}

func (r *GateEventRepository) Create(ctx context.Context, event *model.GateEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *GateEventRepository) ListRecent(ctx context.Context, limit int) ([]model.GateEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []model.GateEvent
	err := r.db.WithContext(ctx).
		Order("sent_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
