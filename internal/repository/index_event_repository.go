package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"legalrag/internal/model"
)

type IndexEventRepository struct {
	db *gorm.DB
}

func NewIndexEventRepository(db *gorm.DB) *IndexEventRepository {
	return &IndexEventRepository{db: db}
}

func (r *IndexEventRepository) Create(ctx context.Context, event *model.IndexEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("create index event failed: %w", err)
	}
	return nil
}

func (r *IndexEventRepository) ListRecent(ctx context.Context, limit int) ([]model.IndexEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []model.IndexEvent
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list index events failed: %w", err)
	}
	return events, nil
}
