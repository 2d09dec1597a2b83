package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"legalrag/internal/model"
)

type VectorChunkRepository struct {
	db *gorm.DB
}

func NewVectorChunkRepository(db *gorm.DB) *VectorChunkRepository {
	return &VectorChunkRepository{db: db}
}

// ReplaceSource deletes every chunk of source and inserts chunks in one
// transaction. It returns the number of rows removed.
func (r *VectorChunkRepository) ReplaceSource(ctx context.Context, source string, chunks []model.VectorChunk) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("source = ?", source).Delete(&model.VectorChunk{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(&chunks, 200).Error
	})
	if err != nil {
		return 0, fmt.Errorf("replace vector chunks failed: %w", err)
	}
	return removed, nil
}

func (r *VectorChunkRepository) DeleteWhere(ctx context.Context, source, documentType string) (int64, error) {
	q := r.db.WithContext(ctx)
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if documentType != "" {
		q = q.Where("document_type = ?", documentType)
	}
	res := q.Delete(&model.VectorChunk{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete vector chunks failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *VectorChunkRepository) ListAll(ctx context.Context) ([]model.VectorChunk, error) {
	var chunks []model.VectorChunk
	if err := r.db.WithContext(ctx).Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list vector chunks failed: %w", err)
	}
	return chunks, nil
}

type SourceCount struct {
	Source       string
	DocumentType string
	Chunks       int
}

func (r *VectorChunkRepository) CountBySource(ctx context.Context) ([]SourceCount, error) {
	var rows []SourceCount
	err := r.db.WithContext(ctx).Model(&model.VectorChunk{}).
		Select("source, MAX(document_type) AS document_type, COUNT(*) AS chunks").
		Group("source").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count vector chunks by source failed: %w", err)
	}
	return rows, nil
}

func (r *VectorChunkRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.VectorChunk{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count vector chunks failed: %w", err)
	}
	return n, nil
}

// Dimension returns the dimension of any stored chunk, or 0 when empty.
func (r *VectorChunkRepository) Dimension(ctx context.Context) (int, error) {
	var dims []int
	err := r.db.WithContext(ctx).Model(&model.VectorChunk{}).Limit(1).Pluck("dimension", &dims).Error
	if err != nil {
		return 0, fmt.Errorf("read vector dimension failed: %w", err)
	}
	if len(dims) == 0 {
		return 0, nil
	}
	return dims[0], nil
}

func (r *VectorChunkRepository) DeleteAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.VectorChunk{})
	if res.Error != nil {
		return 0, fmt.Errorf("clear vector chunks failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *VectorChunkRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db failed: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
