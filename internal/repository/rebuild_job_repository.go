package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"legalrag/internal/model"
)

type RebuildJobRepository struct {
	db *gorm.DB
}

func NewRebuildJobRepository(db *gorm.DB) *RebuildJobRepository {
	return &RebuildJobRepository{db: db}
}

// Save upserts the job row.
func (r *RebuildJobRepository) Save(ctx context.Context, job *model.RebuildJob) error {
	job.EncodeFailures()
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("save rebuild job failed: %w", err)
	}
	return nil
}

// Get returns nil, nil when the job does not exist.
func (r *RebuildJobRepository) Get(ctx context.Context, jobID string) (*model.RebuildJob, error) {
	var job model.RebuildJob
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rebuild job failed: %w", err)
	}
	job.DecodeFailures()
	return &job, nil
}

// FailInterrupted marks jobs left in processing by a previous process as failed.
func (r *RebuildJobRepository) FailInterrupted(ctx context.Context) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.RebuildJob{}).
		Where("status = ?", model.JobStatusProcessing).
		Updates(map[string]any{
			"status":       model.JobStatusFailed,
			"error":        "interrupted by server restart",
			"completed_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("fail interrupted rebuild jobs failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}
