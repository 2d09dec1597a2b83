package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"legalrag/internal/model"
)

// JobStore persists rebuild jobs beyond the life of the process.
type JobStore interface {
	Save(ctx context.Context, job *model.RebuildJob) error
	Get(ctx context.Context, jobID string) (*model.RebuildJob, error)
}

// JobRegistry tracks rebuild jobs in memory and mirrors them to an optional
// JobStore. Only the rebuild task mutates a job; readers receive clones.
type JobRegistry struct {
	mu    sync.RWMutex
	jobs  map[string]*model.RebuildJob
	store JobStore
	log   *zap.Logger
}

func NewJobRegistry(store JobStore, log *zap.Logger) *JobRegistry {
	return &JobRegistry{
		jobs:  make(map[string]*model.RebuildJob),
		store: store,
		log:   log,
	}
}

func newJobID() string {
	return "rebuild_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (r *JobRegistry) Create(ctx context.Context) *model.RebuildJob {
	job := &model.RebuildJob{
		JobID:     newJobID(),
		Status:    model.JobStatusProcessing,
		StartedAt: time.Now(),
	}
	r.mu.Lock()
	r.jobs[job.JobID] = job
	snapshot := job.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	return snapshot
}

// Update applies fn to the job under the registry lock.
func (r *JobRegistry) Update(ctx context.Context, jobID string, fn func(job *model.RebuildJob)) {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(job)
	snapshot := job.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
}

// Finish marks the job completed, or failed when err is non-nil.
func (r *JobRegistry) Finish(ctx context.Context, jobID string, err error) {
	r.Update(ctx, jobID, func(job *model.RebuildJob) {
		now := time.Now()
		job.CompletedAt = &now
		job.CurrentFile = ""
		if err != nil {
			job.Status = model.JobStatusFailed
			job.Error = err.Error()
			return
		}
		job.Status = model.JobStatusCompleted
	})
}

// Get returns a copy of the job, falling back to the store for jobs started
// by an earlier process. It returns nil when the job is unknown.
func (r *JobRegistry) Get(ctx context.Context, jobID string) (*model.RebuildJob, error) {
	r.mu.RLock()
	job, ok := r.jobs[jobID]
	var snapshot *model.RebuildJob
	if ok {
		snapshot = job.Clone()
	}
	r.mu.RUnlock()
	if ok || r.store == nil {
		return snapshot, nil
	}
	return r.store.Get(ctx, jobID)
}

func (r *JobRegistry) persist(ctx context.Context, job *model.RebuildJob) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(context.WithoutCancel(ctx), job); err != nil {
		r.log.Warn("persist rebuild job failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}
