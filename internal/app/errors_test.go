package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"legalrag/internal/ai"
	"legalrag/internal/model"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{newOpError(ErrInvalidFileType, "bad", nil), "INVALID_FILE_TYPE", http.StatusBadRequest},
		{newOpError(ErrInvalidInput, "bad", nil), "VALIDATION_ERROR", http.StatusBadRequest},
		{newOpError(ErrFileNotFound, "missing", nil), "FILE_NOT_FOUND", http.StatusNotFound},
		{newOpError(ErrJobNotFound, "missing", nil), "JOB_NOT_FOUND", http.StatusNotFound},
		{newOpError(ErrConfirmationRequired, "confirm", nil), "CONFIRMATION_REQUIRED", http.StatusBadRequest},
		{newOpError(ErrDocumentExists, "exists", nil), "DOCUMENT_EXISTS", http.StatusConflict},
		{newOpError(ErrOperationInProgress, "busy", nil), "OPERATION_IN_PROGRESS", http.StatusConflict},
		{newOpError(ErrRebuildRequired, "rebuild", nil), "REBUILD_REQUIRED", http.StatusConflict},
		{newOpError(ErrBackendUnavailable, "down", nil), "BACKEND_UNAVAILABLE", http.StatusServiceUnavailable},
		{fmt.Errorf("%w: no weights", ai.ErrModelLoad), "MODEL_LOAD_ERROR", http.StatusInternalServerError},
		{errors.New("boom"), "INTERNAL_ERROR", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, status := ErrorCode(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestOpErrorKindWinsOverCause(t *testing.T) {
	// a processing failure caused by a model load error is still a processing failure
	err := newOpError(ErrProcessing, "embed failed", fmt.Errorf("%w: gone", ai.ErrModelLoad))
	code, _ := ErrorCode(err)
	assert.Equal(t, "PROCESSING_ERROR", code)
	assert.ErrorIs(t, err, ai.ErrModelLoad)

	msg, details := ErrorDetails(err.with("filename", "a.pdf"))
	assert.Equal(t, "embed failed", msg)
	assert.Equal(t, "a.pdf", details["filename"])

	msg, details = ErrorDetails(errors.New("plain"))
	assert.Equal(t, "plain", msg)
	assert.Nil(t, details)
}

type recordingJobStore struct {
	saved map[string]*model.RebuildJob
}

func (s *recordingJobStore) Save(_ context.Context, job *model.RebuildJob) error {
	s.saved[job.JobID] = job.Clone()
	return nil
}

func (s *recordingJobStore) Get(_ context.Context, id string) (*model.RebuildJob, error) {
	if job, ok := s.saved[id]; ok {
		return job.Clone(), nil
	}
	return nil, nil
}

func TestJobRegistryMirrorsToStore(t *testing.T) {
	ctx := context.Background()
	store := &recordingJobStore{saved: make(map[string]*model.RebuildJob)}
	reg := NewJobRegistry(store, zap.NewNop())

	job := reg.Create(ctx)
	assert.Regexp(t, `^rebuild_[0-9a-f]{8}$`, job.JobID)
	reg.Update(ctx, job.JobID, func(j *model.RebuildJob) { j.TotalFiles = 4 })
	reg.Finish(ctx, job.JobID, errors.New("disk full"))

	got, err := reg.Get(ctx, job.JobID)
	assert.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "disk full", got.Error)
	assert.Equal(t, 4, store.saved[job.JobID].TotalFiles)

	// a fresh registry finds jobs from an earlier process through the store
	other := NewJobRegistry(store, zap.NewNop())
	got, err = other.Get(ctx, job.JobID)
	assert.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)

	got, err = other.Get(ctx, "rebuild_00000000")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestKeyedMutexForgetsReleasedKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	assert.Len(t, k.locks, 1)
	unlock()
	assert.Empty(t, k.locks)
}
