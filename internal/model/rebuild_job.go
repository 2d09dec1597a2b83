package model

import (
	"encoding/json"
	"time"
)

const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

type FileFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// RebuildJob tracks one background index rebuild. The same struct is the
// gorm row; Failures is persisted as JSON in FailuresJSON.
type RebuildJob struct {
	JobID        string        `gorm:"primaryKey;size:32" json:"job_id"`
	Status       string        `gorm:"size:16;index" json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	TotalFiles   int           `json:"total_files"`
	Processed    int           `json:"processed"`
	CurrentFile  string        `gorm:"size:512" json:"current_file"`
	TotalChunks  int           `json:"total_chunks"`
	FailedFiles  int           `json:"failed_files"`
	Failures     []FileFailure `gorm:"-" json:"failures,omitempty"`
	FailuresJSON string        `gorm:"type:text" json:"-"`
	Error        string        `gorm:"type:text" json:"error,omitempty"`
	UpdatedAt    time.Time     `json:"-"`
}

func (RebuildJob) TableName() string {
	return "rebuild_jobs"
}

// Clone returns a deep copy safe to hand to readers.
func (j *RebuildJob) Clone() *RebuildJob {
	cp := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Failures = append([]FileFailure(nil), j.Failures...)
	return &cp
}

func (j *RebuildJob) EncodeFailures() {
	if len(j.Failures) == 0 {
		j.FailuresJSON = ""
		return
	}
	b, _ := json.Marshal(j.Failures)
	j.FailuresJSON = string(b)
}

func (j *RebuildJob) DecodeFailures() {
	if j.FailuresJSON == "" {
		j.Failures = nil
		return
	}
	_ = json.Unmarshal([]byte(j.FailuresJSON), &j.Failures)
}
