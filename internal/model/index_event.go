package model

import "time"

const (
	EventDocumentUploaded    = "document.uploaded"
	EventDocumentDeleted     = "document.deleted"
	EventDocumentReprocessed = "document.reprocessed"
	EventIndexCleared        = "index.cleared"
	EventRebuildFinished     = "index.rebuild_finished"
	EventEmbeddingChanged    = "embedding.changed"
)

// IndexEvent records a mutation of the vector index. Events travel over
// RabbitMQ and are persisted by the index event worker.
type IndexEvent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Type         string    `gorm:"size:64;not null;index" json:"type"`
	Source       string    `gorm:"size:512;index" json:"source,omitempty"`
	DocumentType string    `gorm:"size:32" json:"document_type,omitempty"`
	Chunks       int       `json:"chunks"`
	Detail       string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func (IndexEvent) TableName() string {
	return "index_events"
}
