package model

import (
	"encoding/json"
	"time"
)

// VectorChunk is the SQL row behind the mysql vector index backend.
// Embedding is stored as a JSON array of float32 for portability.
type VectorChunk struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Source       string    `gorm:"size:512;not null;index" json:"source"`
	DocumentType string    `gorm:"size:32;index" json:"document_type"`
	Page         int       `json:"page"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `gorm:"type:longtext;not null" json:"content"`
	Embedding    string    `gorm:"type:longtext" json:"-"`
	Dimension    int       `json:"dimension"`
	CreatedAt    time.Time `json:"created_at"`
}

func (VectorChunk) TableName() string {
	return "vector_chunks"
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *VectorChunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

func (c *VectorChunk) SetEmbedding(vec []float32) {
	c.Dimension = len(vec)
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
