package app

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"legalrag/internal/model"
)

// Settings holds the runtime-mutable chunking, embedding and retrieval
// configuration. Readers get copies; writers replace a whole section.
type Settings struct {
	mu        sync.RWMutex
	chunking  model.ChunkingConfig
	embedding model.EmbeddingConfig
	retrieval model.RetrievalConfig
	validate  *validator.Validate
}

func NewSettings(chunking model.ChunkingConfig, embedding model.EmbeddingConfig, retrieval model.RetrievalConfig) (*Settings, error) {
	s := &Settings{validate: newValidator()}
	for _, v := range []any{&chunking, &embedding, &retrieval} {
		if err := s.check(v); err != nil {
			return nil, err
		}
	}
	s.chunking = chunking
	s.embedding = embedding
	s.retrieval = copyRetrieval(retrieval)
	return s, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func copyRetrieval(r model.RetrievalConfig) model.RetrievalConfig {
	if r.ScoreThreshold != nil {
		t := *r.ScoreThreshold
		r.ScoreThreshold = &t
	}
	return r
}

// check validates v and turns validator failures into VALIDATION_ERROR with
// a field -> rule map in the details.
func (s *Settings) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newOpError(ErrInvalidInput, "invalid configuration", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = rule
	}
	return newOpError(ErrInvalidInput, "invalid configuration", nil).with("fields", fields)
}

func (s *Settings) Chunking() model.ChunkingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunking
}

func (s *Settings) Embedding() model.EmbeddingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embedding
}

func (s *Settings) Retrieval() model.RetrievalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRetrieval(s.retrieval)
}

// ValidateChunking checks c without storing it.
func (s *Settings) ValidateChunking(c model.ChunkingConfig) error {
	return s.check(&c)
}

func (s *Settings) ValidateEmbedding(c model.EmbeddingConfig) error {
	return s.check(&c)
}

func (s *Settings) SetChunking(c model.ChunkingConfig) (model.ChunkingConfig, error) {
	if err := s.check(&c); err != nil {
		return model.ChunkingConfig{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.chunking
	s.chunking = c
	return prev, nil
}

func (s *Settings) SetRetrieval(r model.RetrievalConfig) (model.RetrievalConfig, error) {
	if err := s.check(&r); err != nil {
		return model.RetrievalConfig{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.retrieval
	s.retrieval = copyRetrieval(r)
	return prev, nil
}

// SetEmbedding stores c; the caller has already validated it and built the
// matching embedder.
func (s *Settings) SetEmbedding(c model.EmbeddingConfig) model.EmbeddingConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.embedding
	s.embedding = c
	return prev
}
