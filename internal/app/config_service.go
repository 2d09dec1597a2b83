package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"legalrag/internal/model"
)

// embedderCloseDelay lets in-flight requests finish with a replaced embedder
// before it is closed.
const embedderCloseDelay = 30 * time.Second

type ConfigUpdate[T any] struct {
	Previous       T      `json:"previous"`
	Current        T      `json:"current"`
	Warning        string `json:"warning,omitempty"`
	ActionRequired string `json:"action_required,omitempty"`
}

type AllConfig struct {
	Chunking   model.ChunkingConfig   `json:"chunking"`
	Embedding  model.EmbeddingConfig  `json:"embedding"`
	Retrieval  model.RetrievalConfig  `json:"retrieval"`
	Generation model.GenerationConfig `json:"generation"`
}

func (s *AdminService) GetChunking() model.ChunkingConfig {
	return s.settings.Chunking()
}

func (s *AdminService) SetChunking(in model.ChunkingConfig) (*ConfigUpdate[model.ChunkingConfig], error) {
	prev, err := s.settings.SetChunking(in)
	if err != nil {
		return nil, err
	}
	s.log.Info("chunking config updated", zap.Int("chunk_size", in.ChunkSize), zap.Int("chunk_overlap", in.ChunkOverlap))
	return &ConfigUpdate[model.ChunkingConfig]{
		Previous: prev,
		Current:  in,
		Warning:  "existing documents keep their chunks until reprocessed or rebuilt",
	}, nil
}

func (s *AdminService) GetRetrieval() model.RetrievalConfig {
	return s.settings.Retrieval()
}

func (s *AdminService) SetRetrieval(in model.RetrievalConfig) (*ConfigUpdate[model.RetrievalConfig], error) {
	prev, err := s.settings.SetRetrieval(in)
	if err != nil {
		return nil, err
	}
	s.log.Info("retrieval config updated", zap.Int("k", in.K), zap.String("search_type", in.SearchType))
	return &ConfigUpdate[model.RetrievalConfig]{Previous: prev, Current: s.settings.Retrieval()}, nil
}

func (s *AdminService) GetEmbedding() model.EmbeddingConfig {
	return s.settings.Embedding()
}

// SetEmbedding builds the embedder for in before anything changes, then swaps
// it in under the exclusive structural lock, so no document write or rebuild
// straddles the change. A non-empty index built with another model must be
// rebuilt.
func (s *AdminService) SetEmbedding(ctx context.Context, in model.EmbeddingConfig) (*ConfigUpdate[model.EmbeddingConfig], error) {
	if err := s.settings.ValidateEmbedding(in); err != nil {
		return nil, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	emb, err := s.newEmbedder(ctx, in)
	if err != nil {
		return nil, newOpError(ErrModelLoad, "failed to load embedding model", err).with("model_name", in.ModelName)
	}
	if !s.structural.TryLock() {
		if err := emb.Close(); err != nil {
			s.log.Warn("close unused embedder failed", zap.Error(err))
		}
		return nil, newOpError(ErrOperationInProgress, "documents are being indexed or a rebuild or clear is running; retry the embedding change", nil)
	}
	defer s.structural.Unlock()
	in.Dimension = emb.Dimension()

	current := s.currentEmbedder()
	before := s.settings.Embedding()
	changed := before.Provider != in.Provider || before.ModelName != in.ModelName ||
		current.Dimension() != emb.Dimension()

	update := &ConfigUpdate[model.EmbeddingConfig]{Current: in}
	count, err := s.index.Count(ctx)
	if err != nil {
		s.log.Warn("count index before embedding change failed", zap.Error(err))
	}
	// an index that cannot be counted is treated as non-empty
	if changed && (count > 0 || err != nil) {
		// set before the swap so searches never pair the new model with old vectors
		s.rebuildRequired.Store(true)
		update.Warning = fmt.Sprintf("the index holds %d chunks embedded with %s; search and upload are disabled until it is rebuilt", count, before.ModelName)
		update.ActionRequired = "POST /api/v1/admin/vectorstore/rebuild with {\"confirm\": true}"
	}

	old := s.embedder.Swap(&embedderRef{emb})
	update.Previous = s.settings.SetEmbedding(in)
	if old != nil && old.Embedder != emb {
		time.AfterFunc(embedderCloseDelay, func() {
			if err := old.Close(); err != nil {
				s.log.Warn("close replaced embedder failed", zap.Error(err))
			}
		})
	}

	s.log.Info("embedding model changed",
		zap.String("provider", in.Provider),
		zap.String("model", in.ModelName),
		zap.Int("dimension", in.Dimension),
		zap.Bool("rebuild_required", s.rebuildRequired.Load()))
	s.afterMutation(ctx, model.IndexEvent{
		Type:   model.EventEmbeddingChanged,
		Detail: fmt.Sprintf("%s/%s -> %s/%s", update.Previous.Provider, update.Previous.ModelName, in.Provider, in.ModelName),
	})
	return update, nil
}

func (s *AdminService) Generation() model.GenerationConfig {
	if s.generation == nil {
		return model.GenerationConfig{}
	}
	return model.GenerationConfig{
		Model:      s.generation.Model(),
		BaseURL:    s.generation.BaseURL(),
		Configured: true,
	}
}

func (s *AdminService) GetAll() AllConfig {
	return AllConfig{
		Chunking:   s.settings.Chunking(),
		Embedding:  s.settings.Embedding(),
		Retrieval:  s.settings.Retrieval(),
		Generation: s.Generation(),
	}
}
