package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"legalrag/internal/model"
	"legalrag/internal/repository"
)

// MySQLIndex keeps chunks in the vector_chunks table and scores them in
// process. It suits corpora of a few hundred thousand chunks at most.
type MySQLIndex struct {
	repo *repository.VectorChunkRepository

	mu  sync.RWMutex
	dim int
}

func NewMySQLIndex(ctx context.Context, repo *repository.VectorChunkRepository) (*MySQLIndex, error) {
	dim, err := repo.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	return &MySQLIndex{repo: repo, dim: dim}, nil
}

func (m *MySQLIndex) Replace(ctx context.Context, source string, entries []Entry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dim, err := checkDimensions(m.dim, entries)
	if err != nil {
		return 0, fmt.Errorf("%w: index has %d", err, dim)
	}
	rows := make([]model.VectorChunk, len(entries))
	for i, e := range entries {
		rows[i] = model.VectorChunk{
			ID:           e.ID,
			Source:       source,
			DocumentType: e.Metadata.DocumentType,
			Page:         e.Metadata.Page,
			ChunkIndex:   e.Metadata.ChunkIndex,
			Content:      e.Text,
		}
		rows[i].SetEmbedding(e.Vector)
	}
	removed, err := m.repo.ReplaceSource(ctx, source, rows)
	if err != nil {
		return 0, err
	}
	if len(entries) > 0 {
		m.dim = dim
	} else if err := m.forgetDimensionIfEmpty(ctx); err != nil {
		return int(removed), err
	}
	return int(removed), nil
}

// forgetDimensionIfEmpty lets the next write pick a new dimension once the
// last chunk is gone. Callers hold m.mu.
func (m *MySQLIndex) forgetDimensionIfEmpty(ctx context.Context) error {
	if m.dim == 0 {
		return nil
	}
	n, err := m.repo.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		m.dim = 0
	}
	return nil
}

func (m *MySQLIndex) Delete(ctx context.Context, filter Filter) (int, error) {
	if filter.Empty() {
		return 0, ErrEmptyFilter
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.repo.DeleteWhere(ctx, filter.Source, filter.DocumentType)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := m.forgetDimensionIfEmpty(ctx); err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}

func (m *MySQLIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	dim := m.dim
	m.mu.RUnlock()

	rows, err := m.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), dim)
	}
	candidates := make([]Entry, 0, len(rows))
	for i := range rows {
		candidates = append(candidates, Entry{
			ID:     rows[i].ID,
			Vector: rows[i].EmbeddingVector(),
			Text:   rows[i].Content,
			Metadata: Metadata{
				Source:       rows[i].Source,
				Page:         rows[i].Page,
				DocumentType: rows[i].DocumentType,
				ChunkIndex:   rows[i].ChunkIndex,
			},
		})
	}
	return rank(vector, candidates, k), nil
}

func (m *MySQLIndex) Sources(ctx context.Context) (map[string]SourceStat, error) {
	rows, err := m.repo.CountBySource(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]SourceStat, len(rows))
	for _, r := range rows {
		out[r.Source] = SourceStat{Chunks: r.Chunks, DocumentType: r.DocumentType}
	}
	return out, nil
}

func (m *MySQLIndex) Count(ctx context.Context) (int, error) {
	n, err := m.repo.Count(ctx)
	return int(n), err
}

func (m *MySQLIndex) Clear(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.repo.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	m.dim = 0
	return int(n), nil
}

func (m *MySQLIndex) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dim
}

func (m *MySQLIndex) Backend() string { return "mysql" }

func (m *MySQLIndex) Ping(ctx context.Context) error { return m.repo.Ping(ctx) }

// Close is a no-op; the gorm pool is owned by the application.
func (m *MySQLIndex) Close() error { return nil }
