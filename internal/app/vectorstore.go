package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"legalrag/internal/ai"
	"legalrag/internal/docstore"
	"legalrag/internal/metrics"
	"legalrag/internal/model"
	"legalrag/internal/vectorindex"
)

const maxSearchK = 100

type RebuildInput struct {
	Confirm      bool
	ChunkSize    *int
	ChunkOverlap *int
	Folders      []string
}

type RebuildStarted struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ClearResult struct {
	ChunksDeleted      int `json:"chunks_deleted"`
	DocumentsPreserved int `json:"documents_preserved"`
}

type SearchInput struct {
	Query          string
	K              int
	ScoreThreshold *float64
}

type SearchHit struct {
	Rank            int                  `json:"rank"`
	Content         string               `json:"content"`
	Metadata        vectorindex.Metadata `json:"metadata"`
	SimilarityScore float64              `json:"similarity_score"`
	Distance        float64              `json:"distance"`
}

type SearchResult struct {
	Query        string      `json:"query"`
	Results      []SearchHit `json:"results"`
	TotalResults int         `json:"total_results"`
	SearchTimeMS float64     `json:"search_time_ms"`
	Cached       bool        `json:"cached"`
}

type RetrieveResult struct {
	Query      string      `json:"query"`
	SearchType string      `json:"search_type"`
	K          int         `json:"k"`
	Results    []SearchHit `json:"results"`
}

type Stats struct {
	TotalChunks        int            `json:"total_chunks"`
	TotalDocuments     int            `json:"total_documents"`
	DocumentsByType    map[string]int `json:"documents_by_type"`
	EmbeddingDimension int            `json:"embedding_dimension"`
	EmbeddingModel     string         `json:"embedding_model"`
	IndexBackend       string         `json:"index_backend"`
	IndexSizeBytes     int64          `json:"index_size_bytes,omitempty"`
	LastUpdated        time.Time      `json:"last_updated"`
	RebuildRequired    bool           `json:"rebuild_required"`
}

// Rebuild validates the request, takes the exclusive structural lock and
// starts the rebuild in the background. The lock is released by the task.
func (s *AdminService) Rebuild(ctx context.Context, in RebuildInput) (*RebuildStarted, error) {
	if !in.Confirm {
		return nil, newOpError(ErrConfirmationRequired, "set confirm to true to rebuild the vector store", nil)
	}
	cc, err := s.mergeChunking(in.ChunkSize, in.ChunkOverlap, nil)
	if err != nil {
		return nil, err
	}
	folders := make([]string, 0, len(in.Folders))
	for _, f := range in.Folders {
		clean, err := docstore.CleanFolder(f)
		if err != nil {
			return nil, newOpError(ErrInvalidInput, "invalid folder", err).with("folder", f)
		}
		folders = append(folders, clean)
	}

	if !s.structural.TryLock() {
		return nil, newOpError(ErrOperationInProgress, "another rebuild or clear is in progress", nil)
	}
	job := s.jobs.Create(ctx)
	metrics.RebuildStarted()
	s.log.Info("rebuild started", zap.String("job_id", job.JobID), zap.Strings("folders", folders))

	s.background.Add(1)
	go s.runRebuild(job.JobID, cc, folders)

	return &RebuildStarted{
		JobID:   job.JobID,
		Status:  job.Status,
		Message: "rebuild started; poll the job for progress",
	}, nil
}

func (s *AdminService) runRebuild(jobID string, cc model.ChunkingConfig, folders []string) {
	defer s.background.Done()
	defer s.structural.Unlock()

	ctx, cancel := context.WithTimeout(s.baseCtx, s.rebuildTimeout)
	defer cancel()
	started := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rebuild panicked: %v", r)
			s.log.Error("rebuild panicked", zap.String("job_id", jobID), zap.Any("panic", r))
		}
		if err != nil && s.baseCtx.Err() != nil {
			err = fmt.Errorf("rebuild interrupted by shutdown: %w", err)
		}
		s.jobs.Finish(ctx, jobID, err)
		metrics.ObserveOperation("rebuild", started, err)
		status := model.JobStatusCompleted
		if err != nil {
			status = model.JobStatusFailed
			s.log.Error("rebuild failed", zap.String("job_id", jobID), zap.Error(err))
		}
		metrics.RebuildFinished(status)
	}()

	err = s.rebuild(ctx, jobID, cc, folders)
}

func (s *AdminService) rebuild(ctx context.Context, jobID string, cc model.ChunkingConfig, folders []string) error {
	emb := s.embedder.Load()

	snapshot, err := s.index.Sources(ctx)
	if err != nil {
		return fmt.Errorf("read index sources: %w", err)
	}
	cleared, err := s.index.Clear(ctx)
	if err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	s.touch()

	var docs []model.Document
	if len(folders) == 0 {
		docs, err = s.store.List(ctx, nil)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
	} else {
		for _, f := range folders {
			part, err := s.store.List(ctx, &f)
			if err != nil {
				return fmt.Errorf("list folder %q: %w", f, err)
			}
			docs = append(docs, part...)
		}
	}
	s.jobs.Update(ctx, jobID, func(job *model.RebuildJob) { job.TotalFiles = len(docs) })

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.jobs.Update(ctx, jobID, func(job *model.RebuildJob) { job.CurrentFile = doc.Path })

		docType := model.DefaultTypeForFolder(doc.Folder)
		if stat, ok := snapshot[doc.Path]; ok && stat.DocumentType != "" {
			docType = model.DocumentType(stat.DocumentType)
		}
		n, ferr := s.rebuildOne(ctx, emb, doc, docType, cc)
		s.jobs.Update(ctx, jobID, func(job *model.RebuildJob) {
			job.Processed++
			if ferr != nil {
				job.FailedFiles++
				job.Failures = append(job.Failures, model.FileFailure{File: doc.Path, Error: ferr.Error()})
				return
			}
			job.TotalChunks += n
		})
		if ferr != nil {
			s.log.Warn("rebuild file failed", zap.String("job_id", jobID), zap.String("path", doc.Path), zap.Error(ferr))
		}
	}

	// a cancelled rebuild leaves a partial index and must not report success
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.embedder.Load() == emb {
		s.rebuildRequired.Store(false)
	}
	s.afterMutation(ctx, model.IndexEvent{
		Type:   model.EventRebuildFinished,
		Detail: fmt.Sprintf("job_id=%s files=%d previous_chunks=%d", jobID, len(docs), cleared),
	})
	return nil
}

func (s *AdminService) rebuildOne(ctx context.Context, emb ai.Embedder, doc model.Document, docType model.DocumentType, cc model.ChunkingConfig) (int, error) {
	data, err := s.store.Read(ctx, doc)
	if err != nil {
		return 0, err
	}
	proc, err := s.process(ctx, emb, doc.Filename, data, docType, cc)
	if err != nil {
		return 0, err
	}
	entries := proc.bind(doc.Path)
	if _, err := s.index.Replace(ctx, doc.Path, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *AdminService) RebuildStatus(ctx context.Context, jobID string) (*model.RebuildJob, error) {
	job, err := s.jobs.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return nil, newOpError(ErrBackendUnavailable, "failed to read rebuild job", err)
	}
	if job == nil {
		return nil, newOpError(ErrJobNotFound, "rebuild job not found", nil).with("job_id", jobID)
	}
	return job, nil
}

func (s *AdminService) Clear(ctx context.Context, confirmToken string) (res *ClearResult, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("clear", started, err) }()

	if confirmToken != ClearConfirmToken {
		return nil, newOpError(ErrConfirmationRequired, "confirm_token must be "+ClearConfirmToken, nil)
	}
	if !s.structural.TryLock() {
		return nil, newOpError(ErrOperationInProgress, "a rebuild or clear is in progress", nil)
	}
	defer s.structural.Unlock()

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	docs, err := s.store.List(ctx, nil)
	if err != nil {
		return nil, newOpError(ErrBackendUnavailable, "failed to list documents", err)
	}
	n, err := s.index.Clear(ctx)
	if err != nil {
		return nil, indexError("failed to clear vector index", err)
	}
	// an empty index accepts any embedding model
	s.rebuildRequired.Store(false)

	s.log.Warn("vector index cleared", zap.Int("chunks_deleted", n))
	s.afterMutation(ctx, model.IndexEvent{Type: model.EventIndexCleared, Chunks: n})
	return &ClearResult{ChunksDeleted: n, DocumentsPreserved: len(docs)}, nil
}

func validateThreshold(t *float64) error {
	if t != nil && (*t < 0 || *t > 1) {
		return newOpError(ErrInvalidInput, "score_threshold must be between 0 and 1", nil).with("score_threshold", *t)
	}
	return nil
}

func toSearchHits(hits []vectorindex.Hit, threshold *float64) []SearchHit {
	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		if threshold != nil && float64(h.Score) < *threshold {
			continue
		}
		out = append(out, SearchHit{
			Rank:            len(out) + 1,
			Content:         h.Text,
			Metadata:        h.Metadata,
			SimilarityScore: float64(h.Score),
			Distance:        float64(h.Distance),
		})
	}
	return out
}

func (s *AdminService) Search(ctx context.Context, in SearchInput) (res *SearchResult, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("search", started, err) }()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, newOpError(ErrInvalidInput, "query must not be empty", nil)
	}
	if in.K < 1 || in.K > maxSearchK {
		return nil, newOpError(ErrInvalidInput, fmt.Sprintf("k must be between 1 and %d", maxSearchK), nil).with("k", in.K)
	}
	if err := validateThreshold(in.ScoreThreshold); err != nil {
		return nil, err
	}
	emb, err := s.compatibleEmbedder()
	if err != nil {
		return nil, err
	}

	var cacheKey string
	if s.cache != nil {
		if cacheKey, err = s.cache.Key(ctx, query, in.K, in.ScoreThreshold, emb.ModelName()); err != nil {
			s.log.Warn("build search cache key failed", zap.Error(err))
			cacheKey = ""
		}
		if cacheKey != "" {
			var cached SearchResult
			if ok, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
				s.log.Warn("read search cache failed", zap.Error(err))
			} else if ok {
				cached.Cached = true
				cached.SearchTimeMS = float64(time.Since(started).Microseconds()) / 1000
				return &cached, nil
			}
		}
	}

	vec, err := emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, newOpError(ErrProcessing, "failed to embed query", err)
	}
	hits, err := s.index.Search(ctx, vec, in.K)
	if err != nil {
		return nil, indexError("vector search failed", err)
	}

	results := toSearchHits(hits, in.ScoreThreshold)
	res = &SearchResult{
		Query:        query,
		Results:      results,
		TotalResults: len(results),
		SearchTimeMS: float64(time.Since(started).Microseconds()) / 1000,
	}
	if cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, res); err != nil {
			s.log.Warn("write search cache failed", zap.Error(err))
		}
	}
	return res, nil
}

// Retrieve runs the configured retrieval strategy; it is what the chat path
// calls to fetch context.
func (s *AdminService) Retrieve(ctx context.Context, query string) (res *RetrieveResult, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("retrieve", started, err) }()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, newOpError(ErrInvalidInput, "query must not be empty", nil)
	}
	rc := s.settings.Retrieval()
	emb, err := s.compatibleEmbedder()
	if err != nil {
		return nil, err
	}
	vec, err := emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, newOpError(ErrProcessing, "failed to embed query", err)
	}

	fetch := rc.K
	if rc.SearchType == model.SearchTypeMMR {
		fetch = rc.FetchK
	}
	hits, err := s.index.Search(ctx, vec, fetch)
	if err != nil {
		return nil, indexError("vector search failed", err)
	}
	if rc.ScoreThreshold != nil {
		kept := hits[:0]
		for _, h := range hits {
			if float64(h.Score) >= *rc.ScoreThreshold {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	if rc.SearchType == model.SearchTypeMMR {
		hits = vectorindex.MMR(vec, hits, rc.K, rc.LambdaMult)
	}

	return &RetrieveResult{
		Query:      query,
		SearchType: rc.SearchType,
		K:          rc.K,
		Results:    toSearchHits(hits, nil),
	}, nil
}

func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	sources, err := s.index.Sources(ctx)
	if err != nil {
		return nil, indexError("failed to read vector index", err)
	}
	emb := s.currentEmbedder()
	st := &Stats{
		DocumentsByType:    make(map[string]int),
		TotalDocuments:     len(sources),
		EmbeddingDimension: s.index.Dimension(),
		EmbeddingModel:     emb.ModelName(),
		IndexBackend:       s.index.Backend(),
		LastUpdated:        time.Unix(0, s.lastUpdated.Load()),
		RebuildRequired:    s.rebuildRequired.Load(),
	}
	for _, stat := range sources {
		st.TotalChunks += stat.Chunks
		docType := stat.DocumentType
		if docType == "" {
			docType = string(model.DocumentTypeOther)
		}
		st.DocumentsByType[docType]++
	}
	if st.EmbeddingDimension == 0 {
		st.EmbeddingDimension = emb.Dimension()
	}
	if sizer, ok := s.index.(vectorindex.Sizer); ok {
		st.IndexSizeBytes = sizer.SizeBytes()
	}
	metrics.SetIndexedChunks(st.TotalChunks)
	return st, nil
}
