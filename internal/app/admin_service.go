package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"legalrag/internal/ai"
	"legalrag/internal/docstore"
	"legalrag/internal/metrics"
	"legalrag/internal/model"
	"legalrag/internal/vectorindex"
)

const (
	ClearConfirmToken = "DELETE_ALL_EMBEDDINGS"

	defaultOperationTimeout = 5 * time.Minute
	defaultRebuildTimeout   = time.Hour
)

// SearchCache caches Search responses keyed by query and index generation.
type SearchCache interface {
	Key(ctx context.Context, query string, k int, threshold *float64, model string) (string, error)
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event model.IndexEvent) error
}

type EventLog interface {
	ListRecent(ctx context.Context, limit int) ([]model.IndexEvent, error)
}

// GenerationChecker is the chat model collaborator; only its reachability
// matters here.
type GenerationChecker interface {
	Ping(ctx context.Context) error
	Model() string
	BaseURL() string
}

// HealthProbe is an optional infrastructure dependency reported by HealthCheck.
type HealthProbe struct {
	Name string
	Ping func(ctx context.Context) error
}

// EmbedderFactory builds an embedder for cfg. It must return an error
// wrapping ErrModelLoad on failure.
type EmbedderFactory func(ctx context.Context, cfg model.EmbeddingConfig) (ai.Embedder, error)

type AdminDeps struct {
	Store       docstore.Store
	Index       vectorindex.Index
	Embedder    ai.Embedder
	NewEmbedder EmbedderFactory
	Settings    *Settings
	Jobs        *JobRegistry

	Cache      SearchCache
	Events     EventPublisher
	EventLog   EventLog
	Generation GenerationChecker
	Probes     []HealthProbe

	OperationTimeout time.Duration
	RebuildTimeout   time.Duration
	Logger           *zap.Logger
}

type embedderRef struct {
	ai.Embedder
}

// AdminService owns the document store and the vector index and keeps them
// consistent. Every exported method returns *OpError on failure.
type AdminService struct {
	store       docstore.Store
	index       vectorindex.Index
	newEmbedder EmbedderFactory
	settings    *Settings
	jobs        *JobRegistry
	cache       SearchCache
	events      EventPublisher
	eventLog    EventLog
	generation  GenerationChecker
	probes      []HealthProbe
	log         *zap.Logger

	opTimeout      time.Duration
	rebuildTimeout time.Duration

	embedder        atomic.Pointer[embedderRef]
	rebuildRequired atomic.Bool
	lastUpdated     atomic.Int64

	// structural is shared by document writes and held exclusively by
	// rebuild, clear and embedding changes.
	structural sync.RWMutex
	docLocks   *keyedMutex

	// baseCtx parents background rebuilds; Close cancels it.
	baseCtx    context.Context
	stop       context.CancelFunc
	background sync.WaitGroup
}

func NewAdminService(deps AdminDeps) (*AdminService, error) {
	if deps.Store == nil || deps.Index == nil || deps.Embedder == nil || deps.Settings == nil {
		return nil, errors.New("admin service requires store, index, embedder and settings")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	jobs := deps.Jobs
	if jobs == nil {
		jobs = NewJobRegistry(nil, log)
	}
	s := &AdminService{
		store:          deps.Store,
		index:          deps.Index,
		newEmbedder:    deps.NewEmbedder,
		settings:       deps.Settings,
		jobs:           jobs,
		cache:          deps.Cache,
		events:         deps.Events,
		eventLog:       deps.EventLog,
		generation:     deps.Generation,
		probes:         deps.Probes,
		log:            log.Named("admin"),
		opTimeout:      deps.OperationTimeout,
		rebuildTimeout: deps.RebuildTimeout,
		docLocks:       newKeyedMutex(),
	}
	s.baseCtx, s.stop = context.WithCancel(context.Background())
	if s.opTimeout <= 0 {
		s.opTimeout = defaultOperationTimeout
	}
	if s.rebuildTimeout <= 0 {
		s.rebuildTimeout = defaultRebuildTimeout
	}
	if s.newEmbedder == nil {
		s.newEmbedder = func(ctx context.Context, cfg model.EmbeddingConfig) (ai.Embedder, error) {
			return ai.NewEmbedder(ctx, ai.EmbedderOptions{
				Provider:  cfg.Provider,
				ModelName: cfg.ModelName,
				Device:    cfg.Device,
				Normalize: cfg.Normalize,
				Dimension: cfg.Dimension,
			})
		}
	}
	s.embedder.Store(&embedderRef{deps.Embedder})
	s.touch()

	if dim := s.index.Dimension(); dim != 0 && dim != deps.Embedder.Dimension() {
		s.log.Warn("index dimension differs from embedder, rebuild required",
			zap.Int("index_dimension", dim),
			zap.Int("embedder_dimension", deps.Embedder.Dimension()))
		s.rebuildRequired.Store(true)
	}
	return s, nil
}

func (s *AdminService) currentEmbedder() ai.Embedder {
	return s.embedder.Load().Embedder
}

// compatibleEmbedder returns the active embedder, or REBUILD_REQUIRED when
// the index was built with a different model or dimension.
func (s *AdminService) compatibleEmbedder() (*embedderRef, error) {
	emb := s.embedder.Load()
	if s.rebuildRequired.Load() {
		return nil, newOpError(ErrRebuildRequired, "the embedding model changed; rebuild the vector store first", nil).
			with("embedding_model", emb.ModelName())
	}
	if dim := s.index.Dimension(); dim != 0 && dim != emb.Dimension() {
		return nil, newOpError(ErrRebuildRequired, "embedding dimension does not match the index", nil).
			with("index_dimension", dim).
			with("embedding_dimension", emb.Dimension())
	}
	return emb, nil
}

// embedderUnchanged is checked under the document lock before vectors made
// by emb are written. Embedding changes hold the structural lock, so the
// answer cannot change until the write finishes.
func (s *AdminService) embedderUnchanged(emb *embedderRef) error {
	if s.rebuildRequired.Load() {
		return newOpError(ErrRebuildRequired, "the embedding model changed; rebuild the vector store first", nil).
			with("embedding_model", s.currentEmbedder().ModelName())
	}
	if s.embedder.Load() != emb {
		return newOpError(ErrOperationInProgress, "the embedding model changed while the document was processed; retry the request", nil).
			with("embedding_model", s.currentEmbedder().ModelName())
	}
	return nil
}

func (s *AdminService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *AdminService) touch() {
	s.lastUpdated.Store(time.Now().UnixNano())
}

// indexError classifies a vector index failure.
func indexError(message string, err error) *OpError {
	if errors.Is(err, vectorindex.ErrDimensionMismatch) {
		return newOpError(ErrRebuildRequired, message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newOpError(ErrProcessing, message, err)
	}
	return newOpError(ErrBackendUnavailable, message, err)
}

// afterMutation runs the side effects every index mutation shares. Failures
// are logged and never fail the mutation itself.
func (s *AdminService) afterMutation(ctx context.Context, event model.IndexEvent) {
	s.touch()
	ctx = context.WithoutCancel(ctx)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.Warn("invalidate search cache failed", zap.Error(err))
		}
	}
	if n, err := s.index.Count(ctx); err == nil {
		metrics.SetIndexedChunks(n)
	}
	if s.events != nil {
		event.CreatedAt = time.Now()
		if err := s.events.Publish(ctx, event); err != nil {
			s.log.Warn("publish index event failed", zap.String("type", event.Type), zap.Error(err))
		}
	}
}

// Wait blocks until background rebuilds have finished.
func (s *AdminService) Wait() {
	s.background.Wait()
}

// Close cancels running rebuilds and waits for them to stop. Their jobs end
// as failed.
func (s *AdminService) Close() {
	s.stop()
	s.background.Wait()
}

// RebuildRequired reports whether the index must be rebuilt before search
// and upload work again.
func (s *AdminService) RebuildRequired() bool {
	return s.rebuildRequired.Load()
}

func (s *AdminService) RecentEvents(ctx context.Context, limit int) ([]model.IndexEvent, error) {
	if s.eventLog == nil {
		return nil, newOpError(ErrBackendUnavailable, "the index event log requires mysql", nil)
	}
	events, err := s.eventLog.ListRecent(ctx, limit)
	if err != nil {
		return nil, newOpError(ErrBackendUnavailable, "list index events failed", err)
	}
	return events, nil
}
