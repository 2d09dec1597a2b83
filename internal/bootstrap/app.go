package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"legalrag/internal/ai"
	"legalrag/internal/app"
	"legalrag/internal/cache"
	"legalrag/internal/config"
	"legalrag/internal/docstore"
	"legalrag/internal/logger"
	"legalrag/internal/model"
	mysqlClient "legalrag/internal/platform/mysql"
	rabbitmqClient "legalrag/internal/platform/rabbitmq"
	redisClient "legalrag/internal/platform/redis"
	"legalrag/internal/repository"
	"legalrag/internal/vectorindex"
	"legalrag/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger

	Admin *app.AdminService
	Auth  *app.AuthService

	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	EventWorker *worker.IndexEventWorker
	Index       vectorindex.Index

	StartedAt time.Time
}

// New wires the service from configuration. MySQL, Redis and RabbitMQ are
// optional; the bolt index and the filesystem store need nothing external.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: log, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, log := a.Config, a.Logger
	var (
		probes   []app.HealthProbe
		jobStore app.JobStore
		eventLog app.EventLog
		events   app.EventPublisher
		search   app.SearchCache
	)
	if defaults := cfg.DefaultCredentials(); len(defaults) > 0 {
		log.Warn("auth uses built-in default credentials; change them before exposing the service",
			zap.Strings("settings", defaults),
			zap.String("env", cfg.App.Env))
	}

	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN(), &model.VectorChunk{}, &model.RebuildJob{}, &model.IndexEvent{})
		if err != nil {
			return err
		}
		a.MySQL = db
		jobRepo := repository.NewRebuildJobRepository(db)
		if n, err := jobRepo.FailInterrupted(ctx); err != nil {
			log.Warn("mark interrupted rebuild jobs failed", zap.Error(err))
		} else if n > 0 {
			log.Warn("rebuild jobs interrupted by restart marked failed", zap.Int64("jobs", n))
		}
		eventRepo := repository.NewIndexEventRepository(db)
		jobStore, eventLog = jobRepo, eventRepo
		events = directEventWriter{repo: eventRepo}
		probes = append(probes, app.HealthProbe{Name: "mysql", Ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}})
	}

	if cfg.Redis.Enabled {
		client, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		a.Redis = client
		searchCache := cache.NewSearchCache(client, time.Duration(cfg.Redis.SearchCacheTTLSeconds)*time.Second)
		search = searchCache
		probes = append(probes, app.HealthProbe{Name: "redis", Ping: searchCache.Ping})
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IndexEventQueue)
		if err != nil {
			return err
		}
		a.MQConn = conn
		events = rabbitmqClient.NewIndexEventPublisher(conn, cfg.RabbitMQ.IndexEventQueue)
		probes = append(probes, app.HealthProbe{Name: "rabbitmq", Ping: func(context.Context) error {
			return rabbitmqClient.Ping(conn)
		}})
		if a.MySQL != nil {
			a.EventWorker = worker.NewIndexEventWorker(conn, repository.NewIndexEventRepository(a.MySQL), cfg.RabbitMQ.IndexEventQueue, log)
			if err := a.EventWorker.Start(ctx); err != nil {
				return fmt.Errorf("start index event worker failed: %w", err)
			}
		} else {
			log.Warn("rabbitmq enabled without mysql; index events are published but not persisted here")
		}
	}

	store, err := newDocumentStore(ctx, cfg)
	if err != nil {
		return err
	}
	index, err := newVectorIndex(ctx, cfg, a.MySQL)
	if err != nil {
		return err
	}
	a.Index = index

	newEmbedder := embedderFactory(cfg)
	embCfg := model.EmbeddingConfig{
		Provider:  cfg.Embedding.Provider,
		ModelName: cfg.Embedding.ModelName,
		Device:    cfg.Embedding.Device,
		Normalize: cfg.Embedding.Normalize,
		Dimension: cfg.Embedding.Dimension,
	}
	embedder, err := newEmbedder(ctx, embCfg)
	if err != nil {
		return fmt.Errorf("load embedding model failed: %w", err)
	}
	embCfg.Dimension = embedder.Dimension()

	settings, err := app.NewSettings(
		model.ChunkingConfig{
			ChunkSize:    cfg.Chunking.ChunkSize,
			ChunkOverlap: cfg.Chunking.ChunkOverlap,
			Separator:    cfg.Chunking.Separator,
		},
		embCfg,
		model.RetrievalConfig{
			K:              cfg.Retrieval.K,
			SearchType:     cfg.Retrieval.SearchType,
			ScoreThreshold: cfg.Retrieval.ScoreThreshold,
			FetchK:         cfg.Retrieval.FetchK,
			LambdaMult:     cfg.Retrieval.LambdaMult,
		},
	)
	if err != nil {
		_ = embedder.Close()
		return fmt.Errorf("invalid initial settings: %w", err)
	}

	deps := app.AdminDeps{
		Store:            store,
		Index:            index,
		Embedder:         embedder,
		NewEmbedder:      newEmbedder,
		Settings:         settings,
		Jobs:             app.NewJobRegistry(jobStore, log),
		Cache:            search,
		Events:           events,
		EventLog:         eventLog,
		Probes:           probes,
		OperationTimeout: cfg.OperationTimeout(),
		RebuildTimeout:   cfg.RebuildTimeout(),
		Logger:           log,
	}
	// a nil *GenerationClient must not become a non-nil interface
	if gen := ai.NewGenerationClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model); gen != nil {
		deps.Generation = gen
	}

	a.Admin, err = app.NewAdminService(deps)
	if err != nil {
		return err
	}
	a.Auth, err = app.NewAuthService(cfg.Auth)
	if err != nil {
		return err
	}

	log.Info("vector store admin ready",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("index", index.Backend()),
		zap.String("embedding_model", embedder.ModelName()),
		zap.Int("embedding_dimension", embedder.Dimension()),
		zap.Bool("mysql", a.MySQL != nil),
		zap.Bool("redis", a.Redis != nil),
		zap.Bool("rabbitmq", a.MQConn != nil))
	return nil
}

func newDocumentStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.Storage.Backend {
	case "minio":
		return docstore.NewMinIOStore(ctx, cfg.Storage.MinIO)
	default:
		return docstore.NewFSStore(cfg.Storage.DataDir)
	}
}

func newVectorIndex(ctx context.Context, cfg *config.Config, db *gorm.DB) (vectorindex.Index, error) {
	switch cfg.VectorIndex.Backend {
	case "mysql":
		if db == nil {
			return nil, fmt.Errorf("vector_index.backend=mysql requires mysql.enabled")
		}
		return vectorindex.NewMySQLIndex(ctx, repository.NewVectorChunkRepository(db))
	case "qdrant":
		return vectorindex.NewQdrant(ctx, vectorindex.QdrantConfig{
			URL:        cfg.VectorIndex.QdrantURL,
			APIKey:     cfg.VectorIndex.QdrantAPIKey,
			Collection: cfg.VectorIndex.QdrantCollection,
		})
	default:
		return vectorindex.OpenBolt(cfg.VectorIndex.BoltPath)
	}
}

// embedderFactory fills the provider options that are fixed by deployment
// (endpoints, keys, model files) around the runtime-mutable embedding config.
func embedderFactory(cfg *config.Config) app.EmbedderFactory {
	return func(ctx context.Context, ec model.EmbeddingConfig) (ai.Embedder, error) {
		return ai.NewEmbedder(ctx, ai.EmbedderOptions{
			Provider:      ec.Provider,
			ModelName:     ec.ModelName,
			Device:        ec.Device,
			Normalize:     ec.Normalize,
			Dimension:     ec.Dimension,
			BaseURL:       cfg.LLM.BaseURL,
			APIKey:        cfg.LLM.APIKey,
			ONNXModelPath: cfg.Embedding.ONNXModelPath,
			ONNXVocabPath: cfg.Embedding.ONNXVocabPath,
			ONNXLibPath:   cfg.Embedding.ONNXLibPath,
			MaxSeqLength:  cfg.Embedding.MaxSeqLength,
		})
	}
}

// directEventWriter records index events straight to MySQL when no broker is
// configured.
type directEventWriter struct {
	repo *repository.IndexEventRepository
}

func (w directEventWriter) Publish(ctx context.Context, event model.IndexEvent) error {
	return w.repo.Create(ctx, &event)
}

// Close cancels background rebuilds, waits for them to stop and releases
// every client.
func (a *App) Close() error {
	var closeErr error
	if a.Admin != nil {
		a.Admin.Close()
	}
	if a.EventWorker != nil {
		a.EventWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
