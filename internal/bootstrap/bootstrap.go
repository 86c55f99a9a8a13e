package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/policy-query-engine/internal/config"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
	"github.com/kirillkom/policy-query-engine/internal/core/usecase"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/cache"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/chunking"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/extractor"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/extractor/docx"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/extractor/htmltext"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/extractor/xlsx"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/fetcher"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/queue/nats"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/resilience"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/tokens"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config

	Queue    *nats.Queue
	Repo     ports.DocumentRepository
	RunUC    *usecase.RunQueryUseCase
	IndexUC  *usecase.IndexDocumentUseCase
	UploadUC *usecase.UploadDocumentUseCase
	VectorDB ports.VectorStore

	documents *usecase.DocumentPipelineUseCase
	closers   []func()
}

// New builds the full service: the query pipeline plus the Postgres
// registry and the NATS index queue.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	app, executor, err := newQueryStack(ctx, cfg)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.closers = append(app.closers, func() { _ = db.Close() })
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.closers = append(app.closers, queue.Close)

	app.Repo = repo
	app.Queue = queue
	app.IndexUC = usecase.NewIndexDocumentUseCase(repo, queue, app.documents, app.VectorDB)
	return app, nil
}

// NewQueryOnly builds the question answering pipeline without the registry
// and the queue.
func NewQueryOnly(ctx context.Context, cfg config.Config) (*App, error) {
	app, _, err := newQueryStack(ctx, cfg)
	return app, err
}

func newQueryStack(ctx context.Context, cfg config.Config) (*App, *resilience.Executor, error) {
	executor := resilience.NewExecutor(resilience.Config{
		BreakerEnabled:      cfg.ResilienceBreakerOn,
		BreakerFailureRatio: cfg.ResilienceFailureRatio,
		BreakerOpenTimeout:  cfg.ResilienceOpenTimeout,
	})

	storage, err := localfs.New(cfg.StoragePath, cfg.MaxDocumentBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("init upload storage: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:     cfg.LLMTimeout,
		Temperature: cfg.LLMTemperature,
		Executor:    executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient, cfg.EmbedBatchSize, cfg.EmbedBatchDelay)
	generator := ollama.NewGenerator(ollamaClient)

	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, embedder, qdrant.Options{
		Dimension:       cfg.EmbeddingDimension,
		Profiles:        cfg.QdrantIndexProfiles,
		UpsertBatchSize: cfg.UpsertBatchSize,
		MaxChunks:       cfg.MaxIndexedChunks,
		Executor:        executor,
	})

	documentFetcher := fetcher.New(fetcher.Options{
		MaxBytes:  cfg.MaxDocumentBytes,
		LocalRoot: cfg.LocalDocumentRoot,
		Timeout:   cfg.FetchTimeout,
	})
	extractors := extractor.NewRegistry().
		Register(extractor.KindPDF, pdf.NewExtractor()).
		Register(extractor.KindDOCX, docx.NewExtractor()).
		Register(extractor.KindXLSX, xlsx.NewExtractor()).
		Register(extractor.KindHTML, htmltext.NewExtractor()).
		Register(extractor.KindText, plaintext.NewExtractor())
	chunker := chunking.NewSplitter(chunking.Options{
		BaseSize:   cfg.MaxChunkSize,
		Multiplier: cfg.ChunkSizeMultiplier,
		MaxSizeCap: cfg.ChunkMaxSizeCap,
		MinSize:    cfg.MinChunkSize,
		Overlap:    cfg.ChunkOverlap,
	})

	app := &App{Config: cfg, VectorDB: vectorDB}
	answerCache := app.openAnswerCache(ctx, cfg)

	documents := usecase.NewDocumentPipelineUseCase(documentFetcher, extractors, chunker)
	retrieval := usecase.NewRetrievalEngine(vectorDB, generator, usecase.RetrievalConfig{
		TopK:            cfg.MaxRetrievalResults,
		RerankThreshold: cfg.RerankThreshold,
		RerankTopK:      cfg.RerankTopK,
		PreviewChars:    cfg.RerankPreviewChars,
	})
	decision := usecase.NewDecisionEngine(generator, usecase.DecisionConfig{
		SynthesisConfidenceFloor: cfg.SynthesisConfidenceFloor,
	})
	questions := usecase.NewAnswerQuestionsUseCase(
		vectorDB,
		retrieval,
		decision,
		generator,
		answerCache,
		tokens.NewCounter(cfg.TokenEncoding),
		usecase.QuestionConfig{
			MaxQuestions:      cfg.MaxQuestionsPerRequest,
			MaxQuestionLength: cfg.MaxQuestionLength,
			CacheTTL:          cfg.CacheTTL,
			ModelUsed:         ollamaClient.GenModel(),
			EmbeddingModel:    ollamaClient.EmbedModel(),
		},
	)

	app.documents = documents
	app.RunUC = usecase.NewRunQueryUseCase(documents, questions)
	app.UploadUC = usecase.NewUploadDocumentUseCase(storage)
	return app, executor, nil
}

// openAnswerCache prefers Redis and falls back to the in-process LRU when
// Redis is not configured or unreachable.
func (a *App) openAnswerCache(ctx context.Context, cfg config.Config) ports.AnswerCache {
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		client, err := cache.OpenRedis(pingCtx, cfg.RedisURL)
		cancel()
		if err == nil {
			a.closers = append(a.closers, func() { closeRedis(client) })
			slog.Info("answer_cache_ready", "backend", "redis")
			return cache.NewRedisAnswerCache(client)
		}
		slog.Warn("answer_cache_redis_unavailable", "error", err)
	}
	slog.Info("answer_cache_ready", "backend", "memory", "max_items", cfg.CacheMaxItems)
	return cache.NewMemoryAnswerCache(cfg.CacheMaxItems, cfg.CacheTTL)
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		slog.Warn("redis_close_failed", "error", err)
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
