package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/policy-analyzer/internal/config"
	"github.com/kirillkom/policy-analyzer/internal/core/ports"
	"github.com/kirillkom/policy-analyzer/internal/core/usecase"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/chunking"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/queue/nats"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/resilience"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue     ports.MessageQueue
	IngestUC  *usecase.IngestDocumentUseCase
	ReaderUC  *usecase.AnalysisReaderUseCase
	ChatUC    *usecase.FindingChatUseCase
	ProcessUC *usecase.ProcessDocumentUseCase

	// HealthChecks ping each backing service by name.
	HealthChecks map[string]func(context.Context) error

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	docs := postgres.NewDocumentRepository(db)
	findings := postgres.NewFindingRepository(db)
	cache := postgres.NewAnalysisCacheRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg)).WithLogger(logger)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel).WithExecutor(executor)
	analyzer := ollama.NewConcernAnalyzer(ollamaClient)
	embedder := ollama.NewEmbedder(ollamaClient)
	answerer := ollama.NewAnswerer(ollamaClient)

	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection).WithExecutor(executor)
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	extractor := pdftext.NewExtractor(storage, logger)

	ingestUC := usecase.NewIngestDocumentUseCase(docs, storage, extractor, queue, cfg.MaxUploadBytes, logger)
	readerUC := usecase.NewAnalysisReaderUseCase(docs, findings, storage)
	chatUC := usecase.NewFindingChatUseCase(findings, answerer, embedder, vectorDB, cfg.ChatContextTopK, logger)
	processUC := usecase.NewProcessDocumentUseCase(docs, findings, extractor, chunker, analyzer, cfg.AnalysisConcurrency, logger).
		WithCache(cache).
		WithIndex(embedder, vectorDB)

	return &App{
		Config: cfg,
		Logger: logger,
		Queue:  queue,

		IngestUC:  ingestUC,
		ReaderUC:  readerUC,
		ChatUC:    chatUC,
		ProcessUC: processUC,

		HealthChecks: map[string]func(context.Context) error{
			"postgres": pingDB(db),
			"nats":     queue.Ping,
			"ollama":   ollamaClient.Ping,
			"qdrant":   vectorDB.Ping,
		},

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func pingDB(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	rc.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	rc.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	rc.BreakerEnabled = cfg.ResilienceBreakerEnabled
	return rc
}
