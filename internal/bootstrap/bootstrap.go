package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kirillkom/docimport/internal/config"
	"github.com/kirillkom/docimport/internal/core/extraction"
	"github.com/kirillkom/docimport/internal/core/ports"
	"github.com/kirillkom/docimport/internal/core/usecase"
	"github.com/kirillkom/docimport/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/docimport/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/docimport/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docimport/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docimport/internal/infrastructure/repository/bolt"
	"github.com/kirillkom/docimport/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docimport/internal/infrastructure/resilience"
	"github.com/kirillkom/docimport/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docimport/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue      ports.MessageQueue
	Repo       ports.DocumentRepository
	Classifier ports.DocumentClassifier
	Resolver   ports.EntityResolver
	Committer  ports.ImportCommitter
	Batch      ports.BatchRunner
	IngestUC   ports.DocumentIngestor
	ProcessUC  ports.DocumentProcessor
	History    ports.HistoryReader

	closeFn func()
}

// New wires the service deployment: Postgres for documents and imports,
// NATS for the submit and commit subjects, local storage for source files.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, httpMetrics *metrics.HTTPServerMetrics) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	registry := postgres.NewRegistry(db)
	importStore := postgres.NewImportStore(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Options{
		SubmitSubject:      cfg.NATSSubmitSubject,
		CommitSubject:      cfg.NATSCommitSubject,
		MaxDeliveries:      cfg.WorkerMaxDeliveries,
		RedeliveryDelay:    cfg.WorkerRedeliveryDelay,
		ResilienceExecutor: resilience.NewExecutorWithLogger(resilienceConfig(cfg, 0, 1), logger),
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	classifier, closeExtractor, err := NewClassifier(ctx, cfg, logger)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, err
	}

	var observer usecase.BatchObserver
	if httpMetrics != nil {
		observer = httpMetrics.Batch()
	}

	resolver := usecase.NewResolveUseCase(registry, registry, nil, logger)
	committer := usecase.NewCommitUseCase(importStore, queue, logger)
	batch := usecase.NewBatchUseCase(classifier, resolver, storage, cfg.BatchWorkers, observer, logger)
	ingestUC := usecase.NewIngestDocumentUseCase(repo, storage, queue, usecase.IngestOptions{
		SupportedMimeTypes: cfg.SupportedMimeTypes,
	})
	processUC := usecase.NewProcessDocumentUseCase(repo, storage, classifier, resolver, importStore, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:      queue,
		Repo:       repo,
		Classifier: classifier,
		Resolver:   resolver,
		Committer:  committer,
		Batch:      batch,
		IngestUC:   ingestUC,
		ProcessUC:  processUC,
		History:    importStore,

		closeFn: func() {
			closeExtractor()
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

// Offline is the single-process deployment used by the command line tool:
// one embedded bolt file holds registries, imports and history.
type Offline struct {
	Store      *bolt.Store
	Classifier ports.DocumentClassifier
	Resolver   ports.EntityResolver
	Committer  ports.ImportCommitter
	Batch      *usecase.BatchUseCase

	closeFn func()
}

func NewOffline(ctx context.Context, cfg config.Config, logger *slog.Logger, observer usecase.BatchObserver) (*Offline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := bolt.Open(cfg.BoltPath)
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	classifier, closeExtractor, err := NewClassifier(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	resolver := usecase.NewResolveUseCase(store, store, nil, logger)
	return &Offline{
		Store:      store,
		Classifier: classifier,
		Resolver:   resolver,
		Committer:  usecase.NewCommitUseCase(store, nil, logger),
		Batch:      usecase.NewBatchUseCase(classifier, resolver, storage, cfg.BatchWorkers, observer, logger),
		closeFn: func() {
			closeExtractor()
			_ = store.Close()
		},
	}, nil
}

func (o *Offline) Close() {
	if o.closeFn != nil {
		o.closeFn()
	}
}

// NewClassifier builds the two-pass classifier on the configured model
// backend. The returned func releases the backend client.
func NewClassifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (*usecase.ClassifyUseCase, func(), error) {
	executor := resilience.NewExecutorWithLogger(resilienceConfig(cfg, cfg.ExtractRateRPS, cfg.ExtractRateBurst), logger)

	var (
		extractor ports.Extractor
		closer    io.Closer
	)
	switch cfg.ExtractorBackend {
	case "gemini":
		g, err := gemini.NewExtractor(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, executor, cfg.MaxRasterPages)
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini extractor: %w", err)
		}
		extractor, closer = g, g
	case "ollama", "":
		extractor = ollama.NewExtractor(ollama.New(cfg.OllamaURL, cfg.OllamaModel, executor), cfg.MaxRasterPages)
	default:
		return nil, nil, fmt.Errorf("unknown extractor backend %q", cfg.ExtractorBackend)
	}

	parser, err := extraction.NewParser(logger)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, fmt.Errorf("init extraction parser: %w", err)
	}

	classifier := usecase.NewClassifyUseCase(extractor, plaintext.NewExtractor(), parser, usecase.ClassifyOptions{
		SupportedMimeTypes:  cfg.SupportedMimeTypes,
		MissingFieldPenalty: cfg.MissingFieldPenalty,
	}, logger)

	release := func() {
		if closer != nil {
			_ = closer.Close()
		}
	}
	return classifier, release, nil
}

func resilienceConfig(cfg config.Config, rps float64, burst int) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.RetryMaxAttempts
	out.RetryInitialBackoff = cfg.RetryInitialBackoff
	out.RetryMaxBackoff = cfg.RetryMaxBackoff
	out.BreakerEnabled = cfg.BreakerEnabled
	if cfg.BreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.BreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.BreakerFailureRatio
	out.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	out.RateLimitRPS = rps
	out.RateLimitBurst = burst
	return out
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
