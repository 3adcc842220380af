package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/legal-doc-analyzer/internal/config"
	"github.com/kirillkom/legal-doc-analyzer/internal/core/ports"
	"github.com/kirillkom/legal-doc-analyzer/internal/core/usecase"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/analysis/classify"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/analysis/fields"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/analysis/risk"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/export"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/extractor"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/ocr"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/queue/nats"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/resilience"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/legal-doc-analyzer/internal/infrastructure/storage/minio"
)

type App struct {
	Config config.Config

	Queue   *nats.Queue
	Docs    ports.DocumentRepository
	Runs    ports.RunRepository
	Storage ports.ObjectStorage

	IngestUC  *usecase.IngestDocumentUseCase
	AnalyzeUC *usecase.AnalyzeDocumentUseCase
	ResultsUC *usecase.ResultsUseCase
	ExportUC  *usecase.ExportResultsUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	docs := postgres.NewDocumentRepository(db)
	if err := docs.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	runs := postgres.NewRunRepository(db)

	storage, err := newObjectStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 200 * time.Millisecond,
		BreakerEnabled:      true,
	})

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	var ocrEngine ports.OCREngine
	if cfg.OCRURL != "" {
		ocrEngine = ocr.NewWithOptions(cfg.OCRURL, ocr.Options{ResilienceExecutor: executor})
	}

	riskScorer, err := risk.Load(cfg.RiskRulesPath)
	if err != nil {
		return nil, fmt.Errorf("load risk rules: %w", err)
	}

	textExtractor := extractor.NewExtractor(storage, ocrEngine)
	classifier := classify.New()
	fieldExtractor := fields.New()

	runCfg := usecase.RunConfig{
		ExtractTimeout:       time.Duration(cfg.ExtractTimeoutSeconds) * time.Second,
		AnalysisStageTimeout: time.Duration(cfg.AnalysisStageTimeoutSeconds) * time.Second,
		ExtractMaxAttempts:   cfg.ExtractMaxAttempts,
		RetryInitialBackoff:  time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond,
		RetryMaxBackoff:      time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond,
	}

	ingestUC := usecase.NewIngestDocumentUseCase(docs, storage, int64(cfg.UploadMaxBytes))
	analyzeUC := usecase.NewAnalyzeDocumentUseCase(docs, runs, queue, textExtractor, classifier, fieldExtractor, riskScorer, runCfg)
	resultsUC := usecase.NewResultsUseCase(docs, runs)
	exportUC := usecase.NewExportResultsUseCase(docs, resultsUC, map[string]ports.ResultRenderer{
		"json": export.NewJSONRenderer(),
		"xlsx": export.NewExcelRenderer(),
	})

	return &App{
		Config:  cfg,
		Queue:   queue,
		Docs:    docs,
		Runs:    runs,
		Storage: storage,

		IngestUC:  ingestUC,
		AnalyzeUC: analyzeUC,
		ResultsUC: resultsUC,
		ExportUC:  exportUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func newObjectStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	switch cfg.StorageBackend {
	case "minio":
		store, err := minio.New(minio.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "localfs", "":
		return localfs.New(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
