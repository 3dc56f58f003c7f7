package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/ports"
)

const DefaultBatchWorkers = 4

// BatchObserver receives per-item progress. Implementations must be safe for
// concurrent use.
type BatchObserver interface {
	StartItem()
	FinishItem(status string, duration time.Duration)
	// SkipItem counts an item that never started.
	SkipItem(status string)
}

const (
	BatchStatusClassified = "classified"
	BatchStatusUnknown    = "unknown"
	BatchStatusFailed     = "failed"
	BatchStatusCanceled   = "canceled"
)

type BatchUseCase struct {
	classifier ports.DocumentClassifier
	resolver   ports.EntityResolver
	storage    ports.ObjectStorage
	workers    int
	observer   BatchObserver
	logger     *slog.Logger
}

func NewBatchUseCase(
	classifier ports.DocumentClassifier,
	resolver ports.EntityResolver,
	storage ports.ObjectStorage,
	workers int,
	observer BatchObserver,
	logger *slog.Logger,
) *BatchUseCase {
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchUseCase{
		classifier: classifier,
		resolver:   resolver,
		storage:    storage,
		workers:    workers,
		observer:   observer,
		logger:     logger,
	}
}

// RunBatch classifies and resolves every source with bounded concurrency.
// It never fails as a whole: each item carries its own outcome, at the index
// of its source. Items not started before ctx is done are marked canceled;
// items already running are allowed to finish.
func (uc *BatchUseCase) RunBatch(ctx context.Context, sources []domain.RawDocument) []domain.BatchResult {
	return uc.run(ctx, sources, make([]error, len(sources)))
}

// RunFolder runs a batch over every stored object under prefix.
func (uc *BatchUseCase) RunFolder(ctx context.Context, prefix string) ([]domain.BatchResult, error) {
	if uc.storage == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run folder", fmt.Errorf("object storage is not configured"))
	}
	keys, err := uc.storage.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list folder %q: %w", prefix, err)
	}
	sources := make([]domain.RawDocument, len(keys))
	readErrs := make([]error, len(keys))
	for i, key := range keys {
		filename := path.Base(key)
		sources[i] = domain.RawDocument{
			MimeType: domain.DetectMimeType(filename),
			Filename: filename,
			Origin:   domain.OriginCloudDrive,
		}
		content, err := uc.read(ctx, key)
		if err != nil {
			readErrs[i] = err
			continue
		}
		sources[i].Content = content
	}
	return uc.run(ctx, sources, readErrs), nil
}

func (uc *BatchUseCase) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := uc.storage.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return content, nil
}

func (uc *BatchUseCase) run(ctx context.Context, sources []domain.RawDocument, preset []error) []domain.BatchResult {
	results := make([]domain.BatchResult, len(sources))
	var g errgroup.Group
	g.SetLimit(uc.workers)

	for i, src := range sources {
		if preset[i] != nil {
			results[i] = domain.BatchResult{Source: src, Err: preset[i]}
			uc.skip(BatchStatusFailed)
			continue
		}
		if ctx.Err() != nil {
			results[i] = domain.BatchResult{Source: src, Err: ctx.Err()}
			uc.skip(BatchStatusCanceled)
			continue
		}
		g.Go(func() error {
			results[i] = uc.runItem(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	summary := domain.Summarize(results)
	uc.logger.Info("batch_finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"unknown", summary.Unknown,
	)
	return results
}

func (uc *BatchUseCase) runItem(ctx context.Context, src domain.RawDocument) (res domain.BatchResult) {
	res.Source = src
	if err := ctx.Err(); err != nil {
		res.Err = err
		uc.skip(BatchStatusCanceled)
		return res
	}

	start := time.Now()
	if uc.observer != nil {
		uc.observer.StartItem()
	}
	status := BatchStatusFailed
	defer func() {
		if r := recover(); r != nil {
			res = domain.BatchResult{Source: src, Err: fmt.Errorf("panic while processing %s: %v", src.Filename, r)}
			status = BatchStatusFailed
		}
		if res.Err != nil {
			uc.logger.Warn("batch_item_failed", "filename", src.Filename, "error", res.Err)
		}
		if uc.observer != nil {
			uc.observer.FinishItem(status, time.Since(start))
		}
	}()

	// Once started, an item runs to completion even if the batch is canceled.
	itemCtx := context.WithoutCancel(ctx)

	result, err := uc.classifier.Classify(itemCtx, src)
	if err != nil {
		res.Err = err
		return res
	}
	if result.IsUnknown() {
		res.Success = true
		res.Extraction = &result
		status = BatchStatusUnknown
		return res
	}

	resolved, err := uc.resolver.ResolveExtraction(itemCtx, result)
	res.Extraction = &resolved
	if err != nil {
		res.Err = err
		return res
	}
	res.Success = true
	status = BatchStatusClassified
	return res
}

func (uc *BatchUseCase) skip(status string) {
	if uc.observer != nil {
		uc.observer.SkipItem(status)
	}
}
