package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/ports"
)

// HistoryAppender records review-pending imports.
type HistoryAppender interface {
	AppendHistory(ctx context.Context, entry *domain.ImportHistoryEntry) error
}

type ProcessDocumentUseCase struct {
	repo       ports.DocumentRepository
	storage    ports.ObjectStorage
	classifier ports.DocumentClassifier
	resolver   ports.EntityResolver
	history    HistoryAppender
	logger     *slog.Logger
	now        func() time.Time
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	classifier ports.DocumentClassifier,
	resolver ports.EntityResolver,
	history HistoryAppender,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		repo:       repo,
		storage:    storage,
		classifier: classifier,
		resolver:   resolver,
		history:    history,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessByID classifies a stored document and keeps the extraction for
// review. Nothing is committed here.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	doc, result, err := uc.extract(ctx, documentID)
	if err == nil {
		err = uc.repo.SaveExtraction(ctx, doc.ID, result)
		if err != nil {
			err = fmt.Errorf("save extraction: %w", err)
		}
	}
	if err != nil {
		if statusErr := uc.recordFailure(ctx, documentID, err); statusErr != nil {
			return fmt.Errorf("%w; record failure: %v", err, statusErr)
		}
		return err
	}

	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusClassified, ""); err != nil {
		return fmt.Errorf("set status=classified: %w", err)
	}
	uc.logger.Info("document_classified",
		"document_id", doc.ID,
		"document_type", result.DocumentType,
		"confidence", result.Confidence,
	)

	uc.recordPending(ctx, doc, result)
	return nil
}

// extract reads the stored source, runs the two-pass classifier and
// annotates the payload with registry matches.
func (uc *ProcessDocumentUseCase) extract(ctx context.Context, documentID string) (*domain.Document, domain.ExtractionResult, error) {
	var none domain.ExtractionResult

	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, none, fmt.Errorf("fetch document by id: %w", err)
	}
	content, err := uc.readSource(ctx, doc.StoragePath)
	if err != nil {
		return nil, none, err
	}

	result, err := uc.classifier.Classify(ctx, domain.RawDocument{
		Content:  content,
		MimeType: doc.MimeType,
		Filename: doc.Filename,
		Origin:   doc.Origin,
	})
	if err != nil {
		return nil, none, fmt.Errorf("classify document: %w", err)
	}

	resolved, err := uc.resolver.ResolveExtraction(ctx, result)
	if err != nil && !errors.Is(err, domain.ErrNoVendorAvailable) {
		return nil, none, fmt.Errorf("resolve entities: %w", err)
	}
	// Without any vendor the extraction is still kept for review.
	return doc, resolved, nil
}

func (uc *ProcessDocumentUseCase) readSource(ctx context.Context, key string) ([]byte, error) {
	rc, err := uc.storage.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open stored document: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	switch {
	case err != nil:
		return nil, fmt.Errorf("read stored document: %w", err)
	case len(content) == 0:
		return nil, domain.WrapError(domain.ErrInvalidInput, "read stored document", errors.New("empty document"))
	}
	return content, nil
}

func (uc *ProcessDocumentUseCase) recordPending(ctx context.Context, doc *domain.Document, result domain.ExtractionResult) {
	if uc.history == nil || result.IsUnknown() {
		return
	}
	fingerprint, _ := domain.Fingerprint(result.Payload)
	entry := &domain.ImportHistoryEntry{
		ID:           uuid.NewString(),
		FileName:     doc.Filename,
		DocumentType: result.DocumentType,
		Status:       domain.ImportPending,
		Fingerprint:  fingerprint,
		Timestamp:    uc.now().UTC(),
	}
	if err := uc.history.AppendHistory(ctx, entry); err != nil {
		uc.logger.Warn("pending_history_failed", "document_id", doc.ID, "error", err)
	}
}

// recordFailure stores the processing error on the document. Temporary
// faults put it back to uploaded while the queue delivers it again.
func (uc *ProcessDocumentUseCase) recordFailure(ctx context.Context, documentID string, cause error) error {
	if domain.IsKind(cause, domain.ErrTemporary) {
		return uc.repo.UpdateStatus(ctx, documentID, domain.StatusUploaded, "retry pending: "+cause.Error())
	}
	return uc.repo.UpdateStatus(ctx, documentID, domain.StatusFailed, cause.Error())
}
