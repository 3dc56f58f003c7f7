package usecase

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/ports"
)

const inboxPrefix = "inbox"

type IngestOptions struct {
	// SupportedMimeTypes defaults to domain.DefaultSupportedMimeTypes.
	SupportedMimeTypes []string
}

// IngestDocumentUseCase accepts documents arriving by upload or mail and
// hands them to the worker through the submission queue.
type IngestDocumentUseCase struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	queue     ports.MessageQueue
	supported map[string]struct{}
	now       func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	opts IngestOptions,
) *IngestDocumentUseCase {
	mimeTypes := opts.SupportedMimeTypes
	if len(mimeTypes) == 0 {
		mimeTypes = domain.DefaultSupportedMimeTypes()
	}
	supported := make(map[string]struct{}, len(mimeTypes))
	for _, mt := range mimeTypes {
		supported[domain.NormalizeMimeType(mt, "")] = struct{}{}
	}
	return &IngestDocumentUseCase{
		repo:      repo,
		storage:   storage,
		queue:     queue,
		supported: supported,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores the source file under the inbox of its origin and queues it
// for classification. Formats the classifier cannot read are refused here so
// the sender learns about it before anything is stored.
func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	origin domain.Origin,
	body io.Reader,
) (*domain.Document, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", fmt.Errorf("filename is required"))
	}
	mimeType = domain.NormalizeMimeType(mimeType, filename)
	if _, ok := uc.supported[mimeType]; !ok {
		return nil, domain.NewDocumentError(domain.ErrUnsupportedFormat, filename, "", "",
			fmt.Errorf("%s is not accepted for import", mimeType))
	}
	if origin == "" {
		origin = domain.OriginUpload
	}

	now := uc.now()
	doc := &domain.Document{
		ID:        uuid.NewString(),
		Filename:  filename,
		MimeType:  mimeType,
		Origin:    origin,
		Status:    domain.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.StoragePath = inboxKey(doc, now)

	if err := uc.storage.Save(ctx, doc.StoragePath, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}
	if err := uc.queue.PublishDocumentSubmitted(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish submission event: %w", err)
	}
	return doc, nil
}

// inboxKey lays files out as inbox/<origin>/<day>/<id>_<name>.
func inboxKey(doc *domain.Document, at time.Time) string {
	return path.Join(inboxPrefix, string(doc.Origin), at.Format(time.DateOnly), doc.ID+"_"+sanitizeFilename(doc.Filename))
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		return "document.bin"
	}

	var b strings.Builder
	b.Grow(len(base))
	for _, r := range base {
		if isFilenameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isFilenameRune(r rune) bool {
	return r >= 'a' && r <= 'z' ||
		r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' ||
		r == '.' || r == '-' || r == '_'
}
