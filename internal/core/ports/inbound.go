package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docimport/internal/core/domain"
)

// DocumentClassifier turns a raw document into a typed extraction. Unknown
// documents are a result, not an error.
type DocumentClassifier interface {
	Classify(ctx context.Context, raw domain.RawDocument) (domain.ExtractionResult, error)
	// ClassifyAs skips type detection and extracts the document as docType.
	ClassifyAs(ctx context.Context, raw domain.RawDocument, docType domain.DocumentType) (domain.ExtractionResult, error)
}

// EntityResolver links extracted names to registry entities without writing.
type EntityResolver interface {
	ResolveVendor(ctx context.Context, name string, items []domain.LineItem) (domain.MatchCandidate, error)
	ResolveLineItems(ctx context.Context, items []domain.LineItem, knownMaterials []domain.Material) ([]domain.LineItem, error)
	ResolveExtraction(ctx context.Context, result domain.ExtractionResult) (domain.ExtractionResult, error)
}

// ImportCommitter writes a confirmed extraction exactly once.
type ImportCommitter interface {
	Commit(ctx context.Context, extraction domain.ExtractionResult, options domain.ImportOptions, actor string) (*domain.ImportRecord, error)
}

// BatchRunner classifies many documents concurrently. Results keep input order.
type BatchRunner interface {
	RunBatch(ctx context.Context, sources []domain.RawDocument) []domain.BatchResult
	RunFolder(ctx context.Context, prefix string) ([]domain.BatchResult, error)
}

// DocumentIngestor is the inbound contract for asynchronous uploads.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, origin domain.Origin, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

type HistoryReader interface {
	History(ctx context.Context, limit int) ([]domain.ImportHistoryEntry, error)
}
