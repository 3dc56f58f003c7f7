package ports

import (
	"context"
	"encoding/json"
	"io"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/docimport/internal/core/domain"
)

// ExtractRequest is one call to the remote extraction model. Text is set when
// the content could be turned into plain text locally; otherwise Content is
// sent as-is. A nil TargetSchema asks only for the document type.
type ExtractRequest struct {
	Content      []byte
	Text         string
	MimeType     string
	Filename     string
	DocumentType domain.DocumentType
	TargetSchema map[string]any
}

// RawExtraction is the model answer before sanitizing and validation.
type RawExtraction struct {
	DocumentType string          `json:"document_type"`
	Confidence   float64         `json:"confidence"`
	Fields       json.RawMessage `json:"fields"`
}

// Extractor is the OCR/extraction capability. It is fallible and slow; the
// same input may produce different answers.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (RawExtraction, error)
}

// TextExtractor turns text-bearing formats into plain text. It returns an
// empty string for formats that must be sent to the model as binary.
type TextExtractor interface {
	ExtractText(ctx context.Context, mimeType string, content []byte) (string, error)
}

// VendorRegistry is read-only. Lookups return nil, nil when nothing matches.
type VendorRegistry interface {
	FindVendorByName(ctx context.Context, name string) (*domain.Vendor, error)
	ListActiveVendors(ctx context.Context) ([]domain.Vendor, error)
	GetVendor(ctx context.Context, id string) (*domain.Vendor, error)
}

// MaterialRegistry is read-only. Lookups return nil, nil when nothing matches.
type MaterialRegistry interface {
	FindMaterialByNameOrSku(ctx context.Context, name, sku string) (*domain.Material, error)
	ListMaterials(ctx context.Context) ([]domain.Material, error)
}

// ImportTx is the unit of work of a single commit. Every write either lands
// with the import record or not at all.
type ImportTx interface {
	// LockFingerprint serializes concurrent commits of the same document.
	LockFingerprint(ctx context.Context, fingerprint string) error
	FindCompleted(ctx context.Context, fingerprint string) (*domain.ImportRecord, error)

	GetVendor(ctx context.Context, id string) (*domain.Vendor, error)
	FindVendorByName(ctx context.Context, name string) (*domain.Vendor, error)
	CreateVendor(ctx context.Context, vendor *domain.Vendor) error
	FindMaterialByNameOrSku(ctx context.Context, name, sku string) (*domain.Material, error)

	CreatePurchaseOrder(ctx context.Context, po *domain.PurchaseOrder) error
	CreateInvoice(ctx context.Context, inv *domain.Invoice) error
	CreateFreightInvoice(ctx context.Context, inv *domain.FreightInvoice) error
	CreateCustomsDocument(ctx context.Context, doc *domain.CustomsRecord) error
	FindPurchaseOrderByNumber(ctx context.Context, number string) (*domain.PurchaseOrder, error)
	IncrementInventory(ctx context.Context, materialID string, quantity decimal.Decimal) error

	SaveImportRecord(ctx context.Context, record *domain.ImportRecord) error
	AppendHistory(ctx context.Context, entry *domain.ImportHistoryEntry) error
}

// ImportStore owns business records and import history.
type ImportStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx ImportTx) error) error
	FindCompleted(ctx context.Context, fingerprint string) (*domain.ImportRecord, error)
	History(ctx context.Context, limit int) ([]domain.ImportHistoryEntry, error)
	AppendHistory(ctx context.Context, entry *domain.ImportHistoryEntry) error
}

// DocumentRepository persists uploaded documents awaiting classification.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveExtraction(ctx context.Context, id string, result domain.ExtractionResult) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// MessageQueue publishes/consumes submitted document ids.
type MessageQueue interface {
	PublishDocumentSubmitted(ctx context.Context, documentID string) error
	SubscribeDocumentSubmitted(ctx context.Context, handler func(context.Context, string) error) error
}

// ImportEventPublisher announces committed imports to other services.
type ImportEventPublisher interface {
	PublishImportCommitted(ctx context.Context, record *domain.ImportRecord) error
}
