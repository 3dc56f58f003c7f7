package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/docimport/internal/core/domain"
)

const documentColumns = `id, filename, mime_type, origin, storage_path, status, extraction, COALESCE(error_message, ''), created_at, updated_at`

// DocumentRepository tracks documents submitted for asynchronous
// classification. The extraction is kept as JSONB, with its type and
// confidence copied to plain columns for review queues.
type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, r.db)
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (id, filename, mime_type, origin, storage_path, status, error_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.Filename, doc.MimeType, string(doc.Origin), doc.StoragePath,
		string(doc.Status), doc.Error, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func scanDocument(row *sql.Row) (*domain.Document, error) {
	var (
		doc           domain.Document
		origin        string
		status        string
		extractionRaw []byte
	)
	if err := row.Scan(
		&doc.ID, &doc.Filename, &doc.MimeType, &origin, &doc.StoragePath,
		&status, &extractionRaw, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.Origin = domain.Origin(origin)
	doc.Status = domain.DocumentStatus(status)

	if len(extractionRaw) > 0 {
		doc.Extraction = new(domain.ExtractionResult)
		if err := json.Unmarshal(extractionRaw, doc.Extraction); err != nil {
			return nil, fmt.Errorf("decode extraction of %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1`,
		id, string(status), errMessage, r.now(),
	)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireAffected(res, "update document status", "document "+id)
}

func (r *DocumentRepository) SaveExtraction(ctx context.Context, id string, result domain.ExtractionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	docType := result.DocumentType
	if result.IsUnknown() {
		docType = domain.DocumentUnknown
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET extraction = $2, document_type = $3, confidence = $4, updated_at = $5
WHERE id = $1`,
		id, payload, string(docType), result.Confidence, r.now(),
	)
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	return requireAffected(res, "save extraction", "document "+id)
}

func requireAffected(res sql.Result, op, subject string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, op, errors.New(subject))
	}
	return nil
}
