package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/docimport/internal/config"
	"github.com/kirillkom/docimport/internal/core/domain"
)

type docsErrFake struct {
	err error
}

func (f docsErrFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: "doc-1", Filename: "a", MimeType: "text/plain", StoragePath: "a", Status: domain.StatusClassified}, nil
}

type classifierFake struct {
	result   domain.ExtractionResult
	err      error
	lastHint domain.DocumentType
}

func (f *classifierFake) Classify(_ context.Context, raw domain.RawDocument) (domain.ExtractionResult, error) {
	res := f.result
	res.SourceFilename = raw.Filename
	return res, f.err
}

func (f *classifierFake) ClassifyAs(ctx context.Context, raw domain.RawDocument, docType domain.DocumentType) (domain.ExtractionResult, error) {
	f.lastHint = docType
	if docType == domain.DocumentUnknown {
		return domain.ExtractionResult{}, domain.WrapError(domain.ErrInvalidInput, "classify as", errors.New("unknown hint"))
	}
	return f.Classify(ctx, raw)
}

type resolverFake struct {
	vendor *domain.MatchCandidate
	err    error
}

func (f resolverFake) ResolveVendor(context.Context, string, []domain.LineItem) (domain.MatchCandidate, error) {
	return domain.MatchCandidate{}, nil
}

func (f resolverFake) ResolveLineItems(_ context.Context, items []domain.LineItem, _ []domain.Material) ([]domain.LineItem, error) {
	return items, nil
}

func (f resolverFake) ResolveExtraction(_ context.Context, result domain.ExtractionResult) (domain.ExtractionResult, error) {
	result.VendorMatch = f.vendor
	return result, f.err
}

type committerFake struct {
	record *domain.ImportRecord
	err    error
	got    commitRequest
}

func (f *committerFake) Commit(_ context.Context, extraction domain.ExtractionResult, options domain.ImportOptions, actor string) (*domain.ImportRecord, error) {
	f.got = commitRequest{Extraction: extraction, Options: options, Actor: actor}
	return f.record, f.err
}

type batchFake struct{}

func (batchFake) RunBatch(_ context.Context, sources []domain.RawDocument) []domain.BatchResult {
	out := make([]domain.BatchResult, len(sources))
	for i, src := range sources {
		out[i] = domain.BatchResult{Source: src}
		switch src.Filename {
		case "broken.pdf":
			out[i].Err = domain.WrapError(domain.ErrExtractionFailed, "classify", errors.New("timeout"))
		default:
			res := domain.UnknownResult(src.Filename, domain.DocumentUnknown)
			out[i].Success = true
			out[i].Extraction = &res
		}
	}
	return out
}

func (batchFake) RunFolder(context.Context, string) ([]domain.BatchResult, error) {
	return nil, nil
}

type historyFake struct {
	limit int
}

func (f *historyFake) History(_ context.Context, limit int) ([]domain.ImportHistoryEntry, error) {
	f.limit = limit
	return []domain.ImportHistoryEntry{{ID: "h-1", FileName: "po.pdf", Status: domain.ImportCompleted}}, nil
}

func newTestHandler(cfg config.Config, services Services) http.Handler {
	return NewRouter(cfg, services).Handler()
}
