package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/extraction"
	"github.com/kirillkom/docimport/internal/core/ports"
)

type ClassifyOptions struct {
	SupportedMimeTypes  []string
	MissingFieldPenalty float64
}

type ClassifyUseCase struct {
	extractor ports.Extractor
	text      ports.TextExtractor
	parser    *extraction.Parser
	supported map[string]struct{}
	penalty   float64
	logger    *slog.Logger
}

func NewClassifyUseCase(
	extractor ports.Extractor,
	text ports.TextExtractor,
	parser *extraction.Parser,
	opts ClassifyOptions,
	logger *slog.Logger,
) *ClassifyUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	mimeTypes := opts.SupportedMimeTypes
	if len(mimeTypes) == 0 {
		mimeTypes = domain.DefaultSupportedMimeTypes()
	}
	supported := make(map[string]struct{}, len(mimeTypes))
	for _, mt := range mimeTypes {
		supported[domain.NormalizeMimeType(mt, "")] = struct{}{}
	}
	penalty := opts.MissingFieldPenalty
	if penalty < 0 {
		penalty = 0
	}
	return &ClassifyUseCase{
		extractor: extractor,
		text:      text,
		parser:    parser,
		supported: supported,
		penalty:   penalty,
		logger:    logger,
	}
}

func (uc *ClassifyUseCase) Classify(ctx context.Context, raw domain.RawDocument) (domain.ExtractionResult, error) {
	return uc.classify(ctx, raw, "")
}

func (uc *ClassifyUseCase) ClassifyAs(ctx context.Context, raw domain.RawDocument, docType domain.DocumentType) (domain.ExtractionResult, error) {
	if !docType.Known() {
		return domain.ExtractionResult{}, domain.WrapError(domain.ErrInvalidInput, "classify as", fmt.Errorf("document type %q cannot be extracted", docType))
	}
	return uc.classify(ctx, raw, docType)
}

func (uc *ClassifyUseCase) classify(ctx context.Context, raw domain.RawDocument, hint domain.DocumentType) (domain.ExtractionResult, error) {
	req, err := uc.prepare(ctx, raw)
	if err != nil {
		return domain.ExtractionResult{}, err
	}

	docType := hint
	firstConfidence := 0.0
	if docType == "" {
		first, err := uc.extractor.Extract(ctx, req)
		if err != nil {
			return domain.ExtractionResult{}, extractionFailed(raw.Filename, "", err)
		}
		docType = domain.ParseDocumentType(first.DocumentType)
		if !docType.Known() {
			uc.logger.Info("document_unrecognised", "filename", raw.Filename, "model_type", first.DocumentType)
			return domain.UnknownResult(raw.Filename, domain.DocumentUnknown, "document type not recognised"), nil
		}
		firstConfidence = first.Confidence
	}

	req.DocumentType = docType
	req.TargetSchema = extraction.Schema(docType)
	second, err := uc.extractor.Extract(ctx, req)
	if err != nil {
		return domain.ExtractionResult{}, extractionFailed(raw.Filename, docType, err)
	}

	parsed, err := uc.parser.Parse(docType, second.Fields)
	if err != nil {
		warning := fmt.Sprintf("%s extraction rejected: %v", docType, err)
		var docErr *domain.DocumentError
		if errors.As(err, &docErr) && docErr.Field != "" {
			warning = fmt.Sprintf("%s extraction rejected: field %s is missing or invalid", docType, docErr.Field)
		}
		uc.logger.Warn("extraction_rejected", "filename", raw.Filename, "document_type", docType, "error", err)
		return domain.UnknownResult(raw.Filename, docType, warning), nil
	}

	rawConfidence := second.Confidence
	if rawConfidence <= 0 {
		rawConfidence = firstConfidence
	}

	warnings := make([]string, 0, len(parsed.MissingExpected))
	for _, field := range parsed.MissingExpected {
		warnings = append(warnings, "missing expected field: "+field)
	}
	warnings = append(warnings, extraction.LineItemWarnings(parsed.Payload.Items())...)
	warnings = append(warnings, extraction.TotalsWarnings(parsed.Payload)...)

	return domain.ExtractionResult{
		DocumentType:   docType,
		Payload:        parsed.Payload,
		Confidence:     extraction.AdjustConfidence(rawConfidence, len(parsed.MissingExpected), uc.penalty),
		SourceFilename: raw.Filename,
		Warnings:       warnings,
	}, nil
}

// prepare rejects unsupported input before any model call and converts
// text-bearing formats to plain text.
func (uc *ClassifyUseCase) prepare(ctx context.Context, raw domain.RawDocument) (ports.ExtractRequest, error) {
	mimeType := domain.NormalizeMimeType(raw.MimeType, raw.Filename)
	if _, ok := uc.supported[mimeType]; !ok {
		return ports.ExtractRequest{}, domain.NewDocumentError(domain.ErrUnsupportedFormat, raw.Filename, "", "",
			fmt.Errorf("mime type %q is not supported", mimeType))
	}
	if len(raw.Content) == 0 {
		return ports.ExtractRequest{}, domain.NewDocumentError(domain.ErrValidation, raw.Filename, "", "",
			errors.New("document is empty"))
	}

	req := ports.ExtractRequest{
		Content:  raw.Content,
		MimeType: mimeType,
		Filename: raw.Filename,
	}
	if uc.text == nil {
		return req, nil
	}
	text, err := uc.text.ExtractText(ctx, mimeType, raw.Content)
	switch {
	case err == nil:
		req.Text = text
	case mimeType == domain.MimePDF:
		uc.logger.Warn("pdf_text_layer_unreadable", "filename", raw.Filename, "error", err)
	default:
		return ports.ExtractRequest{}, domain.NewDocumentError(domain.ErrValidation, raw.Filename, "", "",
			fmt.Errorf("read %s content: %w", mimeType, err))
	}
	return req, nil
}

func extractionFailed(filename string, docType domain.DocumentType, err error) error {
	return domain.NewDocumentError(domain.ErrExtractionFailed, filename, docType, "", err)
}
