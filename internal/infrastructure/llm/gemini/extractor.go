// Package gemini is the Google Gemini extraction backend.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/ports"
	"github.com/kirillkom/docimport/internal/infrastructure/llm"
	"github.com/kirillkom/docimport/internal/infrastructure/raster"
	"github.com/kirillkom/docimport/internal/infrastructure/resilience"
)

const (
	DefaultModel = "gemini-2.5-flash"
	jsonMIMEType = "application/json"
)

type generateFunc func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)

type Extractor struct {
	client   *genai.Client
	generate generateFunc
	executor *resilience.Executor
	maxPages int
}

func NewExtractor(ctx context.Context, apiKey, modelName string, executor *resilience.Executor, maxPages int) (*Extractor, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := client.GenerativeModel(modelName)
	configureModel(model)
	return newExtractor(client, model.GenerateContent, executor, maxPages), nil
}

// configureModel asks for deterministic answers as a bare JSON envelope.
func configureModel(model *genai.GenerativeModel) {
	model.SetTemperature(0)
	model.ResponseMIMEType = jsonMIMEType
}

func newExtractor(client *genai.Client, generate generateFunc, executor *resilience.Executor, maxPages int) *Extractor {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Extractor{client: client, generate: generate, executor: executor, maxPages: maxPages}
}

func (e *Extractor) Extract(ctx context.Context, req ports.ExtractRequest) (ports.RawExtraction, error) {
	parts, err := e.parts(req)
	if err != nil {
		return ports.RawExtraction{}, err
	}

	var answer string
	err = e.executor.Execute(ctx, "gemini.generate", func(callCtx context.Context) error {
		resp, err := e.generate(callCtx, parts...)
		if err != nil {
			return err
		}
		answer, err = responseText(resp)
		return err
	}, classifyGeminiError)
	if err != nil {
		if classifyGeminiError(err).Retryable || resilience.IsCircuitOpen(err) {
			return ports.RawExtraction{}, domain.WrapError(domain.ErrTemporary, "gemini generate", err)
		}
		return ports.RawExtraction{}, fmt.Errorf("gemini generate: %w", err)
	}
	return llm.ParseEnvelope(answer, req), nil
}

// parts puts page images first, then the prompt.
func (e *Extractor) parts(req ports.ExtractRequest) ([]genai.Part, error) {
	var parts []genai.Part
	if strings.TrimSpace(req.Text) == "" {
		pages, err := raster.ToPNG(req.Content, req.MimeType, e.maxPages)
		if err != nil {
			return nil, domain.WrapError(domain.ErrValidation, "rasterize "+req.Filename, err)
		}
		for _, page := range pages {
			// ImageData takes the format suffix, not the full MIME type.
			parts = append(parts, genai.ImageData("png", page))
		}
	}
	return append(parts, genai.Text(llm.Prompt(req))), nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no candidates in gemini response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("empty gemini response")
	}
	return b.String(), nil
}

func classifyGeminiError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.NotFound, codes.FailedPrecondition:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func (e *Extractor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
