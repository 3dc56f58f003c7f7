package ollama

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/ports"
	"github.com/kirillkom/docimport/internal/infrastructure/llm"
	"github.com/kirillkom/docimport/internal/infrastructure/raster"
	"github.com/kirillkom/docimport/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 180 * time.Second},
		executor:   executor,
	}
}

// Extractor sends documents to a vision model through /api/generate with a
// JSON Schema constrained answer.
type Extractor struct {
	client   *Client
	maxPages int
}

func NewExtractor(client *Client, maxPages int) *Extractor {
	return &Extractor{client: client, maxPages: maxPages}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  map[string]any `json:"format,omitempty"`
	Images  []string       `json:"images,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

func (e *Extractor) Extract(ctx context.Context, req ports.ExtractRequest) (ports.RawExtraction, error) {
	body := generateRequest{
		Model:   e.client.model,
		Prompt:  llm.Prompt(req),
		Stream:  false,
		Format:  llm.EnvelopeSchema(req),
		Options: map[string]any{"temperature": 0},
	}
	if strings.TrimSpace(req.Text) == "" {
		images, err := e.images(req)
		if err != nil {
			return ports.RawExtraction{}, err
		}
		body.Images = images
	}

	answer, err := e.client.generate(ctx, body)
	if err != nil {
		return ports.RawExtraction{}, err
	}
	return llm.ParseEnvelope(answer, req), nil
}

func (e *Extractor) images(req ports.ExtractRequest) ([]string, error) {
	pages, err := raster.ToPNG(req.Content, req.MimeType, e.maxPages)
	if err != nil {
		return nil, domain.WrapError(domain.ErrValidation, "rasterize "+req.Filename, err)
	}
	out := make([]string, 0, len(pages))
	for _, page := range pages {
		out = append(out, base64.StdEncoding.EncodeToString(page))
	}
	return out, nil
}
