package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/docimport/internal/config"
	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/observability/metrics"
)

func po24Result() domain.ExtractionResult {
	return domain.ExtractionResult{
		DocumentType: domain.DocumentPurchaseOrder,
		Confidence:   0.92,
		Payload: &domain.PurchaseOrderPayload{
			PONumber:   "PO-24",
			VendorName: "Acme Corp",
			OrderDate:  "2024-05-01",
		},
	}
}

func TestClassifyDocumentReturnsExtractionAndVendorCandidate(t *testing.T) {
	classifier := &classifierFake{result: po24Result()}
	handler := newTestHandler(config.Config{}, Services{
		Classifier: classifier,
		Resolver:   resolverFake{vendor: &domain.MatchCandidate{EntityID: "vendor-acme", Score: 1, Method: domain.MatchExactName}},
		Metrics:    metrics.NewHTTPServerMetrics("api"),
	})

	body, contentType := multipartBody(t, "file", "po-24.pdf", []byte("%PDF-1.4"), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/classify", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var resp struct {
		Extraction      domain.ExtractionResult `json:"extraction"`
		VendorCandidate *domain.MatchCandidate  `json:"vendor_candidate"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Extraction.DocumentType != domain.DocumentPurchaseOrder || resp.Extraction.SourceFilename != "po-24.pdf" {
		t.Fatalf("unexpected extraction: %+v", resp.Extraction)
	}
	if resp.VendorCandidate == nil || resp.VendorCandidate.EntityID != "vendor-acme" {
		t.Fatalf("expected vendor candidate, got %+v", resp.VendorCandidate)
	}
}

func TestClassifyDocumentTypeHintAndNoVendor(t *testing.T) {
	classifier := &classifierFake{result: po24Result()}
	handler := newTestHandler(config.Config{}, Services{
		Classifier: classifier,
		Resolver:   resolverFake{err: domain.ErrNoVendorAvailable},
	})

	body, contentType := multipartBody(t, "file", "po.png", []byte{0x89, 'P', 'N', 'G'}, map[string]string{"type_hint": "po"})
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/classify", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("no vendor must still return the extraction, got %d", res.Code)
	}
	if classifier.lastHint != domain.DocumentPurchaseOrder {
		t.Fatalf("expected hint purchase_order, got %q", classifier.lastHint)
	}
}

func TestClassifyDocumentUnsupportedFormatIs415(t *testing.T) {
	handler := newTestHandler(config.Config{}, Services{
		Classifier: &classifierFake{err: domain.NewDocumentError(domain.ErrUnsupportedFormat, "memo.docx", "", "mime_type", errors.New("docx"))},
		Resolver:   resolverFake{},
	})

	body, contentType := multipartBody(t, "file", "memo.docx", []byte("PK"), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/classify", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", res.Code)
	}
	var resp errorResponse
	_ = json.NewDecoder(res.Body).Decode(&resp)
	if resp.Filename != "memo.docx" || resp.Field != "mime_type" {
		t.Fatalf("expected document context in error, got %+v", resp)
	}
}

func TestCommitImportCreated(t *testing.T) {
	committer := &committerFake{record: &domain.ImportRecord{ID: "imp-1", Created: []domain.EntityRef{{Kind: domain.EntityPurchaseOrder, ID: "po-1"}}}}
	handler := newTestHandler(config.Config{}, Services{Committer: committer})

	payload, err := json.Marshal(map[string]any{
		"extraction": po24Result(),
		"options":    map[string]bool{"mark_as_received": true, "update_inventory": true},
		"actor":      "ops@example.test",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", bytes.NewReader(payload))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if committer.got.Actor != "ops@example.test" || !committer.got.Options.UpdateInventory {
		t.Fatalf("request not forwarded: %+v", committer.got)
	}
	if po, ok := committer.got.Extraction.Payload.(*domain.PurchaseOrderPayload); !ok || po.PONumber != "PO-24" {
		t.Fatalf("expected decoded purchase order payload, got %#v", committer.got.Extraction.Payload)
	}
}

func TestCommitImportDuplicateReturnsPrior(t *testing.T) {
	prior := &domain.ImportRecord{ID: "imp-1"}
	handler := newTestHandler(config.Config{}, Services{
		Committer: &committerFake{record: prior, err: &domain.DuplicateImportError{Prior: prior, Fingerprint: "fp"}},
	})

	payload, _ := json.Marshal(map[string]any{"extraction": po24Result()})
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", bytes.NewReader(payload))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Prior == nil || resp.Prior.ID != "imp-1" {
		t.Fatalf("expected prior record in body, got %+v", resp)
	}
}

func TestCommitImportRejectsInvalidJSON(t *testing.T) {
	handler := newTestHandler(config.Config{}, Services{Committer: &committerFake{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader("{"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestRunBatchKeepsOrderAndSummary(t *testing.T) {
	handler := newTestHandler(config.Config{}, Services{Batch: batchFake{}})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, name := range []string{"a.pdf", "broken.pdf", "c.pdf"} {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		_, _ = part.Write([]byte("x"))
	}
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var resp batchResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 3 || resp.Results[1].Filename != "broken.pdf" || resp.Results[1].Success {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
	if resp.Results[1].Error == "" {
		t.Fatalf("expected error text for failed item")
	}
	want := domain.BatchSummary{Total: 3, Succeeded: 2, Failed: 1, Unknown: 2}
	if resp.Summary != want {
		t.Fatalf("summary = %+v, want %+v", resp.Summary, want)
	}
}

func TestImportHistoryLimit(t *testing.T) {
	history := &historyFake{}
	handler := newTestHandler(config.Config{}, Services{History: history})

	req := httptest.NewRequest(http.MethodGet, "/v1/imports/history?limit=5", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || history.limit != 5 {
		t.Fatalf("expected 200 with limit 5, got %d limit=%d", res.Code, history.limit)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/imports/history", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if history.limit != 50 {
		t.Fatalf("expected default limit 50, got %d", history.limit)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/imports/history?limit=-1", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", res.Code)
	}
}

func TestUnconfiguredServiceIs503(t *testing.T) {
	handler := newTestHandler(config.Config{}, Services{})
	req := httptest.NewRequest(http.MethodGet, "/v1/imports/history", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}
