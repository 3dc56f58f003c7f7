package httpadapter

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docimport/internal/core/domain"
)

type classifyResponse struct {
	Extraction      domain.ExtractionResult `json:"extraction"`
	VendorCandidate *domain.MatchCandidate  `json:"vendor_candidate,omitempty"`
}

func (rt *Router) classifyDocument(w http.ResponseWriter, r *http.Request) {
	if rt.services.Classifier == nil || rt.services.Resolver == nil {
		writeUnavailable(w, "classification")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.APIMaxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	raw, err := readRawDocument(file, fileHeader, domain.ParseOrigin(r.FormValue("origin")))
	if err != nil {
		writeError(w, r, err)
		return
	}

	start := time.Now()
	var result domain.ExtractionResult
	if hint := strings.TrimSpace(r.FormValue("type_hint")); hint != "" {
		result, err = rt.services.Classifier.ClassifyAs(r.Context(), raw, domain.ParseDocumentType(hint))
	} else {
		result, err = rt.services.Classifier.Classify(r.Context(), raw)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	resolved, err := rt.services.Resolver.ResolveExtraction(r.Context(), result)
	if err != nil && !errors.Is(err, domain.ErrNoVendorAvailable) {
		writeError(w, r, err)
		return
	}
	if rt.services.Metrics != nil {
		rt.services.Metrics.RecordClassification(string(resolved.DocumentType), time.Since(start))
	}

	writeJSON(w, http.StatusOK, classifyResponse{
		Extraction:      resolved,
		VendorCandidate: resolved.VendorMatch,
	})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.services.Ingestor == nil {
		writeUnavailable(w, "ingest")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.APIMaxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.services.Ingestor.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		domain.ParseOrigin(r.FormValue("origin")),
		file,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func readRawDocument(file multipart.File, header *multipart.FileHeader, origin domain.Origin) (domain.RawDocument, error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return domain.RawDocument{}, domain.WrapError(domain.ErrInvalidInput, "read upload", fmt.Errorf("%s: %w", header.Filename, err))
	}
	return domain.RawDocument{
		Content:  content,
		MimeType: header.Header.Get("Content-Type"),
		Filename: header.Filename,
		Origin:   origin,
	}, nil
}
