package httpadapter

import (
	"net/http"

	"github.com/kirillkom/docimport/internal/core/domain"
)

const maxBatchMemory = 8 << 20

type batchItem struct {
	Filename   string                   `json:"filename"`
	Success    bool                     `json:"success"`
	Extraction *domain.ExtractionResult `json:"extraction,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItem         `json:"results"`
	Summary domain.BatchSummary `json:"summary"`
}

func (rt *Router) runBatch(w http.ResponseWriter, r *http.Request) {
	if rt.services.Batch == nil {
		writeUnavailable(w, "batch")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.APIMaxUploadBytes)
	if err := r.ParseMultipartForm(maxBatchMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart body with 'files' is required"})
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'files' is required"})
		return
	}

	origin := domain.ParseOrigin(r.FormValue("origin"))
	sources := make([]domain.RawDocument, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot open " + header.Filename})
			return
		}
		raw, err := readRawDocument(file, header, origin)
		_ = file.Close()
		if err != nil {
			writeError(w, r, err)
			return
		}
		sources = append(sources, raw)
	}

	results := rt.services.Batch.RunBatch(r.Context(), sources)
	resp := batchResponse{
		Results: make([]batchItem, 0, len(results)),
		Summary: domain.Summarize(results),
	}
	for _, res := range results {
		item := batchItem{
			Filename:   res.Source.Filename,
			Success:    res.Success,
			Extraction: res.Extraction,
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}
