package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/kirillkom/docimport/internal/core/domain"
)

type commitRequest struct {
	Extraction domain.ExtractionResult `json:"extraction"`
	Options    domain.ImportOptions    `json:"options"`
	Actor      string                  `json:"actor"`
}

func (rt *Router) commitImport(w http.ResponseWriter, r *http.Request) {
	if rt.services.Committer == nil {
		writeUnavailable(w, "import")
		return
	}

	var req commitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, rt.cfg.APIMaxUploadBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	record, err := rt.services.Committer.Commit(r.Context(), req.Extraction, req.Options, req.Actor)
	docType := string(req.Extraction.DocumentType)
	if err != nil {
		outcome := "failed"
		var dup *domain.DuplicateImportError
		if errors.As(err, &dup) {
			outcome = "duplicate"
		}
		if rt.services.Metrics != nil {
			rt.services.Metrics.RecordImport(docType, outcome, 0)
		}
		writeError(w, r, err)
		return
	}
	if rt.services.Metrics != nil {
		rt.services.Metrics.RecordImport(docType, "committed", len(record.Created))
	}
	writeJSON(w, http.StatusCreated, record)
}

func (rt *Router) importHistory(w http.ResponseWriter, r *http.Request) {
	if rt.services.History == nil {
		writeUnavailable(w, "history")
		return
	}

	limit := rt.cfg.APIHistoryDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	entries, err := rt.services.History.History(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
