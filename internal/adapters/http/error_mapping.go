package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/docimport/internal/core/domain"
)

const retryAfterTemporary = "5"

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrDuplicateImport):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case domain.IsKind(err, domain.ErrValidation), domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNoVendorAvailable), domain.IsKind(err, domain.ErrMissingEntity):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrExtractionFailed), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error        string               `json:"error"`
	Filename     string               `json:"filename,omitempty"`
	DocumentType domain.DocumentType  `json:"document_type,omitempty"`
	Field        string               `json:"field,omitempty"`
	Prior        *domain.ImportRecord `json:"prior,omitempty"`
}

// writeError renders err with the document context a reviewer needs. Server
// side failures are logged under the request id; temporary ones tell the
// client when to come back.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		requestLogger(r.Context()).Error("request_failed", "status", status, "error", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		w.Header().Set("Retry-After", retryAfterTemporary)
	}

	resp := errorResponse{Error: err.Error()}
	var docErr *domain.DocumentError
	if errors.As(err, &docErr) {
		resp.Filename = docErr.Filename
		resp.DocumentType = docErr.DocumentType
		resp.Field = docErr.Field
	}
	var dup *domain.DuplicateImportError
	if errors.As(err, &dup) {
		resp.Prior = dup.Prior
	}
	writeJSON(w, status, resp)
}
