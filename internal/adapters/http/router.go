package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/docimport/internal/config"
	"github.com/kirillkom/docimport/internal/core/ports"
	"github.com/kirillkom/docimport/internal/observability/metrics"
)

const defaultMaxUploadBytes = 32 << 20

// Services are the inbound ports the HTTP surface exposes. Nil services
// disable their routes with 503.
type Services struct {
	Classifier ports.DocumentClassifier
	Resolver   ports.EntityResolver
	Committer  ports.ImportCommitter
	Batch      ports.BatchRunner
	Ingestor   ports.DocumentIngestor
	Documents  ports.DocumentReader
	History    ports.HistoryReader
	Metrics    *metrics.HTTPServerMetrics
}

type Router struct {
	cfg      config.Config
	services Services
	logger   *slog.Logger
}

func NewRouter(cfg config.Config, services Services) *Router {
	if cfg.APIMaxUploadBytes <= 0 {
		cfg.APIMaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.APIHistoryDefaultLimit <= 0 {
		cfg.APIHistoryDefaultLimit = 50
	}
	return &Router{cfg: cfg, services: services, logger: slog.Default()}
}

// WithLogger sets the logger request-scoped loggers derive from.
func (rt *Router) WithLogger(logger *slog.Logger) *Router {
	if logger != nil {
		rt.logger = logger
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.services.Metrics != nil {
		mux.Handle("GET /metrics", rt.services.Metrics.Handler())
	}
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("POST /v1/documents/classify", rt.classifyDocument)
	mux.HandleFunc("GET /v1/documents/{document_id}", rt.getDocumentByID)
	mux.HandleFunc("POST /v1/imports", rt.commitImport)
	mux.HandleFunc("GET /v1/imports/history", rt.importHistory)
	mux.HandleFunc("POST /v1/batches", rt.runBatch)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.services.Metrics != nil {
		handler = rt.services.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(rt.logger, handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	if rt.services.Documents == nil {
		writeUnavailable(w, "documents")
		return
	}

	id := strings.TrimSpace(r.PathValue("document_id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	doc, err := rt.services.Documents.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeUnavailable(w http.ResponseWriter, service string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": service + " service is not configured"})
}
