package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/policy-query-engine/internal/config"
	"github.com/kirillkom/policy-query-engine/internal/core/domain"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
	"github.com/kirillkom/policy-query-engine/internal/observability/metrics"
)

const (
	serviceName    = "policy-query-engine"
	queryEndpoint  = "hackrx_run"
	maxUploadExtra = 1 << 20
)

type Router struct {
	cfg      config.Config
	runner   ports.QueryRunner
	indexer  ports.DocumentIndexer
	docs     ports.DocumentReader
	uploader ports.FileUploader
	index    ports.IndexInspector

	metrics *metrics.APIMetrics
}

func NewRouter(
	cfg config.Config,
	runner ports.QueryRunner,
	indexer ports.DocumentIndexer,
	docs ports.DocumentReader,
	uploader ports.FileUploader,
	index ports.IndexInspector,
) *Router {
	return &Router{
		cfg:      cfg,
		runner:   runner,
		indexer:  indexer,
		docs:     docs,
		uploader: uploader,
		index:    index,
	}
}

// WithMetrics enables request and query metrics and exposes /metrics.
func (rt *Router) WithMetrics(m *metrics.APIMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", rt.root)
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/health", rt.health)
	mux.HandleFunc("/api/v1/hackrx/run", rt.runQuery)
	mux.HandleFunc("/api/v1/hackrx/upload", rt.uploadFile)
	mux.HandleFunc("/v1/documents", rt.registerDocument)
	mux.HandleFunc("/v1/documents/", rt.documentByID)
	mux.HandleFunc("/v1/index/stats", rt.indexStats)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.cfg.APIRequestValidation {
		validator, err := newRequestValidator()
		if err != nil {
			slog.Error("openapi_validator_disabled", "error", err)
		} else {
			handler = validator.middleware(handler)
		}
	}
	handler = backpressureMiddleware(handler, rt.cfg.APIBackpressureMax, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = authMiddleware(handler, rt.cfg.APIAuthToken)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = processTimeMiddleware(handler)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Intelligent Query Retrieval System",
		"service": serviceName,
		"version": rt.cfg.ServiceVersion,
		"health":  "/health",
	})
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
		"version":   rt.cfg.ServiceVersion,
	})
}

type queryRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

func (rt *Router) runQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Documents) == "" {
		writeError(w, http.StatusBadRequest, "documents is required")
		return
	}

	ctx := r.Context()
	if rt.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.RequestTimeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := rt.runner.Run(ctx, strings.TrimSpace(req.Documents), req.Questions)
	if rt.metrics != nil {
		rt.metrics.RecordQuery(queryEndpoint, resp, err, time.Since(started))
	}
	if err != nil {
		rt.writeDomainError(w, r, "query_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) uploadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if rt.cfg.MaxDocumentBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxDocumentBytes+maxUploadExtra)
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "uploaded file exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	uploaded, err := rt.uploader.Upload(r.Context(), fileHeader.Filename, file)
	if err != nil {
		rt.writeDomainError(w, r, "upload_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, uploaded)
}

func (rt *Router) registerDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	doc, err := rt.indexer.Register(r.Context(), req.URL)
	if err != nil {
		rt.writeDomainError(w, r, "document_register_failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) documentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/documents/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := rt.docs.GetByID(r.Context(), id)
		if err != nil {
			rt.writeDomainError(w, r, "document_get_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		deleted, err := rt.indexer.Delete(r.Context(), id)
		if err != nil {
			rt.writeDomainError(w, r, "document_delete_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"document_id":     id,
			"deleted_vectors": deleted,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (rt *Router) indexStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := rt.index.Stats(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, "index_stats_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, event string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error(event, "request_id", requestIDFromContext(r.Context()), "status", status, "error", err)
	} else {
		slog.Warn(event, "request_id", requestIDFromContext(r.Context()), "status", status, "error", err)
	}
	writeError(w, status, errorMessage(err))
}

// errorMessage keeps the well-known kinds readable for clients.
func errorMessage(err error) string {
	if domain.IsKind(err, domain.ErrEmptyDocument) {
		return domain.ErrEmptyDocument.Error()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
