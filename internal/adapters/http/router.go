package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/config"
	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/core/ports"
	"github.com/kirillkom/policy-analyzer/internal/observability/metrics"
)

const (
	serviceName = "api"

	// multipartOverhead covers boundaries and part headers around the file.
	multipartOverhead = 1 << 20
	healthTimeout     = 2 * time.Second
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck = func(ctx context.Context) error

type Router struct {
	cfg     config.Config
	ingest  ports.DocumentIngestor
	reader  ports.AnalysisReader
	chat    ports.FindingChat
	health  map[string]HealthCheck
	metrics *metrics.HTTPServerMetrics
	logger  *slog.Logger
	now     func() time.Time
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) { rt.metrics = m }
}

func WithHealthChecks(checks map[string]HealthCheck) RouterOption {
	return func(rt *Router) { rt.health = checks }
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(
	cfg config.Config,
	ingest ports.DocumentIngestor,
	reader ports.AnalysisReader,
	chat ports.FindingChat,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:    cfg,
		ingest: ingest,
		reader: reader,
		chat:   chat,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", rt.healthCheck)
	mux.HandleFunc("POST /ingest", rt.ingestDocument)
	mux.HandleFunc("GET /analysis/{document_id}", rt.analysisStatus)
	mux.HandleFunc("GET /progress/{document_id}", rt.analysisProgress)
	mux.HandleFunc("GET /findings/{document_id}", rt.listFindings)
	mux.HandleFunc("GET /findings/{document_id}/category/{category}", rt.listFindingsByCategory)
	mux.HandleFunc("POST /findings/{finding_id}/chat", rt.chatAboutFinding)
	mux.HandleFunc("GET /documents/{document_id}/pdf", rt.documentPDF)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if validator, err := newRequestValidator(); err != nil {
		rt.logger.Error("openapi_validation_disabled", "error", err)
	} else {
		handler = validator.middleware(handler)
	}
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIQueueWait, rt.recordRejected)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.recordRejected)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = corsMiddleware(handler)
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

type ingestResponse struct {
	DocumentID     string `json:"document_id"`
	Filename       string `json:"filename"`
	TotalPages     int    `json:"total_pages"`
	AnalysisStatus string `json:"analysis_status"`
}

func (rt *Router) ingestDocument(w http.ResponseWriter, r *http.Request) {
	maxBytes := rt.cfg.MaxUploadBytes
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			rt.recordUpload("too_large", 0)
			rt.writeDomainError(w, r, domain.WrapError(domain.ErrPayloadTooLarge, "read upload",
				fmt.Errorf("file too large, maximum size is %dMB", maxBytes>>20)))
			return
		}
		rt.recordUpload("rejected", 0)
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Ingest(r.Context(), header.Filename, file)
	if err != nil {
		rt.recordUpload(uploadOutcome(err), header.Size)
		rt.writeDomainError(w, r, err)
		return
	}

	rt.recordUpload("accepted", header.Size)
	writeJSON(w, http.StatusOK, ingestResponse{
		DocumentID:     doc.ID,
		Filename:       doc.Filename,
		TotalPages:     doc.TotalPages,
		AnalysisStatus: string(doc.Status),
	})
}

func (rt *Router) analysisStatus(w http.ResponseWriter, r *http.Request) {
	view, err := rt.reader.Status(r.Context(), r.PathValue("document_id"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) analysisProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := rt.reader.Progress(r.Context(), r.PathValue("document_id"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (rt *Router) listFindings(w http.ResponseWriter, r *http.Request) {
	rt.writeFindings(w, r, domain.CategoryAll, "all")
}

func (rt *Router) listFindingsByCategory(w http.ResponseWriter, r *http.Request) {
	category, err := domain.ParseCategoryFilter(r.PathValue("category"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	rt.writeFindings(w, r, category, "category")
}

func (rt *Router) writeFindings(w http.ResponseWriter, r *http.Request, category domain.Category, endpoint string) {
	findings, err := rt.reader.Findings(r.Context(), r.PathValue("document_id"), category)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if findings == nil {
		findings = []domain.Finding{}
	}
	if rt.metrics != nil {
		rt.metrics.RecordFindingsReturned(serviceName, endpoint, len(findings))
	}
	writeJSON(w, http.StatusOK, findings)
}

func (rt *Router) chatAboutFinding(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	findingID, err := strconv.ParseInt(r.PathValue("finding_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "finding id must be an integer")
		return
	}

	var req struct {
		Q string `json:"q"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	answer, err := rt.chat.Ask(r.Context(), findingID, req.Q)
	if err != nil {
		rt.recordChat("error", 0, start)
		rt.writeDomainError(w, r, err)
		return
	}
	rt.recordChat("ok", answer.PassagesUsed, start)
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) documentPDF(w http.ResponseWriter, r *http.Request) {
	doc, body, err := rt.reader.OpenPDF(r.Context(), r.PathValue("document_id"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Filename))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := io.Copy(w, body); err != nil {
		rt.logger.Warn("pdf_stream_interrupted", "document_id", doc.ID, "error", err)
	}
}

type healthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Services  map[string]bool `json:"services"`
}

func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy", Timestamp: rt.now(), Services: map[string]bool{}}
	for name, check := range rt.health {
		err := check(ctx)
		resp.Services[name] = err == nil
		if err != nil {
			resp.Status = "degraded"
			rt.logger.Warn("health_check_failed", "service", name, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, publicMessage(status, err))
}

func (rt *Router) recordUpload(outcome string, size int64) {
	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, outcome, size)
	}
}

func (rt *Router) recordChat(status string, passages int, start time.Time) {
	if rt.metrics != nil {
		rt.metrics.RecordChat(serviceName, status, passages, time.Since(start))
	}
}

func (rt *Router) recordRejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func uploadOutcome(err error) string {
	switch mapErrorToHTTPStatus(err) {
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusBadRequest:
		return "rejected"
	default:
		return "error"
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// writeError carries the message under both keys so clients reading either get it.
func writeError(w http.ResponseWriter, status int, message string) {
	message = strings.TrimSpace(message)
	writeJSON(w, status, errorResponse{Error: message, Detail: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
