package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/config"
	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/observability/metrics"
)

type ingestFake struct {
	err      error
	filename string
	body     string
}

func (f *ingestFake) Ingest(_ context.Context, filename string, body io.Reader) (*domain.Document, error) {
	raw, _ := io.ReadAll(body)
	f.filename = filename
	f.body = string(raw)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: "doc-1", Filename: filename, TotalPages: 12, Status: domain.StatusPending}, nil
}

type readerFake struct {
	err      error
	category domain.Category
	findings []domain.Finding
}

func (f *readerFake) Status(_ context.Context, id string) (*domain.StatusView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.StatusView{DocumentID: id, Status: domain.StatusCompleted, FindingsCount: 2}, nil
}

func (f *readerFake) Progress(context.Context, string) (domain.ProgressSnapshot, error) {
	return domain.ProgressFor(domain.StatusAnalyzing, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)), f.err
}

func (f *readerFake) Findings(_ context.Context, _ string, category domain.Category) ([]domain.Finding, error) {
	f.category = category
	return f.findings, f.err
}

func (f *readerFake) OpenPDF(context.Context, string) (*domain.Document, io.ReadCloser, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &domain.Document{ID: "doc-1", Filename: "policy.pdf"}, io.NopCloser(strings.NewReader("%PDF-1.4")), nil
}

type chatFake struct {
	err      error
	question string
}

func (f *chatFake) Ask(_ context.Context, findingID int64, question string) (*domain.ChatAnswer, error) {
	f.question = question
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatAnswer{
		Answer:    "Flood is excluded.",
		FindingID: findingID,
		Context:   domain.ChatContext{Category: domain.CategoryExclusion, Summary: "Flood", TextContent: "text"},
	}, nil
}

type routerDeps struct {
	ingest *ingestFake
	reader *readerFake
	chat   *chatFake
}

func newTestRouter(cfg config.Config, opts ...RouterOption) (http.Handler, *routerDeps) {
	deps := &routerDeps{ingest: &ingestFake{}, reader: &readerFake{}, chat: &chatFake{}}
	return NewRouter(cfg, deps.ingest, deps.reader, deps.chat, opts...).Handler(), deps
}

func newTestHandler(cfg config.Config) http.Handler {
	handler, _ := newTestRouter(cfg)
	return handler
}

func multipartUpload(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestIngestReturnsDocumentSummary(t *testing.T) {
	handler, deps := newTestRouter(config.Config{MaxUploadBytes: 1 << 20})
	body, contentType := multipartUpload(t, "file", "policy.pdf", "%PDF-1.7 body")

	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["document_id"] != "doc-1" || resp["total_pages"] != float64(12) || resp["analysis_status"] != "pending" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if deps.ingest.filename != "policy.pdf" || deps.ingest.body != "%PDF-1.7 body" {
		t.Fatalf("unexpected ingest call: %q %q", deps.ingest.filename, deps.ingest.body)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestIngestRequiresFileField(t *testing.T) {
	handler := newTestHandler(config.Config{MaxUploadBytes: 1 << 20})
	body, contentType := multipartUpload(t, "document", "policy.pdf", "%PDF-")

	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestIngestMapsDomainErrorsToStatusAndDetail(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{domain.WrapError(domain.ErrPayloadTooLarge, "read upload", errors.New("file too large, maximum size is 10MB")), http.StatusRequestEntityTooLarge, "file too large, maximum size is 10MB"},
		{domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("only PDF files are supported")), http.StatusBadRequest, "only PDF files are supported"},
		{errors.New("disk full"), http.StatusInternalServerError, "An unexpected error occurred."},
	}
	for _, tc := range cases {
		handler, deps := newTestRouter(config.Config{MaxUploadBytes: 1 << 20})
		deps.ingest.err = tc.err
		body, contentType := multipartUpload(t, "file", "policy.pdf", "%PDF-")

		req := httptest.NewRequest(http.MethodPost, "/ingest", body)
		req.Header.Set("Content-Type", contentType)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)

		if res.Code != tc.status {
			t.Fatalf("expected %d, got %d", tc.status, res.Code)
		}
		var resp errorResponse
		_ = json.NewDecoder(res.Body).Decode(&resp)
		if resp.Detail != tc.detail || resp.Error != tc.detail {
			t.Fatalf("expected detail %q, got %+v", tc.detail, resp)
		}
	}
}

func TestIngestRejectsOversizedBodyBeforeUseCase(t *testing.T) {
	handler, deps := newTestRouter(config.Config{MaxUploadBytes: 1024})
	body, contentType := multipartUpload(t, "file", "big.pdf", strings.Repeat("x", 2<<20))

	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
	if deps.ingest.filename != "" {
		t.Fatalf("expected use case not to be called")
	}
}

func TestAnalysisStatusReturns404ForUnknownDocument(t *testing.T) {
	handler, deps := newTestRouter(config.Config{})
	deps.reader.err = domain.WrapError(domain.ErrDocumentNotFound, "get", errors.New("id=missing"))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/analysis/missing", nil))

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	var resp errorResponse
	_ = json.NewDecoder(res.Body).Decode(&resp)
	if resp.Detail != "Document not found." {
		t.Fatalf("unexpected detail %q", resp.Detail)
	}
}

func TestProgressAndStatusShapes(t *testing.T) {
	handler := newTestHandler(config.Config{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/progress/doc-1", nil))
	var progress map[string]any
	_ = json.NewDecoder(res.Body).Decode(&progress)
	if progress["status"] != "analyzing" || progress["progress"] != float64(60) || progress["timestamp"] == nil {
		t.Fatalf("unexpected progress: %v", progress)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/analysis/doc-1", nil))
	var status map[string]any
	_ = json.NewDecoder(res.Body).Decode(&status)
	if status["document_id"] != "doc-1" || status["status"] != "completed" || status["findings_count"] != float64(2) {
		t.Fatalf("unexpected status: %v", status)
	}
}

func TestFindingsNeverReturnsNull(t *testing.T) {
	handler := newTestHandler(config.Config{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/findings/doc-1", nil))

	if res.Code != http.StatusOK || strings.TrimSpace(res.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %d %q", res.Code, res.Body.String())
	}
}

func TestFindingsByCategoryValidatesCategory(t *testing.T) {
	handler, deps := newTestRouter(config.Config{})
	rec := "Read clause 4."
	deps.reader.findings = []domain.Finding{{ID: 3, Category: domain.CategoryWaitingPeriod, Severity: domain.SeverityLow, Summary: "s", Recommendation: &rec, PageNum: 2, ConfidenceScore: 0.9}}

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/findings/doc-1/category/waiting_period", nil))
	if res.Code != http.StatusOK || deps.reader.category != domain.CategoryWaitingPeriod {
		t.Fatalf("expected WAITING_PERIOD lookup, got %d %q", res.Code, deps.reader.category)
	}
	var findings []map[string]any
	_ = json.NewDecoder(res.Body).Decode(&findings)
	if len(findings) != 1 || findings[0]["recommendation"] != rec || findings[0]["page_num"] != float64(2) {
		t.Fatalf("unexpected findings: %v", findings)
	}
	if _, leaked := findings[0]["text_content"]; leaked {
		t.Fatalf("text_content must not be part of the finding wire shape")
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/findings/doc-1/category/LIMITATION", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d", res.Code)
	}
}

func TestChatReturnsAnswer(t *testing.T) {
	handler, deps := newTestRouter(config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/findings/42/chat", strings.NewReader(`{"q":"Is flood covered?"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var resp map[string]any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	ctx, _ := resp["context"].(map[string]any)
	if resp["finding_id"] != float64(42) || resp["answer"] != "Flood is excluded." || ctx["category"] != "EXCLUSION" {
		t.Fatalf("unexpected chat response: %v", resp)
	}
	if deps.chat.question != "Is flood covered?" {
		t.Fatalf("unexpected question %q", deps.chat.question)
	}
}

func TestChatRejectsContractViolations(t *testing.T) {
	handler := newTestHandler(config.Config{})

	for _, tc := range []struct {
		path string
		body string
	}{
		{path: "/findings/abc/chat", body: `{"q":"x"}`},
		{path: "/findings/42/chat", body: `{"question":"x"}`},
	} {
		req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected 400, got %d", tc.path, tc.body, res.Code)
		}
	}
}

func TestChatMapsMissingFindingTo404(t *testing.T) {
	handler, deps := newTestRouter(config.Config{})
	deps.chat.err = domain.WrapError(domain.ErrFindingNotFound, "get finding", errors.New("id=9"))

	req := httptest.NewRequest(http.MethodPost, "/findings/9/chat", strings.NewReader(`{"q":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestDocumentPDFServedInline(t *testing.T) {
	handler := newTestHandler(config.Config{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/documents/doc-1/pdf", nil))

	if res.Code != http.StatusOK || res.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected pdf response %d %q", res.Code, res.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(res.Header().Get("Content-Disposition"), "inline") || res.Body.String() != "%PDF-1.4" {
		t.Fatalf("unexpected pdf body or disposition")
	}
}

func TestHealthReportsServices(t *testing.T) {
	handler, _ := newTestRouter(config.Config{}, WithHealthChecks(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"qdrant":   func(context.Context) error { return errors.New("down") },
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != "degraded" || !resp.Services["postgres"] || resp.Services["qdrant"] {
		t.Fatalf("unexpected health: %+v", resp)
	}
}

func TestMetricsEndpointExposesUploads(t *testing.T) {
	m := metrics.NewHTTPServerMetrics("api")
	handler, _ := newTestRouter(config.Config{MaxUploadBytes: 1 << 20}, WithMetrics(m))
	body, contentType := multipartUpload(t, "file", "policy.pdf", "%PDF-1.7")

	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(res.Body.String(), `policy_ingest_uploads_total{outcome="accepted",service="api"} 1`) {
		t.Fatalf("expected upload counter in metrics output:\n%s", res.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestHandler(config.Config{})

	req := httptest.NewRequest(http.MethodOptions, "/ingest", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent || res.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight response %d %v", res.Code, res.Header())
	}
}
