package analysisapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/resilience"
)

const defaultTimeout = 5 * time.Minute

// Client talks to the policy analysis HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload sends the file as multipart field "file". Uploads are never retried.
func (c *Client) Upload(ctx context.Context, filename string, body io.Reader) (*IngestResponse, error) {
	if body == nil {
		return nil, fmt.Errorf("upload: nil body")
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}

	var out IngestResponse
	err = c.executor.Execute(ctx, "analysisapi.upload", func(callCtx context.Context) error {
		form, contentType, err := multipartFile(filename, payload)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/ingest", form)
		if err != nil {
			return fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		return c.do(req, "upload", &out)
	}, resilience.NoRetry(classify))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context, documentID string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.getJSON(ctx, "status", "/analysis/"+url.PathEscape(documentID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Progress(ctx context.Context, documentID string) (*ProgressResponse, error) {
	var out ProgressResponse
	if err := c.getJSON(ctx, "progress", "/progress/"+url.PathEscape(documentID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Findings(ctx context.Context, documentID string) ([]domain.Finding, error) {
	var out []domain.Finding
	if err := c.getJSON(ctx, "findings", "/findings/"+url.PathEscape(documentID), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Finding{}
	}
	return out, nil
}

// FindingsByCategory uses the server-side filter route. CategoryAll maps to Findings.
func (c *Client) FindingsByCategory(ctx context.Context, documentID string, category domain.Category) ([]domain.Finding, error) {
	if category == domain.CategoryAll || category == "" {
		return c.Findings(ctx, documentID)
	}
	path := "/findings/" + url.PathEscape(documentID) + "/category/" + url.PathEscape(string(category))
	var out []domain.Finding
	if err := c.getJSON(ctx, "findings_by_category", path, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Finding{}
	}
	return out, nil
}

// Chat asks about one finding. Chat is not idempotent from the user's view, so it is never retried.
func (c *Client) Chat(ctx context.Context, findingID int64, question string) (*domain.ChatAnswer, error) {
	payload, err := json.Marshal(chatRequest{Q: question})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	var out domain.ChatAnswer
	path := fmt.Sprintf("/findings/%d/chat", findingID)
	err = c.executor.Execute(ctx, "analysisapi.chat", func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create chat request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req, "chat", &out)
	}, resilience.NoRetry(classify))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON(ctx, "health", "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, operation, path string, out any) error {
	return c.executor.Execute(ctx, "analysisapi."+operation, func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		req.Header.Set("Accept", "application/json")
		return c.do(req, operation, out)
	}, classify)
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("analysis api %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return newAPIError(operation, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func multipartFile(filename string, payload []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "application/pdf")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// APIError is a non-2xx response. Detail carries the server's human-readable reason, if any.
type APIError struct {
	Operation  string
	StatusCode int
	Detail     string
	status     *resilience.StatusError
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("analysis api %s: %d: %s", e.Operation, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("analysis api %s: %d", e.Operation, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e.status == nil {
		return nil
	}
	return e.status
}

func newAPIError(operation string, resp *http.Response) *APIError {
	statusErr := resilience.NewStatusError("analysis api", operation, resp)
	return &APIError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Detail:     errorDetail(statusErr.Body),
		status:     statusErr,
	}
}

func errorDetail(body string) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil {
		if d := strings.TrimSpace(payload.Detail); d != "" {
			return d
		}
		return strings.TrimSpace(payload.Error)
	}
	return ""
}

// DetailOf extracts the server-provided error detail, or "".
func DetailOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func classify(err error) resilience.ErrorClassification {
	return resilience.ClassifyHTTP(err)
}
