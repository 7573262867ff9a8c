package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) WithExecutor(executor *resilience.Executor) *Client {
	c.executor = executor
	return c
}

// Ping checks that Qdrant answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil, "ping")
}

// pointID is stable per document chunk so re-indexing overwrites instead of duplicating.
func pointID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", documentID, index))).String()
}

func (c *Client) IndexChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}
	if err := c.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			ID:     pointID(doc.ID, chunk.Index),
			Vector: vectors[i],
			Payload: map[string]any{
				"document_id": doc.ID,
				"filename":    doc.Filename,
				"page_num":    chunk.PageNum,
				"chunk_index": chunk.Index,
				"text":        chunk.Text,
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert")
}

// DeleteDocument drops every indexed chunk of a document.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection)
	return c.do(ctx, http.MethodPost, path, map[string]any{"filter": documentFilter(documentID)}, nil, "delete")
}

// SearchDocument returns the passages of one document closest to queryVector.
func (c *Client) SearchDocument(ctx context.Context, documentID string, queryVector []float32, limit int) ([]domain.RelatedPassage, error) {
	if limit <= 0 || len(queryVector) == 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
		"filter":       documentFilter(documentID),
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.do(ctx, http.MethodPost, path, reqBody, &searchResp, "search"); err != nil {
		return nil, err
	}

	out := make([]domain.RelatedPassage, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.RelatedPassage{
			DocumentID: getStringPayload(r.Payload, "document_id"),
			PageNum:    getIntPayload(r.Payload, "page_num"),
			Text:       getStringPayload(r.Payload, "text"),
			Score:      r.Score,
		})
	}
	return out, nil
}

func documentFilter(documentID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{
				"key":   "document_id",
				"match": map[string]any{"value": documentID},
			},
		},
	}
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}

	err := c.do(ctx, http.MethodPut, "/collections/"+c.collection, reqBody, nil, "ensure collection")
	if statusErr, ok := asStatusError(err); ok && statusErr.StatusCode == http.StatusConflict {
		err = nil
	}
	if err != nil {
		return err
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any, operation string) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = encoded
	}

	return c.executor.Execute(ctx, "qdrant."+operation, func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return resilience.NewStatusError("qdrant", operation, resp)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	}, resilience.ClassifyHTTP)
}

func asStatusError(err error) (*resilience.StatusError, bool) {
	var statusErr *resilience.StatusError
	ok := errors.As(err, &statusErr)
	return statusErr, ok
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
