package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// WithExecutor routes every upstream call through executor.
func (c *Client) WithExecutor(executor *resilience.Executor) *Client {
	c.executor = executor
	return c
}

// Ping checks that the Ollama server answers.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resilience.NewStatusError("ollama", "ping", resp)
	}
	return nil
}

// ConcernAnalyzer asks the model whether a chunk holds a policyholder concern.
type ConcernAnalyzer struct {
	client *Client
}

func NewConcernAnalyzer(client *Client) *ConcernAnalyzer {
	return &ConcernAnalyzer{client: client}
}

func (a *ConcernAnalyzer) Analyze(ctx context.Context, chunk domain.Chunk) (domain.Concern, error) {
	raw, err := a.client.generate(ctx, buildConcernPrompt(chunk.Text), generateOptions{Temperature: 0, NumPredict: 350})
	if err != nil {
		return domain.Concern{}, err
	}
	return parseConcern(raw), nil
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// Answerer answers questions about one finding.
type Answerer struct {
	client *Client
}

func NewAnswerer(client *Client) *Answerer {
	return &Answerer{client: client}
}

func (a *Answerer) AnswerAboutFinding(ctx context.Context, finding domain.Finding, related []domain.RelatedPassage, question string) (string, error) {
	raw, err := a.client.generate(ctx, buildFindingChatPrompt(finding, related, question), generateOptions{Temperature: 0.1, NumPredict: 500})
	if err != nil {
		return "", err
	}
	return cleanChatResponse(raw), nil
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

func (c *Client) generate(ctx context.Context, prompt string, opts generateOptions) (string, error) {
	reqBody := map[string]any{
		"model":   c.genModel,
		"prompt":  prompt,
		"stream":  false,
		"options": opts,
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
