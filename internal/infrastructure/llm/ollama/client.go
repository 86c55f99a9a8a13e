package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/policy-query-engine/internal/infrastructure/resilience"
)

type Options struct {
	Timeout     time.Duration
	Temperature float64
	Executor    *resilience.Executor
}

type Client struct {
	baseURL     string
	genModel    string
	embedModel  string
	temperature float64
	httpClient  *http.Client
	executor    *resilience.Executor
}

func New(baseURL, genModel, embedModel string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		genModel:    genModel,
		embedModel:  embedModel,
		temperature: opts.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
		executor:    opts.Executor,
	}
}

func (c *Client) GenModel() string   { return c.genModel }
func (c *Client) EmbedModel() string { return c.embedModel }

// Embedder sends texts to /api/embed in fixed-size batches, pacing batches
// with a shared limiter.
type Embedder struct {
	client    *Client
	batchSize int
	limiter   *rate.Limiter
}

func NewEmbedder(client *Client, batchSize int, batchDelay time.Duration) *Embedder {
	if batchSize <= 0 {
		batchSize = 10
	}
	limit := rate.Inf
	if batchDelay > 0 {
		limit = rate.Every(batchDelay)
	}
	return &Embedder{
		client:    client,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for embed batch: %w", err)
		}

		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embed batch %d-%d: expected %d vectors, got %d", start, end, end-start, len(vectors))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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
	return response.Embeddings, nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

// Generate returns the model response. With structured set the model is
// constrained to JSON output, though the text may still be malformed.
func (g *Generator) Generate(ctx context.Context, prompt string, structured bool) (string, error) {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": false,
	}
	if structured {
		reqBody["format"] = "json"
	}
	if g.client.temperature > 0 {
		reqBody["options"] = map[string]any{"temperature": g.client.temperature}
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := g.client.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
