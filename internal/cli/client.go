package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

// APIClient talks to the HTTP API. Requests are sent once; the CLI never
// retries.
type APIClient struct {
	client *resty.Client
}

func NewAPIClient(baseURL, token string, timeout time.Duration) (*APIClient, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return nil, fmt.Errorf("api url must be an absolute http(s) url, got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(parsed.String(), "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &APIClient{client: client}, nil
}

func (c *APIClient) Run(ctx context.Context, document string, questions []string) (*domain.QueryResponse, error) {
	var out domain.QueryResponse
	err := c.do(ctx, c.client.R().
		SetBody(map[string]any{"documents": document, "questions": questions}).
		SetResult(&out), "POST", "/api/v1/hackrx/run")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Upload(ctx context.Context, path string) (*domain.UploadedFile, error) {
	var out domain.UploadedFile
	err := c.do(ctx, c.client.R().
		SetFile("file", path).
		SetResult(&out), "POST", "/api/v1/hackrx/upload")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Register(ctx context.Context, documentURL string) (*domain.Document, error) {
	var out domain.Document
	err := c.do(ctx, c.client.R().
		SetBody(map[string]string{"url": documentURL}).
		SetResult(&out), "POST", "/v1/documents")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Status(ctx context.Context, documentID string) (*domain.Document, error) {
	var out domain.Document
	err := c.do(ctx, c.client.R().SetResult(&out), "GET", "/v1/documents/"+url.PathEscape(documentID))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type DeleteResult struct {
	DocumentID     string `json:"document_id"`
	DeletedVectors int    `json:"deleted_vectors"`
}

func (c *APIClient) Delete(ctx context.Context, documentID string) (*DeleteResult, error) {
	var out DeleteResult
	err := c.do(ctx, c.client.R().SetResult(&out), "DELETE", "/v1/documents/"+url.PathEscape(documentID))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Stats(ctx context.Context) (*domain.IndexStats, error) {
	var out domain.IndexStats
	if err := c.do(ctx, c.client.R().SetResult(&out), "GET", "/v1/index/stats"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Health(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, c.client.R().SetResult(&out), "GET", "/health"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) do(ctx context.Context, req *resty.Request, method, path string) error {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Message: errorMessage(resp.Body())}
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
