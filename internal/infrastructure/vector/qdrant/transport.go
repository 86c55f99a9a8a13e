package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// do sends one request through the executor. It returns the HTTP status and
// the raw error body so callers can tolerate specific failures.
func (s *Store) do(ctx context.Context, operation, method, url string, payload any, out any) (int, string, error) {
	var body []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, "", fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = raw
	}

	var (
		status  int
		errBody string
	)
	call := func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			errBody = strings.TrimSpace(string(raw))
			return &StatusError{Operation: operation, StatusCode: resp.StatusCode, Status: resp.Status, Body: errBody}
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode %s response: %w", operation, err)
			}
		}
		return nil
	}

	err := s.executor.Execute(ctx, "qdrant."+operation, call, classifyQdrantError)
	return status, errBody, err
}
