package ollama

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/policy-query-engine/internal/infrastructure/resilience"
)

// HTTPStatusError is a non-2xx answer from Ollama.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, body)
}

func classifyOllamaError(err error) resilience.ErrorClassification {
	return resilience.ClassifyHTTP(err, func(err error) (int, bool) {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return statusErr.StatusCode, true
		}
		return 0, false
	})
}
