package qdrant

import (
	"errors"
	"fmt"

	"github.com/kirillkom/policy-query-engine/internal/infrastructure/resilience"
)

type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.Operation, e.Status, e.Body)
}

// classifyQdrantError leaves 4xx answers out of the breaker; 404 and 409
// are expected while the collection is being created.
func classifyQdrantError(err error) resilience.ErrorClassification {
	return resilience.ClassifyHTTP(err, func(err error) (int, bool) {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return statusErr.StatusCode, true
		}
		return 0, false
	})
}
