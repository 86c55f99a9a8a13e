package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// ErrorClassification tells the executor how to treat an error. Temporary
// errors reach callers as domain.ErrTemporary; RecordFailure counts the
// error against the circuit.
type ErrorClassification struct {
	Temporary     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

var (
	// Ignored errors neither trip the circuit nor count as temporary:
	// cancellation and caller mistakes such as 4xx answers.
	Ignored   = ErrorClassification{}
	Transient = ErrorClassification{Temporary: true, RecordFailure: true}
	Permanent = ErrorClassification{RecordFailure: true}
)

// ClassifyCommon handles what every remote dependency shares: context
// cancellation, open circuits and network failures. Anything else is
// Permanent.
func ClassifyCommon(err error) ErrorClassification {
	if c, ok := classifyShared(err); ok {
		return c
	}
	return Permanent
}

// ClassifyHTTP extends ClassifyCommon with the HTTP status carried by err.
func ClassifyHTTP(err error, status func(error) (int, bool)) ErrorClassification {
	if c, ok := classifyShared(err); ok {
		return c
	}
	if code, ok := status(err); ok {
		if TemporaryHTTPStatus(code) {
			return Transient
		}
		return Ignored
	}
	return Permanent
}

func classifyShared(err error) (ErrorClassification, bool) {
	switch {
	case err == nil:
		return Ignored, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Ignored, true
	case IsCircuitOpen(err):
		return Transient, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient, true
	}
	return ErrorClassification{}, false
}

func TemporaryHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
