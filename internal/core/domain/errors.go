package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Adapters wrap causes with one of these so the HTTP layer can
// pick a status without knowing which backend failed.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")

	// Document acquisition.
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentTooLarge = errors.New("document too large")
	ErrFetchFailed      = errors.New("document download failed")
	ErrEmptyDocument    = errors.New("failed to extract content from the provided document")

	// ErrTemporary marks a dependency that is down or shedding load; the
	// caller may try again later.
	ErrTemporary = errors.New("temporary failure")
)

// WrapError tags err with a kind and the operation that produced it. Both
// the kind and the cause stay reachable through errors.Is.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
