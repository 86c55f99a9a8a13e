package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
)

// UploadDocumentUseCase stores an uploaded file and returns a reference the
// query endpoint accepts.
type UploadDocumentUseCase struct {
	storage ports.ObjectStorage
}

func NewUploadDocumentUseCase(storage ports.ObjectStorage) *UploadDocumentUseCase {
	return &UploadDocumentUseCase{storage: storage}
}

func (uc *UploadDocumentUseCase) Upload(ctx context.Context, filename string, body io.Reader) (*domain.UploadedFile, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("filename is required"))
	}

	clean := sanitizeFilename(filename)
	storageKey := fmt.Sprintf("%s_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12], clean)

	size, err := uc.storage.Save(ctx, storageKey, body)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	if size == 0 {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "upload", errors.New("uploaded file is empty"))
	}

	out := &domain.UploadedFile{
		FileURL:  uc.storage.Locate(storageKey),
		Filename: clean,
		Size:     size,
	}
	slog.Info("document_uploaded", "filename", clean, "size", size)
	return out, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeFilename keeps the base name only and maps anything outside
// [A-Za-z0-9._-] to an underscore.
func sanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	switch base {
	case ".", "..", "/", "":
		return "document.bin"
	}
	return unsafeFilenameChars.ReplaceAllString(base, "_")
}
