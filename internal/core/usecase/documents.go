package usecase

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
)

// DocumentID derives the identity of a document from its reference.
func DocumentID(ref string) string {
	sum := md5.Sum([]byte(ref))
	return "doc_" + hex.EncodeToString(sum[:])[:16]
}

type DocumentPipelineUseCase struct {
	fetcher    ports.DocumentFetcher
	extractors ports.ExtractorResolver
	chunker    ports.Chunker
}

func NewDocumentPipelineUseCase(
	fetcher ports.DocumentFetcher,
	extractors ports.ExtractorResolver,
	chunker ports.Chunker,
) *DocumentPipelineUseCase {
	return &DocumentPipelineUseCase{
		fetcher:    fetcher,
		extractors: extractors,
		chunker:    chunker,
	}
}

// ProcessDocument fetches, extracts and chunks a document. Unsupported
// content types yield an empty chunk list without error.
func (uc *DocumentPipelineUseCase) ProcessDocument(ctx context.Context, ref string) ([]domain.DocumentChunk, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "process document", errors.New("document reference is required"))
	}

	doc, err := uc.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	extractor, ok := uc.extractors.Resolve(doc.ContentType)
	if !ok {
		slog.Warn("document_type_unsupported", "source", ref, "content_type", doc.ContentType)
		return []domain.DocumentChunk{}, nil
	}

	text, err := extractor.Extract(ctx, doc.Data, doc.ContentType)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "extract document", err)
	}

	documentID := DocumentID(ref)
	chunks := make([]domain.DocumentChunk, 0)
	for _, seg := range text.Segments {
		base := domain.ChunkMetadata{
			Source:          ref,
			DocumentID:      documentID,
			DocumentType:    text.DocumentType,
			Page:            seg.Page,
			TotalPages:      text.TotalPages,
			TotalParagraphs: text.TotalParagraphs,
		}
		chunks = append(chunks, uc.chunker.Split(seg.Text, base)...)
	}
	for i := range chunks {
		chunks[i].Metadata.ChunkIndex = i
	}

	slog.Info("document_processed",
		"document_id", documentID,
		"content_type", doc.ContentType,
		"bytes", len(doc.Data),
		"segments", len(text.Segments),
		"chunks", len(chunks),
	)
	return chunks, nil
}
