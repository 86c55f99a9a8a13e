package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
)

// IndexDocumentUseCase keeps the document registry and the vector index in
// step. Indexing itself runs in the worker.
type IndexDocumentUseCase struct {
	repo      ports.DocumentRepository
	queue     ports.MessageQueue
	documents ports.DocumentProcessor
	vectorDB  ports.VectorStore
}

func NewIndexDocumentUseCase(
	repo ports.DocumentRepository,
	queue ports.MessageQueue,
	documents ports.DocumentProcessor,
	vectorDB ports.VectorStore,
) *IndexDocumentUseCase {
	return &IndexDocumentUseCase{
		repo:      repo,
		queue:     queue,
		documents: documents,
		vectorDB:  vectorDB,
	}
}

func (uc *IndexDocumentUseCase) Register(ctx context.Context, ref string) (*domain.Document, error) {
	ref = strings.TrimSpace(ref)
	if err := validateReference(ref); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:        DocumentID(ref),
		Source:    ref,
		Status:    domain.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}
	if err := uc.queue.PublishIndexRequest(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish index request: %w", err)
	}
	slog.Info("document_registered", "document_id", doc.ID, "source", ref)
	return doc, nil
}

func (uc *IndexDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	chunkCount, stored, err := uc.indexPipeline(ctx, documentID)
	if err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SaveIndexResult(ctx, documentID, chunkCount, stored); err != nil {
		return fmt.Errorf("save index result: %w", err)
	}
	slog.Info("document_index_ready", "document_id", documentID, "chunks", chunkCount, "stored", stored)
	return nil
}

func (uc *IndexDocumentUseCase) indexPipeline(ctx context.Context, documentID string) (int, int, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch document by id: %w", err)
	}

	chunks, err := uc.documents.ProcessDocument(ctx, doc.Source)
	if err != nil {
		return 0, 0, fmt.Errorf("process document: %w", err)
	}
	if len(chunks) == 0 {
		return 0, 0, domain.WrapError(domain.ErrEmptyDocument, "index document", errors.New("chunking produced zero chunks"))
	}

	if err := uc.vectorDB.EnsureIndex(ctx); err != nil {
		return 0, 0, fmt.Errorf("ensure vector index: %w", err)
	}
	stored, err := uc.vectorDB.Upsert(ctx, doc.ID, chunks)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert chunks: %w", err)
	}
	return len(chunks), stored, nil
}

// Delete removes a document's vectors and marks its record deleted.
func (uc *IndexDocumentUseCase) Delete(ctx context.Context, documentID string) (int, error) {
	if _, err := uc.repo.GetByID(ctx, documentID); err != nil {
		return 0, err
	}
	deleted, err := uc.vectorDB.DeleteDocument(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete document vectors: %w", err)
	}
	if err := uc.markStatus(ctx, documentID, domain.StatusDeleted, ""); err != nil {
		return deleted, fmt.Errorf("set status=deleted: %w", err)
	}
	slog.Info("document_deleted", "document_id", documentID, "vectors", deleted)
	return deleted, nil
}

func (uc *IndexDocumentUseCase) GetByID(ctx context.Context, documentID string) (*domain.Document, error) {
	return uc.repo.GetByID(ctx, documentID)
}

func (uc *IndexDocumentUseCase) Stats(ctx context.Context) (domain.IndexStats, error) {
	return uc.vectorDB.Stats(ctx)
}

func (uc *IndexDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *IndexDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}

func validateReference(ref string) error {
	if ref == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate reference", errors.New("document url is required"))
	}
	u, err := url.Parse(ref)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate reference", err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return domain.WrapError(domain.ErrInvalidInput, "validate reference", fmt.Errorf("url %q has no host", ref))
		}
	case "file", "":
	default:
		return domain.WrapError(domain.ErrInvalidInput, "validate reference", fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	return nil
}
