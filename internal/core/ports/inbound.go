package ports

import (
	"context"
	"io"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

// DocumentProcessor turns a document reference into chunks.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, ref string) ([]domain.DocumentChunk, error)
}

// QuestionAnswerer answers a batch of questions against one document's chunks.
type QuestionAnswerer interface {
	ProcessQuestions(ctx context.Context, questions []string, chunks []domain.DocumentChunk) ([]domain.QueryAnswer, error)
}

// QueryRunner is the end-to-end entry point used by the HTTP and MCP adapters.
type QueryRunner interface {
	Run(ctx context.Context, ref string, questions []string) (*domain.QueryResponse, error)
}

// DocumentIndexer manages the asynchronous indexing lifecycle of documents.
type DocumentIndexer interface {
	Register(ctx context.Context, ref string) (*domain.Document, error)
	ProcessByID(ctx context.Context, documentID string) error
	Delete(ctx context.Context, documentID string) (int, error)
}

type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

type FileUploader interface {
	Upload(ctx context.Context, filename string, body io.Reader) (*domain.UploadedFile, error)
}

type IndexInspector interface {
	Stats(ctx context.Context) (domain.IndexStats, error)
}
