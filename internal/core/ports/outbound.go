package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveIndexResult(ctx context.Context, id string, chunkCount, storedChunks int) error
}

type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Locate(key string) string
}

type MessageQueue interface {
	PublishIndexRequest(ctx context.Context, documentID string) error
	SubscribeIndexRequests(ctx context.Context, handler func(context.Context, string) error) error
}

// DocumentFetcher downloads a remote URL or reads a local file reference.
type DocumentFetcher interface {
	Fetch(ctx context.Context, ref string) (*domain.FetchedDocument, error)
}

type ContentExtractor interface {
	Extract(ctx context.Context, raw []byte, contentType string) (domain.ExtractedText, error)
}

// ExtractorResolver picks an extractor for a content type; ok is false for
// unsupported types.
type ExtractorResolver interface {
	Resolve(contentType string) (ContentExtractor, bool)
}

type Chunker interface {
	Split(text string, base domain.ChunkMetadata) []domain.DocumentChunk
}

// Embedder returns one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator calls the language model; structured asks for JSON output.
type Generator interface {
	Generate(ctx context.Context, prompt string, structured bool) (string, error)
}

type VectorStore interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, documentID string, chunks []domain.DocumentChunk) (int, error)
	Query(ctx context.Context, queryText string, topK int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error)
	DeleteDocument(ctx context.Context, documentID string) (int, error)
	Stats(ctx context.Context) (domain.IndexStats, error)
}

type AnswerCache interface {
	Get(ctx context.Context, key string) (*domain.QueryAnswer, bool, error)
	Set(ctx context.Context, key string, answer domain.QueryAnswer, ttl time.Duration) error
}

type TokenCounter interface {
	Count(text string) int
}
