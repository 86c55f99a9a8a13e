package httpadapter

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kirillkom/policy-query-engine/internal/config"
	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

type runnerFake struct {
	mu    sync.Mutex
	calls int
	ref   string
	resp  *domain.QueryResponse
	err   error
}

func (f *runnerFake) Run(_ context.Context, ref string, questions []string) (*domain.QueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ref = ref
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	answers := make([]domain.QueryAnswer, 0, len(questions))
	for _, q := range questions {
		answers = append(answers, domain.QueryAnswer{Question: q, IsCovered: true, Conditions: []string{}, ConfidenceScore: 0.8})
	}
	return &domain.QueryResponse{
		DocumentID: "doc_0123456789abcdef",
		Answers:    answers,
		ProcessingSummary: domain.ProcessingSummary{
			TotalQuestions:      len(questions),
			SuccessfulResponses: len(questions),
			TotalProcessingTime: "0.1s",
		},
	}, nil
}

type indexerFake struct {
	registered string
	deleted    int
	err        error
}

func (f *indexerFake) Register(_ context.Context, ref string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.registered = ref
	now := time.Now().UTC()
	return &domain.Document{ID: "doc_0123456789abcdef", Source: ref, Status: domain.StatusUploaded, CreatedAt: now, UpdatedAt: now}, nil
}

func (f *indexerFake) ProcessByID(context.Context, string) error { return nil }

func (f *indexerFake) Delete(context.Context, string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.deleted, nil
}

type docsFake struct {
	err error
}

func (f docsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, Source: "https://example.com/policy.pdf", Status: domain.StatusReady, ChunkCount: 4, StoredChunks: 4}, nil
}

type uploaderFake struct {
	err error
}

func (f uploaderFake) Upload(_ context.Context, filename string, body io.Reader) (*domain.UploadedFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "upload", io.EOF)
	}
	return &domain.UploadedFile{FileURL: "file:///data/abc_" + filename, Filename: filename, Size: int64(len(raw))}, nil
}

type inspectorFake struct {
	err error
}

func (f inspectorFake) Stats(context.Context) (domain.IndexStats, error) {
	if f.err != nil {
		return domain.IndexStats{}, f.err
	}
	return domain.IndexStats{Collection: "policy_documents", Status: "green", PointsCount: 42, VectorSize: 768, Distance: "Cosine"}, nil
}

func newTestHandler(cfg config.Config) http.Handler {
	return NewRouter(cfg, &runnerFake{}, &indexerFake{}, docsFake{}, uploaderFake{}, inspectorFake{}).Handler()
}
