package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
)

type stage string

const (
	stageQuery     stage = "query"
	stageDecompose stage = "decompose"
	stageAnalyze   stage = "analyze"
	stageSynthesis stage = "synthesis"
	stageValidate  stage = "validate"
	stageRerank    stage = "rerank"
)

func stageOf(prompt string) stage {
	switch {
	case strings.HasPrefix(prompt, "Analyze the following query"):
		return stageQuery
	case strings.HasPrefix(prompt, "Break the following"):
		return stageDecompose
	case strings.HasPrefix(prompt, "Answer the sub-question"):
		return stageAnalyze
	case strings.HasPrefix(prompt, "Combine the sub-question"):
		return stageSynthesis
	case strings.HasPrefix(prompt, "Review this analysis"):
		return stageValidate
	default:
		return stageRerank
	}
}

// generatorFake answers per stage; a missing stage returns an error.
type generatorFake struct {
	mu        sync.Mutex
	responses map[stage]string
	errs      map[stage]error
	respond   func(stage, string) (string, error)
	calls     []stage
	prompts   []string
}

func (f *generatorFake) Generate(_ context.Context, prompt string, _ bool) (string, error) {
	st := stageOf(prompt)
	f.mu.Lock()
	f.calls = append(f.calls, st)
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(st, prompt)
	}
	if err, ok := f.errs[st]; ok {
		return "", err
	}
	if out, ok := f.responses[st]; ok {
		return out, nil
	}
	return "", errors.New("no scripted response for " + string(st))
}

func (f *generatorFake) count(st stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == st {
			n++
		}
	}
	return n
}

type vectorStoreFake struct {
	upserted    map[string]int
	upserts     int
	upsertErr   error
	queryResult []domain.RetrievedChunk
	queryErr    error
	queries     int
	deleted     int
	deleteErr   error
	ensureErr   error
	stats       domain.IndexStats
}

func (f *vectorStoreFake) EnsureIndex(context.Context) error { return f.ensureErr }

func (f *vectorStoreFake) Upsert(_ context.Context, documentID string, chunks []domain.DocumentChunk) (int, error) {
	f.upserts++
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	if f.upserted == nil {
		f.upserted = make(map[string]int)
	}
	f.upserted[documentID] = len(chunks)
	return len(chunks), nil
}

func (f *vectorStoreFake) Query(context.Context, string, int, domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]domain.RetrievedChunk, len(f.queryResult))
	copy(out, f.queryResult)
	return out, nil
}

func (f *vectorStoreFake) DeleteDocument(context.Context, string) (int, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.deleted, nil
}

func (f *vectorStoreFake) Stats(context.Context) (domain.IndexStats, error) { return f.stats, nil }

type cacheFake struct {
	entries map[string]domain.QueryAnswer
	getErr  error
	sets    int
}

func (f *cacheFake) Get(_ context.Context, key string) (*domain.QueryAnswer, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	a, ok := f.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (f *cacheFake) Set(_ context.Context, key string, answer domain.QueryAnswer, _ time.Duration) error {
	if f.entries == nil {
		f.entries = make(map[string]domain.QueryAnswer)
	}
	f.entries[key] = answer
	f.sets++
	return nil
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type fetcherFake struct {
	doc *domain.FetchedDocument
	err error
}

func (f *fetcherFake) Fetch(_ context.Context, ref string) (*domain.FetchedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.doc
	out.Source = ref
	return &out, nil
}

type extractorFake struct {
	text domain.ExtractedText
	err  error
}

func (f *extractorFake) Extract(context.Context, []byte, string) (domain.ExtractedText, error) {
	return f.text, f.err
}

type resolverFake struct {
	extractor ports.ContentExtractor
}

func (f *resolverFake) Resolve(contentType string) (ports.ContentExtractor, bool) {
	if f.extractor == nil || !strings.Contains(contentType, "pdf") {
		return nil, false
	}
	return f.extractor, true
}

// paragraphChunker emits one chunk per blank-line separated paragraph.
type paragraphChunker struct{}

func (paragraphChunker) Split(text string, base domain.ChunkMetadata) []domain.DocumentChunk {
	var out []domain.DocumentChunk
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		meta := base
		meta.ChunkIndex = len(out)
		meta.ChunkSize = len([]rune(p))
		meta.ParagraphCount = 1
		out = append(out, domain.DocumentChunk{Text: p, Metadata: meta})
	}
	return out
}

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

type repoFake struct {
	doc         *domain.Document
	created     *domain.Document
	createErr   error
	getErr      error
	statusCalls []statusCall
	indexed     [2]int
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.created = &copyDoc
	return nil
}

func (f *repoFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	copyDoc := *f.doc
	return &copyDoc, nil
}

func (f *repoFake) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, errMessage string) error {
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	return nil
}

func (f *repoFake) SaveIndexResult(_ context.Context, _ string, chunkCount, stored int) error {
	f.indexed = [2]int{chunkCount, stored}
	return nil
}

type queueFake struct {
	documentID string
	err        error
}

func (f *queueFake) PublishIndexRequest(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.documentID = documentID
	return nil
}

func (f *queueFake) SubscribeIndexRequests(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type processorFake struct {
	chunks []domain.DocumentChunk
	err    error
}

func (f *processorFake) ProcessDocument(context.Context, string) ([]domain.DocumentChunk, error) {
	return f.chunks, f.err
}

type storageFake struct {
	savedKey  string
	savedBody string
	err       error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return int64(len(raw)), nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.savedBody)), nil
}

func (f *storageFake) Locate(key string) string { return "file:///data/documents/" + key }

func policyChunks(documentID string, texts ...string) []domain.DocumentChunk {
	out := make([]domain.DocumentChunk, 0, len(texts))
	for i, t := range texts {
		out = append(out, domain.DocumentChunk{
			Text: t,
			Metadata: domain.ChunkMetadata{
				Source:       "https://example.com/policy.pdf",
				DocumentID:   documentID,
				DocumentType: "pdf",
				Page:         i + 1,
				ChunkIndex:   i,
			},
		})
	}
	return out
}
