package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

type embedderFake struct {
	calls int32
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func testChunks(n int) []domain.DocumentChunk {
	out := make([]domain.DocumentChunk, n)
	for i := range out {
		out[i] = domain.DocumentChunk{
			Text:     "chunk text",
			Metadata: domain.ChunkMetadata{ChunkIndex: i, Source: "policy.pdf", Page: 1, DocumentType: "pdf"},
		}
	}
	return out
}

func TestPointIDIsDeterministic(t *testing.T) {
	if PointID("doc_1", 3) != PointID("doc_1", 3) {
		t.Fatalf("expected stable point id")
	}
	if PointID("doc_1", 3) == PointID("doc_1", 4) {
		t.Fatalf("expected distinct ids per chunk")
	}
}

func TestEnsureIndexFallsBackThroughProfiles(t *testing.T) {
	var (
		mu      sync.Mutex
		created []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/docs":
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			created = append(created, body)
			attempt := len(created)
			mu.Unlock()
			if attempt == 1 {
				http.Error(w, "quota exceeded", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"result":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	store := New(server.URL, "docs", &embedderFake{}, Options{Dimension: 4})
	if err := store.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex() error = %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 create attempts, got %d", len(created))
	}
	if _, ok := created[1]["on_disk_payload"]; !ok {
		t.Fatalf("expected second attempt to use on_disk profile, got %v", created[1])
	}

	if err := store.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("second EnsureIndex() error = %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected ensure to be cached, got %d attempts", len(created))
	}
}

func TestEnsureIndexTreatsConflictAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Collection `docs` already exists!", http.StatusConflict)
	}))
	defer server.Close()

	if err := New(server.URL, "docs", &embedderFake{}, Options{}).EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex() error = %v", err)
	}
}

func TestEnsureIndexJoinsProfileErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer server.Close()

	err := New(server.URL, "docs", &embedderFake{}, Options{Profiles: []string{"default", "single_shard"}}).EnsureIndex(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "profile default") || !strings.Contains(err.Error(), "profile single_shard") {
		t.Fatalf("expected both profiles in error, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestUpsertWritesBatchesWithDeterministicIDs(t *testing.T) {
	var (
		mu     sync.Mutex
		points []map[string]any
		calls  int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/docs":
			_, _ = w.Write([]byte(`{"result":{"status":"green"}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			if r.URL.Query().Get("wait") != "true" {
				t.Errorf("expected wait=true")
			}
			var body struct {
				Points []map[string]any `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			calls++
			points = append(points, body.Points...)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	embedder := &embedderFake{}
	store := New(server.URL, "docs", embedder, Options{UpsertBatchSize: 2})
	stored, err := store.Upsert(context.Background(), "doc_abc", testChunks(5))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if stored != 5 {
		t.Fatalf("expected 5 stored, got %d", stored)
	}
	if calls != 3 {
		t.Fatalf("expected 3 upsert batches, got %d", calls)
	}
	if points[4]["id"] != PointID("doc_abc", 4) {
		t.Fatalf("unexpected point id %v", points[4]["id"])
	}
	payload := points[4]["payload"].(map[string]any)
	if payload["vector_id"] != "doc_abc_chunk_4" || payload["document_id"] != "doc_abc" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestUpsertDownselectsOverLimit(t *testing.T) {
	var count int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points" {
			var body struct {
				Points []json.RawMessage `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			atomic.AddInt32(&count, int32(len(body.Points)))
		}
		_, _ = w.Write([]byte(`{"result":{}}`))
	}))
	defer server.Close()

	stored, err := New(server.URL, "docs", &embedderFake{}, Options{MaxChunks: 3}).Upsert(context.Background(), "doc_abc", testChunks(10))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if stored != 3 || atomic.LoadInt32(&count) != 3 {
		t.Fatalf("expected 3 points written, got stored=%d sent=%d", stored, count)
	}
}

func TestQueryFiltersByDocumentAndMapsPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/docs/points/search" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		raw, _ := json.Marshal(body["filter"])
		if !strings.Contains(string(raw), `"doc_abc"`) {
			t.Errorf("expected document filter, got %s", raw)
		}
		_, _ = w.Write([]byte(`{"result":[
			{"id":"x","score":0.91,"payload":{"document_id":"doc_abc","chunk_index":2,"page":3,"text":"knee surgery","vector_id":"doc_abc_chunk_2"}},
			{"id":"y","score":0.5,"payload":{"document_id":"doc_abc","chunk_index":7,"text":"other"}}
		]}`))
	}))
	defer server.Close()

	got, err := New(server.URL, "docs", &embedderFake{}, Options{}).Query(context.Background(), "knee", 5, domain.SearchFilter{DocumentID: "doc_abc"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Score != 0.91 || got[0].Page != 3 || got[0].ChunkIndex != 2 || got[0].ID != "doc_abc_chunk_2" {
		t.Fatalf("unexpected first result %+v", got[0])
	}
}

func TestDeleteDocumentCountsThenDeletes(t *testing.T) {
	var deleted int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/docs/points/count":
			_, _ = w.Write([]byte(`{"result":{"count":12}}`))
		case "/collections/docs/points/delete":
			atomic.AddInt32(&deleted, 1)
			_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	n, err := New(server.URL, "docs", &embedderFake{}, Options{}).DeleteDocument(context.Background(), "doc_abc")
	if err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if n != 12 || atomic.LoadInt32(&deleted) != 1 {
		t.Fatalf("expected 12 deleted in one call, got n=%d calls=%d", n, deleted)
	}
}

func TestStatsReadsCollectionInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"status":"green","points_count":42,"config":{"params":{"vectors":{"size":768,"distance":"Cosine"}}}}}`))
	}))
	defer server.Close()

	stats, err := New(server.URL, "docs", &embedderFake{}, Options{}).Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.PointsCount != 42 || stats.VectorSize != 768 || stats.Distance != "Cosine" || stats.Collection != "docs" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "docs", &embedderFake{}, Options{}).Stats(context.Background())
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}
