package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
	"github.com/kirillkom/policy-query-engine/internal/infrastructure/resilience"
)

const maxPayloadTextRunes = 1000

// pointNamespace seeds deterministic point ids so re-indexing a document
// overwrites its previous vectors.
var pointNamespace = uuid.MustParse("6f1d4c52-8a0e-4b7e-9f83-2c5d7e1a9b40")

type Options struct {
	Dimension       int
	Profiles        []string
	UpsertBatchSize int
	MaxChunks       int
	Timeout         time.Duration
	Executor        *resilience.Executor
}

// Store is the Qdrant-backed vector index. Texts are embedded through the
// configured embedder before upsert and search.
type Store struct {
	baseURL    string
	collection string
	embedder   ports.Embedder
	httpClient *http.Client
	executor   *resilience.Executor

	dimension int
	profiles  []string
	batchSize int
	maxChunks int

	ensureMu sync.Mutex
	ensured  bool
}

func New(baseURL, collection string, embedder ports.Embedder, opts Options) *Store {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	profiles := opts.Profiles
	if len(profiles) == 0 {
		profiles = []string{"default", "on_disk", "single_shard"}
	}
	batch := opts.UpsertBatchSize
	if batch <= 0 {
		batch = 100
	}
	dim := opts.Dimension
	if dim <= 0 {
		dim = 768
	}
	return &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
		dimension:  dim,
		profiles:   profiles,
		batchSize:  batch,
		maxChunks:  opts.MaxChunks,
	}
}

// PointID derives the Qdrant point id of one chunk.
func PointID(documentID string, chunkIndex int) string {
	return uuid.NewMD5(pointNamespace, []byte(fmt.Sprintf("%s_%d", documentID, chunkIndex))).String()
}

// EnsureIndex creates the collection when missing, trying each index
// profile in turn. A concurrent create reported as a conflict is success.
func (s *Store) EnsureIndex(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured {
		return nil
	}

	status, _, err := s.do(ctx, "get_collection", http.MethodGet, s.collectionPath(""), nil, nil)
	if err == nil {
		s.ensured = true
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}

	var errs []error
	for _, profile := range s.profiles {
		body, ok := collectionProfile(profile, s.dimension)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown index profile %q", profile))
			continue
		}
		status, respBody, err := s.do(ctx, "create_collection", http.MethodPut, s.collectionPath(""), body, nil)
		if err == nil || status == http.StatusConflict || strings.Contains(strings.ToLower(respBody), "already exists") {
			slog.Info("vector_index_ready", "collection", s.collection, "profile", profile, "dimension", s.dimension)
			s.ensured = true
			return nil
		}
		slog.Warn("vector_index_profile_failed", "collection", s.collection, "profile", profile, "error", err)
		errs = append(errs, fmt.Errorf("profile %s: %w", profile, err))
	}
	return fmt.Errorf("ensure qdrant collection %s: %w", s.collection, errors.Join(errs...))
}

func collectionProfile(name string, dimension int) (map[string]any, bool) {
	vectors := map[string]any{"size": dimension, "distance": "Cosine"}
	switch strings.TrimSpace(name) {
	case "default":
		return map[string]any{"vectors": vectors}, true
	case "on_disk":
		vectors["on_disk"] = true
		return map[string]any{"vectors": vectors, "on_disk_payload": true}, true
	case "single_shard":
		return map[string]any{"vectors": vectors, "shard_number": 1, "replication_factor": 1}, true
	default:
		return nil, false
	}
}

func (s *Store) Upsert(ctx context.Context, documentID string, chunks []domain.DocumentChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := s.EnsureIndex(ctx); err != nil {
		return 0, err
	}

	selected := chunks
	if s.maxChunks > 0 && len(chunks) > s.maxChunks {
		selected = SelectByQuality(chunks, s.maxChunks)
		slog.Info("vector_chunks_downselected", "document_id", documentID, "total", len(chunks), "kept", len(selected))
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	stored := 0
	for start := 0; start < len(selected); start += s.batchSize {
		end := start + s.batchSize
		if end > len(selected) {
			end = len(selected)
		}
		batch := selected[start:end]

		texts := make([]string, 0, len(batch))
		for _, c := range batch {
			texts = append(texts, c.Text)
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return stored, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(batch) {
			return stored, fmt.Errorf("chunks/vectors mismatch: %d != %d", len(batch), len(vectors))
		}

		points := make([]point, 0, len(batch))
		for i, c := range batch {
			idx := c.Metadata.ChunkIndex
			points = append(points, point{
				ID:     PointID(documentID, idx),
				Vector: vectors[i],
				Payload: map[string]any{
					"document_id":   documentID,
					"chunk_index":   idx,
					"text":          truncateRunes(c.Text, maxPayloadTextRunes),
					"source":        c.Metadata.Source,
					"page":          c.Metadata.Page,
					"document_type": c.Metadata.DocumentType,
					"chunk_size":    c.Metadata.ChunkSize,
					"vector_id":     fmt.Sprintf("%s_chunk_%d", documentID, idx),
				},
			})
		}

		if _, _, err := s.do(ctx, "upsert", http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
			return stored, err
		}
		stored += len(points)
	}

	slog.Info("vector_chunks_upserted", "document_id", documentID, "stored", stored)
	return stored, nil
}

func (s *Store) Query(ctx context.Context, queryText string, topK int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	if topK <= 0 {
		topK = 10
	}
	vectors, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}

	reqBody := map[string]any{
		"vector":       vectors[0],
		"limit":        topK,
		"with_payload": true,
	}
	if f := documentFilter(filter.DocumentID); f != nil {
		reqBody["filter"] = f
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if _, _, err := s.do(ctx, "search", http.MethodPost, s.collectionPath("/points/search"), reqBody, &searchResp); err != nil {
		return nil, err
	}

	out := make([]domain.RetrievedChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.RetrievedChunk{
			ID:           getStringPayload(r.Payload, "vector_id"),
			DocumentID:   getStringPayload(r.Payload, "document_id"),
			ChunkIndex:   getIntPayload(r.Payload, "chunk_index"),
			Page:         getIntPayload(r.Payload, "page"),
			Source:       getStringPayload(r.Payload, "source"),
			DocumentType: getStringPayload(r.Payload, "document_type"),
			Text:         getStringPayload(r.Payload, "text"),
			Score:        r.Score,
		})
	}
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	filter := documentFilter(documentID)
	if filter == nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "delete vectors", fmt.Errorf("document id is required"))
	}

	var countResp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if _, _, err := s.do(ctx, "count", http.MethodPost, s.collectionPath("/points/count"), map[string]any{"filter": filter, "exact": true}, &countResp); err != nil {
		return 0, err
	}
	if countResp.Result.Count == 0 {
		return 0, nil
	}

	if _, _, err := s.do(ctx, "delete", http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"filter": filter}, nil); err != nil {
		return 0, err
	}
	slog.Info("vector_document_deleted", "document_id", documentID, "deleted", countResp.Result.Count)
	return countResp.Result.Count, nil
}

func (s *Store) Stats(ctx context.Context) (domain.IndexStats, error) {
	var resp struct {
		Result struct {
			Status      string `json:"status"`
			PointsCount int64  `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if _, _, err := s.do(ctx, "get_collection", http.MethodGet, s.collectionPath(""), nil, &resp); err != nil {
		return domain.IndexStats{}, err
	}
	return domain.IndexStats{
		Collection:  s.collection,
		Status:      resp.Result.Status,
		PointsCount: resp.Result.PointsCount,
		VectorSize:  resp.Result.Config.Params.Vectors.Size,
		Distance:    resp.Result.Config.Params.Vectors.Distance,
	}, nil
}

func (s *Store) collectionPath(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.baseURL, s.collection, suffix)
}

func documentFilter(documentID string) map[string]any {
	if strings.TrimSpace(documentID) == "" {
		return nil
	}
	return map[string]any{
		"must": []map[string]any{
			{"key": "document_id", "match": map[string]any{"value": documentID}},
		},
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
