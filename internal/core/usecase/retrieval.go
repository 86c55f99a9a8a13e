package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
)

const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

type RetrievalConfig struct {
	TopK            int
	RerankThreshold int
	RerankTopK      int
	PreviewChars    int
}

func (c RetrievalConfig) normalize() RetrievalConfig {
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.RerankThreshold <= 0 {
		c.RerankThreshold = 3
	}
	if c.RerankTopK <= 0 {
		c.RerankTopK = 3
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = 500
	}
	return c
}

// RetrievalEngine combines vector search, keyword scoring and an optional
// model rerank.
type RetrievalEngine struct {
	store     ports.VectorStore
	generator ports.Generator
	cfg       RetrievalConfig
}

func NewRetrievalEngine(store ports.VectorStore, generator ports.Generator, cfg RetrievalConfig) *RetrievalEngine {
	return &RetrievalEngine{store: store, generator: generator, cfg: cfg.normalize()}
}

// Retrieve never fails: any error yields an empty result so callers can fall
// back to the document chunks.
func (e *RetrievalEngine) Retrieve(ctx context.Context, query, documentID string) []domain.RetrievedChunk {
	return e.retrieve(ctx, e.generator, query, documentID)
}

func (e *RetrievalEngine) retrieve(ctx context.Context, gen ports.Generator, query, documentID string) (out []domain.RetrievedChunk) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("retrieval_panic", "document_id", documentID, "panic", r)
			out = nil
		}
	}()

	results, err := e.store.Query(ctx, query, e.cfg.TopK, domain.SearchFilter{DocumentID: documentID})
	if err != nil {
		slog.Warn("retrieval_failed", "document_id", documentID, "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	scored := hybridScore(query, results)
	if len(scored) > e.cfg.RerankThreshold {
		scored = e.rerank(ctx, gen, query, scored)
	}
	return scored
}

// hybridScore blends the vector score with the share of query words found
// in each chunk and sorts by the blend.
func hybridScore(query string, chunks []domain.RetrievedChunk) []domain.RetrievedChunk {
	words := queryWords(query)
	out := make([]domain.RetrievedChunk, len(chunks))
	copy(out, chunks)

	for i := range out {
		out[i].KeywordScore = keywordScore(words, out[i].Text)
		out[i].CombinedScore = vectorWeight*out[i].Score + keywordWeight*out[i].KeywordScore
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})
	return out
}

func keywordScore(words []string, text string) float64 {
	if len(words) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			matches++
		}
	}
	return float64(matches) / float64(len(words))
}

// queryWords returns the distinct lowercase words of query with surrounding
// punctuation removed.
func queryWords(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		w := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func (e *RetrievalEngine) rerank(ctx context.Context, gen ports.Generator, query string, chunks []domain.RetrievedChunk) []domain.RetrievedChunk {
	limit := e.cfg.RerankTopK * 2
	if limit > len(chunks) {
		limit = len(chunks)
	}
	top := chunks[:limit]
	fallback := func() []domain.RetrievedChunk {
		n := e.cfg.RerankTopK
		if n > len(top) {
			n = len(top)
		}
		return top[:n]
	}

	previews := make([]string, 0, len(top))
	for _, c := range top {
		previews = append(previews, truncateRunes(c.Text, e.cfg.PreviewChars))
	}

	raw, err := gen.Generate(ctx, rerankPrompt(query, previews), true)
	if err != nil {
		slog.Warn("rerank_failed", "error", err)
		return fallback()
	}
	ranking, err := decodeIntList(raw, "ranking")
	if err != nil {
		slog.Warn("rerank_unparseable", "error", err)
		return fallback()
	}

	reranked := applyRanking(top, ranking)
	if reranked == nil {
		slog.Warn("rerank_unparseable", "error", "no valid chunk numbers")
		return fallback()
	}
	if len(reranked) > e.cfg.RerankTopK {
		reranked = reranked[:e.cfg.RerankTopK]
	}
	return reranked
}

// applyRanking orders chunks by 1-based ranking. Chunks the ranking omits
// follow with a zero rerank score. It returns nil when nothing in ranking is
// a valid chunk number.
func applyRanking(chunks []domain.RetrievedChunk, ranking []int) []domain.RetrievedChunk {
	used := make(map[int]bool, len(chunks))
	var valid []int
	for _, n := range ranking {
		if n < 1 || n > len(chunks) || used[n] {
			continue
		}
		used[n] = true
		valid = append(valid, n)
	}
	if len(valid) == 0 {
		return nil
	}

	out := make([]domain.RetrievedChunk, 0, len(chunks))
	for rank, n := range valid {
		c := chunks[n-1]
		c.RerankScore = 1 - float64(rank)/float64(len(valid))
		out = append(out, c)
	}
	for i, c := range chunks {
		if used[i+1] {
			continue
		}
		c.RerankScore = 0
		out = append(out, c)
	}
	return out
}

// AnalyzeQuery extracts intent, entities and key terms from query. It never
// fails: unusable model output yields domain.QueryAnalysisFallback.
func (e *RetrievalEngine) AnalyzeQuery(ctx context.Context, query string) domain.QueryAnalysis {
	return analyzeQuery(ctx, e.generator, query)
}

func analyzeQuery(ctx context.Context, gen ports.Generator, query string) domain.QueryAnalysis {
	if gen == nil {
		return domain.QueryAnalysisFallback(query)
	}
	raw, err := gen.Generate(ctx, queryAnalysisPrompt(query), true)
	if err != nil {
		slog.Warn("query_analysis_failed", "error", err)
		return domain.QueryAnalysisFallback(query)
	}

	var parsed domain.QueryAnalysis
	if err := decodeModelJSON(raw, &parsed); err != nil {
		slog.Warn("query_analysis_unparseable", "error", err)
		return domain.QueryAnalysisFallback(query)
	}
	parsed.Entities = compactTerms(parsed.Entities)
	parsed.KeyTerms = compactTerms(parsed.KeyTerms)
	if len(parsed.Entities) == 0 && len(parsed.KeyTerms) == 0 {
		slog.Warn("query_analysis_unparseable", "error", "no entities or key terms")
		return domain.QueryAnalysisFallback(query)
	}
	if parsed.Intent == "" {
		parsed.Intent = "general_inquiry"
	}
	parsed.Fallback = false
	return parsed
}

func compactTerms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// localTerms merges the query words with the analysed key terms and
// entities. Multi-word entities stay whole and match as phrases.
func localTerms(query string, analysis domain.QueryAnalysis) []string {
	terms := queryWords(query)
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		seen[t] = struct{}{}
	}
	extra := append(append([]string{}, analysis.KeyTerms...), analysis.Entities...)
	for _, t := range extra {
		t = strings.ToLower(strings.TrimFunc(t, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

// rankLocally scores document chunks by the share of terms they contain. It
// is used when vector retrieval returns nothing.
func rankLocally(terms []string, chunks []domain.DocumentChunk, limit, fallbackCount int) []domain.RetrievedChunk {
	type hit struct {
		chunk domain.DocumentChunk
		score float64
	}
	var hits []hit
	for _, c := range chunks {
		if s := keywordScore(terms, c.Text); s > 0 {
			hits = append(hits, hit{chunk: c, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	var out []domain.RetrievedChunk
	if len(hits) == 0 {
		for i, c := range chunks {
			if i == fallbackCount {
				break
			}
			out = append(out, toRetrieved(c, 0))
		}
		return out
	}
	for i, h := range hits {
		if i == limit {
			break
		}
		out = append(out, toRetrieved(h.chunk, h.score))
	}
	return out
}

func toRetrieved(c domain.DocumentChunk, keyword float64) domain.RetrievedChunk {
	return domain.RetrievedChunk{
		DocumentID:    c.Metadata.DocumentID,
		ChunkIndex:    c.Metadata.ChunkIndex,
		Page:          c.Metadata.Page,
		Source:        c.Metadata.Source,
		DocumentType:  c.Metadata.DocumentType,
		Text:          c.Text,
		KeywordScore:  keyword,
		CombinedScore: keywordWeight * keyword,
	}
}
