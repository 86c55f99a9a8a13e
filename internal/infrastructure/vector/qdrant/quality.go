package qdrant

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

var qualityKeywords = []string{
	"coverage", "exclusion", "waiting period", "premium", "claim", "benefit",
	"condition", "limit", "deductible", "clause", "policy", "insured",
}

var (
	enumerationPattern = regexp.MustCompile(`(?m)^\s*(\(?[0-9]{1,3}[.)]|\(?[a-z][.)]|\([ivx]+\)|[-*•])\s+`)
	headingPattern     = regexp.MustCompile(`(?mi)^\s*(section|article|part|schedule|clause)\s+[0-9ivx]+`)
)

// QualityScore ranks a chunk for indexing when a document has more chunks
// than the index accepts.
func QualityScore(text string) float64 {
	n := utf8.RuneCountInString(text)
	var score float64
	switch {
	case n >= 200 && n <= 1500:
		score += 2
	case n >= 100 && n <= 2000:
		score += 1
	case n < 50:
		score -= 1
	}

	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range qualityKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	score += 0.5 * float64(hits)

	if enumerationPattern.MatchString(text) {
		score += 1
	}
	if headingPattern.MatchString(text) {
		score += 1
	}
	return score
}

// SelectByQuality keeps the limit highest-scoring chunks in document order.
func SelectByQuality(chunks []domain.DocumentChunk, limit int) []domain.DocumentChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}

	type scored struct {
		pos   int
		score float64
	}
	ranked := make([]scored, len(chunks))
	for i, c := range chunks {
		ranked[i] = scored{pos: i, score: QualityScore(c.Text)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	keep := ranked[:limit]
	sort.Slice(keep, func(i, j int) bool { return keep[i].pos < keep[j].pos })

	out := make([]domain.DocumentChunk, 0, limit)
	for _, k := range keep {
		out = append(out, chunks[k.pos])
	}
	return out
}
