package domain

import (
	"fmt"
	"strings"
)

// QueryAnalysis describes what a question asks for. KeyTerms and Entities
// widen keyword ranking of document chunks.
type QueryAnalysis struct {
	Intent       string   `json:"intent"`
	Entities     []string `json:"entities"`
	Domain       string   `json:"domain"`
	QuestionType string   `json:"question_type"`
	KeyTerms     []string `json:"key_terms"`
	Fallback     bool     `json:"fallback"`
}

// QueryAnalysisFallback treats the whole query as the only entity and its
// whitespace-separated words as key terms.
func QueryAnalysisFallback(query string) QueryAnalysis {
	return QueryAnalysis{
		Intent:       "general_inquiry",
		Entities:     []string{query},
		Domain:       "general",
		QuestionType: "informational",
		KeyTerms:     strings.Fields(query),
		Fallback:     true,
	}
}

// DecompositionResult is the output of the decompose stage.
type DecompositionResult struct {
	SubQuestions []string `json:"sub_questions"`
	Fallback     bool     `json:"fallback"`
}

// DecompositionFallback degenerates to the original query.
func DecompositionFallback(query string) DecompositionResult {
	return DecompositionResult{SubQuestions: []string{query}, Fallback: true}
}

type SubAnalysisResult struct {
	SubQuestion  string   `json:"sub_question"`
	IsAddressed  bool     `json:"is_addressed"`
	Answer       string   `json:"answer"`
	Confidence   float64  `json:"confidence"`
	Evidence     []string `json:"evidence"`
	Limitations  []string `json:"limitations"`
	SourceChunks []int    `json:"source_chunks"`
	Fallback     bool     `json:"fallback"`
	Heuristic    bool     `json:"heuristic"`
}

const subAnalysisFallbackConfidence = 0.2

// SubAnalysisFallback is the low-confidence placeholder used when the model
// answered but its output could not be parsed.
func SubAnalysisFallback(subQuestion, answer string) SubAnalysisResult {
	return SubAnalysisResult{
		SubQuestion: subQuestion,
		IsAddressed: true,
		Answer:      answer,
		Confidence:  subAnalysisFallbackConfidence,
		Evidence:    []string{},
		Limitations: []string{"Analysis output could not be parsed"},
		Fallback:    true,
	}
}

type SynthesisResult struct {
	IsCovered        bool              `json:"isCovered"`
	Conditions       []string          `json:"conditions"`
	Limitations      []string          `json:"limitations"`
	ClauseReference  ClauseReference   `json:"clause_reference"`
	Rationale        string            `json:"rationale"`
	ConfidenceScore  float64           `json:"confidence_score"`
	EvidenceStrength string            `json:"evidence_strength"`
	Completeness     string            `json:"completeness"`
	Contradictions   []string          `json:"contradictions"`
	Gaps             []string          `json:"gaps"`
	Fallback         bool              `json:"fallback"`
	Validation       *ValidationResult `json:"validation,omitempty"`
}

// SynthesisFallback aggregates sub-analyses deterministically. The confidence
// is the mean of the sub-analysis confidences raised to confidenceFloor.
func SynthesisFallback(analyses []SubAnalysisResult, confidenceFloor float64) SynthesisResult {
	out := SynthesisResult{
		Conditions:      []string{},
		Limitations:     []string{},
		ClauseReference: ClauseReference{ClauseTitle: "Multiple sources"},
		Rationale:       fmt.Sprintf("Analysis based on %d sub-questions. Fallback synthesis used due to processing limitations.", len(analyses)),
		Completeness:    "partial",
		Contradictions:  []string{},
		Gaps:            []string{"Detailed synthesis unavailable"},
		Fallback:        true,
	}

	seen := make(map[string]struct{})
	total := 0.0
	for _, a := range analyses {
		total += a.Confidence
		if a.IsAddressed {
			out.IsCovered = true
			for _, ev := range a.Evidence {
				if _, ok := seen[ev]; ok || ev == "" {
					continue
				}
				seen[ev] = struct{}{}
				out.Conditions = append(out.Conditions, ev)
			}
		}
		out.Limitations = append(out.Limitations, a.Limitations...)
	}

	mean := 0.0
	if len(analyses) > 0 {
		mean = total / float64(len(analyses))
	}
	if mean < confidenceFloor {
		mean = confidenceFloor
	}
	out.ConfidenceScore = ClampConfidence(mean)
	out.EvidenceStrength = "weak"
	if out.ConfidenceScore > 0.6 {
		out.EvidenceStrength = "moderate"
	}
	return out
}

type ValidationResult struct {
	IsConsistent         bool     `json:"is_consistent"`
	ConsistencyIssues    []string `json:"consistency_issues"`
	ValidationConfidence float64  `json:"validation_confidence"`
	Recommendation       string   `json:"recommendation"`
	AppliedCorrections   []string `json:"applied_corrections,omitempty"`
	Fallback             bool     `json:"fallback"`
}

// ValidationFallback leaves the synthesis untouched but records that it was
// not validated.
func ValidationFallback(reason string) ValidationResult {
	return ValidationResult{
		IsConsistent:         true,
		ConsistencyIssues:    []string{"validation unavailable: " + reason},
		ValidationConfidence: 0.5,
		Recommendation:       "accept",
		Fallback:             true,
	}
}

func ClampConfidence(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
