package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
)

const (
	maxSubQuestions   = 5
	analyzeChunkLimit = 5
	rawAnswerPreview  = 300
)

var negativePhrases = []string{"not covered", "excluded", "not mentioned", "no information"}

type DecisionConfig struct {
	// SynthesisConfidenceFloor raises the confidence of the deterministic
	// synthesis fallback. Zero keeps the plain mean.
	SynthesisConfidenceFloor float64
}

// DecisionEngine runs decompose, analyze, synthesize and validate for one
// question. Stages never loop back.
type DecisionEngine struct {
	generator ports.Generator
	cfg       DecisionConfig
}

func NewDecisionEngine(generator ports.Generator, cfg DecisionConfig) *DecisionEngine {
	return &DecisionEngine{generator: generator, cfg: cfg}
}

// Decide returns the validated verdict. Only a failed analyze call is
// returned as an error; other stage failures degrade to fallbacks.
func (e *DecisionEngine) Decide(ctx context.Context, query string, chunks []domain.RetrievedChunk) (domain.SynthesisResult, error) {
	return e.decide(ctx, e.generator, query, chunks)
}

func (e *DecisionEngine) decide(ctx context.Context, gen ports.Generator, query string, chunks []domain.RetrievedChunk) (domain.SynthesisResult, error) {
	decomposition := e.decompose(ctx, gen, query)

	top := chunks
	if len(top) > analyzeChunkLimit {
		top = top[:analyzeChunkLimit]
	}

	analyses := make([]domain.SubAnalysisResult, 0, len(decomposition.SubQuestions))
	for _, sub := range decomposition.SubQuestions {
		analysis, err := e.analyze(ctx, gen, sub, top)
		if err != nil {
			return domain.SynthesisResult{}, fmt.Errorf("analyze sub-question: %w", err)
		}
		analyses = append(analyses, analysis)
	}

	synthesis := e.synthesize(ctx, gen, query, analyses)
	return e.validate(ctx, gen, synthesis), nil
}

func (e *DecisionEngine) decompose(ctx context.Context, gen ports.Generator, query string) domain.DecompositionResult {
	raw, err := gen.Generate(ctx, decomposePrompt(query), true)
	if err != nil {
		slog.Warn("decompose_failed", "error", err)
		return domain.DecompositionFallback(query)
	}

	list, err := decodeStringList(raw, "sub_questions")
	if err != nil {
		slog.Warn("decompose_unparseable", "error", err)
		return domain.DecompositionFallback(query)
	}

	subs := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			subs = append(subs, s)
		}
		if len(subs) == maxSubQuestions {
			break
		}
	}
	if len(subs) == 0 {
		return domain.DecompositionFallback(query)
	}
	return domain.DecompositionResult{SubQuestions: subs}
}

func (e *DecisionEngine) analyze(ctx context.Context, gen ports.Generator, subQuestion string, chunks []domain.RetrievedChunk) (domain.SubAnalysisResult, error) {
	raw, err := gen.Generate(ctx, analyzePrompt(subQuestion, chunks), true)
	if err != nil {
		return domain.SubAnalysisResult{}, err
	}

	var parsed struct {
		SubQuestion  string   `json:"sub_question"`
		IsAddressed  *bool    `json:"is_addressed"`
		Answer       string   `json:"answer"`
		Confidence   float64  `json:"confidence"`
		Evidence     []string `json:"evidence"`
		Limitations  []string `json:"limitations"`
		SourceChunks []int    `json:"source_chunks"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil || parsed.IsAddressed == nil {
		slog.Warn("analysis_unparseable", "sub_question", subQuestion)
		return heuristicAnalysis(subQuestion, raw), nil
	}

	out := domain.SubAnalysisResult{
		SubQuestion:  subQuestion,
		IsAddressed:  *parsed.IsAddressed,
		Answer:       parsed.Answer,
		Confidence:   domain.ClampConfidence(parsed.Confidence),
		Evidence:     nonNil(parsed.Evidence),
		Limitations:  nonNil(parsed.Limitations),
		SourceChunks: parsed.SourceChunks,
	}
	if out.SourceChunks == nil {
		out.SourceChunks = []int{}
	}
	return out, nil
}

// heuristicAnalysis is the placeholder for unparseable analysis output. An
// explicit negative in the raw text flips it to not addressed.
func heuristicAnalysis(subQuestion, raw string) domain.SubAnalysisResult {
	out := domain.SubAnalysisFallback(subQuestion, truncateRunes(strings.TrimSpace(raw), rawAnswerPreview))
	out.SourceChunks = []int{}
	lower := strings.ToLower(raw)
	for _, phrase := range negativePhrases {
		if strings.Contains(lower, phrase) {
			out.IsAddressed = false
			out.Heuristic = true
			break
		}
	}
	return out
}

func (e *DecisionEngine) synthesize(ctx context.Context, gen ports.Generator, query string, analyses []domain.SubAnalysisResult) domain.SynthesisResult {
	raw, err := gen.Generate(ctx, synthesisPrompt(query, analyses), true)
	if err != nil {
		slog.Warn("synthesis_failed", "error", err)
		return domain.SynthesisFallback(analyses, e.cfg.SynthesisConfidenceFloor)
	}

	var parsed domain.SynthesisResult
	var presence struct {
		IsCovered *bool `json:"isCovered"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil {
		slog.Warn("synthesis_unparseable", "error", err)
		return domain.SynthesisFallback(analyses, e.cfg.SynthesisConfidenceFloor)
	}
	if err := decodeModelJSON(raw, &presence); err != nil || presence.IsCovered == nil {
		slog.Warn("synthesis_unparseable", "error", "missing isCovered")
		return domain.SynthesisFallback(analyses, e.cfg.SynthesisConfidenceFloor)
	}

	parsed.Fallback = false
	parsed.Validation = nil
	normalizeSynthesis(&parsed)
	return parsed
}

func normalizeSynthesis(s *domain.SynthesisResult) {
	s.Conditions = nonNil(s.Conditions)
	s.Limitations = nonNil(s.Limitations)
	s.Contradictions = nonNil(s.Contradictions)
	s.Gaps = nonNil(s.Gaps)
	s.ConfidenceScore = domain.ClampConfidence(s.ConfidenceScore)
	switch s.EvidenceStrength {
	case "weak", "moderate", "strong":
	default:
		s.EvidenceStrength = "weak"
		if s.ConfidenceScore > 0.6 {
			s.EvidenceStrength = "moderate"
		}
	}
	if s.Completeness != "complete" {
		s.Completeness = "partial"
	}
}

func (e *DecisionEngine) validate(ctx context.Context, gen ports.Generator, synthesis domain.SynthesisResult) domain.SynthesisResult {
	payload, err := json.MarshalIndent(synthesis, "", "  ")
	if err != nil {
		v := domain.ValidationFallback(err.Error())
		synthesis.Validation = &v
		return synthesis
	}

	raw, err := gen.Generate(ctx, validationPrompt(string(payload)), true)
	if err != nil {
		slog.Warn("validation_failed", "error", err)
		v := domain.ValidationFallback(err.Error())
		synthesis.Validation = &v
		return synthesis
	}

	var parsed struct {
		IsConsistent         *bool                      `json:"is_consistent"`
		ConsistencyIssues    []string                   `json:"consistency_issues"`
		SuggestedCorrections map[string]json.RawMessage `json:"suggested_corrections"`
		ValidationConfidence *float64                   `json:"validation_confidence"`
		FinalRecommendation  string                     `json:"final_recommendation"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil {
		slog.Warn("validation_unparseable", "error", err)
		v := domain.ValidationFallback("unparseable validation output")
		synthesis.Validation = &v
		return synthesis
	}

	applied := applyCorrections(&synthesis, parsed.SuggestedCorrections)

	v := domain.ValidationResult{
		IsConsistent:         true,
		ConsistencyIssues:    nonNil(parsed.ConsistencyIssues),
		ValidationConfidence: 1,
		Recommendation:       "accept",
		AppliedCorrections:   applied,
	}
	if parsed.IsConsistent != nil {
		v.IsConsistent = *parsed.IsConsistent
	}
	if parsed.ValidationConfidence != nil {
		v.ValidationConfidence = domain.ClampConfidence(*parsed.ValidationConfidence)
	}
	switch rec := strings.ToLower(strings.TrimSpace(parsed.FinalRecommendation)); rec {
	case "accept", "revise", "reject":
		v.Recommendation = rec
	}
	synthesis.Validation = &v
	return synthesis
}

// applyCorrections merges validator corrections into known fields when the
// value has the field's JSON type. It returns the applied field names.
func applyCorrections(s *domain.SynthesisResult, corrections map[string]json.RawMessage) []string {
	var applied []string
	for field, raw := range corrections {
		ok := false
		switch field {
		case "isCovered":
			var v bool
			if ok = json.Unmarshal(raw, &v) == nil; ok {
				s.IsCovered = v
			}
		case "conditions":
			var v []string
			if ok = json.Unmarshal(raw, &v) == nil && v != nil; ok {
				s.Conditions = v
			}
		case "limitations":
			var v []string
			if ok = json.Unmarshal(raw, &v) == nil && v != nil; ok {
				s.Limitations = v
			}
		case "rationale":
			var v string
			if ok = json.Unmarshal(raw, &v) == nil && v != ""; ok {
				s.Rationale = v
			}
		case "confidence_score":
			var v float64
			if ok = json.Unmarshal(raw, &v) == nil; ok {
				s.ConfidenceScore = domain.ClampConfidence(v)
			}
		case "evidence_strength":
			var v string
			if ok = json.Unmarshal(raw, &v) == nil && (v == "weak" || v == "moderate" || v == "strong"); ok {
				s.EvidenceStrength = v
			}
		case "completeness":
			var v string
			if ok = json.Unmarshal(raw, &v) == nil && (v == "partial" || v == "complete"); ok {
				s.Completeness = v
			}
		case "clause_reference":
			var v domain.ClauseReference
			if ok = len(raw) > 0 && (raw[0] == '{' || raw[0] == '"') && json.Unmarshal(raw, &v) == nil; ok {
				s.ClauseReference = v
			}
		}
		if ok {
			applied = append(applied, field)
		}
	}
	sort.Strings(applied)
	return applied
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
