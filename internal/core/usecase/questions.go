package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
)

const (
	localRankLimit    = 5
	localRankFallback = 3
)

type QuestionConfig struct {
	MaxQuestions      int
	MaxQuestionLength int
	CacheTTL          time.Duration
	ModelUsed         string
	EmbeddingModel    string
}

func (c QuestionConfig) normalize() QuestionConfig {
	if c.MaxQuestions <= 0 {
		c.MaxQuestions = 10
	}
	if c.MaxQuestionLength <= 0 {
		c.MaxQuestionLength = 500
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	return c
}

// AnswerQuestionsUseCase answers questions one at a time against a chunked
// document. A failing question turns into an error answer; it never fails
// the batch.
type AnswerQuestionsUseCase struct {
	vector    ports.VectorStore
	retrieval *RetrievalEngine
	decision  *DecisionEngine
	generator ports.Generator
	cache     ports.AnswerCache
	tokens    ports.TokenCounter
	cfg       QuestionConfig
}

func NewAnswerQuestionsUseCase(
	vector ports.VectorStore,
	retrieval *RetrievalEngine,
	decision *DecisionEngine,
	generator ports.Generator,
	cache ports.AnswerCache,
	tokens ports.TokenCounter,
	cfg QuestionConfig,
) *AnswerQuestionsUseCase {
	return &AnswerQuestionsUseCase{
		vector:    vector,
		retrieval: retrieval,
		decision:  decision,
		generator: generator,
		cache:     cache,
		tokens:    tokens,
		cfg:       cfg.normalize(),
	}
}

func (uc *AnswerQuestionsUseCase) ValidateQuestions(questions []string) error {
	if len(questions) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate questions", errors.New("at least one question is required"))
	}
	if len(questions) > uc.cfg.MaxQuestions {
		return domain.WrapError(domain.ErrInvalidInput, "validate questions",
			fmt.Errorf("too many questions: %d exceeds limit %d", len(questions), uc.cfg.MaxQuestions))
	}
	for i, q := range questions {
		if strings.TrimSpace(q) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "validate questions", fmt.Errorf("question %d is empty", i+1))
		}
		if n := utf8.RuneCountInString(q); n > uc.cfg.MaxQuestionLength {
			return domain.WrapError(domain.ErrInvalidInput, "validate questions",
				fmt.Errorf("question %d is too long: %d characters exceeds limit %d", i+1, n, uc.cfg.MaxQuestionLength))
		}
	}
	return nil
}

func (uc *AnswerQuestionsUseCase) ProcessQuestions(ctx context.Context, questions []string, chunks []domain.DocumentChunk) ([]domain.QueryAnswer, error) {
	if err := uc.ValidateQuestions(questions); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "process questions", errors.New("document has no chunks"))
	}

	documentID := chunks[0].Metadata.DocumentID
	if documentID == "" {
		documentID = DocumentID(chunks[0].Metadata.Source)
	}

	cached := make([]*domain.QueryAnswer, len(questions))
	pending := 0
	for i, q := range questions {
		if cached[i] = uc.cachedAnswer(ctx, answerCacheKey(documentID, q)); cached[i] == nil {
			pending++
		}
	}

	indexed := false
	if pending > 0 {
		indexed = uc.index(ctx, documentID, chunks)
	} else {
		slog.Info("document_index_skipped", "document_id", documentID, "reason", "all answers cached")
	}

	answers := make([]domain.QueryAnswer, 0, len(questions))
	for i, q := range questions {
		if cached[i] != nil {
			answers = append(answers, fromCache(*cached[i], q, documentID))
			continue
		}
		answers = append(answers, uc.answerOne(ctx, q, documentID, chunks, indexed))
	}
	return answers, nil
}

func fromCache(answer domain.QueryAnswer, question, documentID string) domain.QueryAnswer {
	answer.Question = question
	answer.ProcessingMetadata.Cached = true
	slog.Info("question_answered", "document_id", documentID, "cached", true)
	return answer
}

func (uc *AnswerQuestionsUseCase) index(ctx context.Context, documentID string, chunks []domain.DocumentChunk) bool {
	if uc.vector == nil {
		return false
	}
	stored, err := uc.vector.Upsert(ctx, documentID, chunks)
	if err != nil {
		slog.Warn("document_index_failed", "document_id", documentID, "error", err)
		return false
	}
	slog.Info("document_indexed", "document_id", documentID, "chunks", len(chunks), "stored", stored)
	return stored > 0
}

func (uc *AnswerQuestionsUseCase) answerOne(
	ctx context.Context,
	question, documentID string,
	chunks []domain.DocumentChunk,
	indexed bool,
) (answer domain.QueryAnswer) {
	meta := domain.ProcessingMetadata{ModelUsed: uc.cfg.ModelUsed, EmbeddingModel: uc.cfg.EmbeddingModel}
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("question_panic", "document_id", documentID, "panic", r)
			answer = domain.ErrorAnswer(question, fmt.Errorf("%v", r), meta)
		}
	}()

	key := answerCacheKey(documentID, question)
	meter := &meteredGenerator{base: uc.generator, counter: uc.tokens}

	var retrieved []domain.RetrievedChunk
	if indexed && uc.retrieval != nil {
		retrieved = uc.retrieval.retrieve(ctx, meter, question, documentID)
	}
	if len(retrieved) == 0 {
		analysis := analyzeQuery(ctx, meter, question)
		slog.Debug("query_analyzed", "document_id", documentID, "intent", analysis.Intent, "fallback", analysis.Fallback)
		retrieved = rankLocally(localTerms(question, analysis), chunks, localRankLimit, localRankFallback)
	}

	verdict, err := uc.decision.decide(ctx, meter, question, retrieved)
	if err != nil {
		slog.Error("question_failed", "document_id", documentID, "error", err)
		return domain.ErrorAnswer(question, err, meta)
	}

	meta.ChunksAnalyzed = len(retrieved)
	if meta.ChunksAnalyzed > analyzeChunkLimit {
		meta.ChunksAnalyzed = analyzeChunkLimit
	}
	meta.TotalTokens = meter.total

	answer = domain.QueryAnswer{
		Question:           question,
		IsCovered:          verdict.IsCovered,
		Conditions:         nonNil(verdict.Conditions),
		Limitations:        verdict.Limitations,
		ClauseReference:    verdict.ClauseReference,
		Rationale:          verdict.Rationale,
		ConfidenceScore:    domain.ClampConfidence(verdict.ConfidenceScore),
		EvidenceStrength:   verdict.EvidenceStrength,
		Validation:         verdict.Validation,
		ProcessingMetadata: meta,
	}

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, key, answer, uc.cfg.CacheTTL); err != nil {
			slog.Warn("answer_cache_store_failed", "error", err)
		}
	}

	slog.Info("question_answered",
		"document_id", documentID,
		"covered", answer.IsCovered,
		"confidence", answer.ConfidenceScore,
		"fallback", verdict.Fallback,
		"tokens", meter.total,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return answer
}

func (uc *AnswerQuestionsUseCase) cachedAnswer(ctx context.Context, key string) *domain.QueryAnswer {
	if uc.cache == nil {
		return nil
	}
	cached, ok, err := uc.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("answer_cache_lookup_failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return cached
}

func answerCacheKey(documentID, question string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(question))))
	return documentID + ":" + hex.EncodeToString(sum[:16])
}

// meteredGenerator counts prompt and response tokens for one question.
type meteredGenerator struct {
	base    ports.Generator
	counter ports.TokenCounter
	total   int
}

func (g *meteredGenerator) Generate(ctx context.Context, prompt string, structured bool) (string, error) {
	g.add(prompt)
	out, err := g.base.Generate(ctx, prompt, structured)
	if err == nil {
		g.add(out)
	}
	return out, err
}

func (g *meteredGenerator) add(text string) {
	if g.counter == nil {
		return
	}
	g.total += g.counter.Count(text)
}
