package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
	"github.com/kirillkom/policy-query-engine/internal/core/ports"
)

func kneeGenerator() *generatorFake {
	return &generatorFake{responses: map[stage]string{
		stageDecompose: `{"sub_questions":["Is knee surgery covered?"]}`,
		stageAnalyze:   kneeAnalysis,
		stageSynthesis: kneeSynthesis,
		stageValidate:  `{"is_consistent":true,"consistency_issues":[],"validation_confidence":0.9,"final_recommendation":"accept"}`,
		stageRerank:    `[1]`,
	}}
}

// newQuestionsUseCase leaves the cache interface nil when cache is nil, so a
// typed-nil *cacheFake never reaches the use case.
func newQuestionsUseCase(store *vectorStoreFake, gen *generatorFake, cache *cacheFake) *AnswerQuestionsUseCase {
	var answers ports.AnswerCache
	if cache != nil {
		answers = cache
	}
	return NewAnswerQuestionsUseCase(
		store,
		NewRetrievalEngine(store, gen, RetrievalConfig{}),
		NewDecisionEngine(gen, DecisionConfig{}),
		gen,
		answers,
		wordCounter{},
		QuestionConfig{ModelUsed: "llama3.1", EmbeddingModel: "nomic-embed-text"},
	)
}

func TestProcessQuestionsKneeSurgery(t *testing.T) {
	store := &vectorStoreFake{queryResult: []domain.RetrievedChunk{
		{Text: "Knee surgery is covered after a waiting period of 24 months.", Page: 7, Score: 0.9, DocumentID: "doc_1"},
	}}
	gen := kneeGenerator()
	uc := newQuestionsUseCase(store, gen, &cacheFake{})

	chunks := policyChunks("doc_1", "Knee surgery is covered after a waiting period of 24 months.")
	answers, err := uc.ProcessQuestions(context.Background(), []string{"Does this policy cover knee surgery?"}, chunks)
	if err != nil {
		t.Fatalf("ProcessQuestions() error = %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(answers))
	}
	a := answers[0]
	if !a.IsCovered || a.ConfidenceScore != 0.85 || a.Failed {
		t.Fatalf("unexpected answer %+v", a)
	}
	if len(a.Conditions) != 1 || !strings.Contains(a.Conditions[0], "24 month") {
		t.Fatalf("expected waiting period condition, got %v", a.Conditions)
	}
	if a.ClauseReference.Page == nil || *a.ClauseReference.Page != 7 {
		t.Fatalf("expected clause page 7, got %+v", a.ClauseReference)
	}
	if a.ProcessingMetadata.ModelUsed != "llama3.1" || a.ProcessingMetadata.ChunksAnalyzed != 1 {
		t.Fatalf("unexpected metadata %+v", a.ProcessingMetadata)
	}
	if a.ProcessingMetadata.TotalTokens <= 0 {
		t.Fatalf("expected token usage to be counted")
	}
	if store.upserted["doc_1"] != 1 {
		t.Fatalf("expected chunks to be indexed before answering")
	}

	retrieved := uc.retrieval.Retrieve(context.Background(), "Does this policy cover knee surgery?", "doc_1")
	if len(retrieved) != 1 || retrieved[0].CombinedScore <= 0 || retrieved[0].KeywordScore <= 0 {
		t.Fatalf("expected the knee chunk with a positive combined score, got %+v", retrieved)
	}
}

func TestProcessQuestionsRejectsInvalidBatches(t *testing.T) {
	uc := newQuestionsUseCase(&vectorStoreFake{}, kneeGenerator(), nil)
	chunks := policyChunks("doc_1", "text")

	eleven := make([]string, 11)
	for i := range eleven {
		eleven[i] = fmt.Sprintf("question %d?", i)
	}
	cases := map[string][]string{
		"none":     {},
		"too many": eleven,
		"blank":    {"ok?", "   "},
		"too long": {strings.Repeat("a", 501)},
	}
	for name, questions := range cases {
		_, err := uc.ProcessQuestions(context.Background(), questions, chunks)
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestProcessQuestionsEmptyDocument(t *testing.T) {
	uc := newQuestionsUseCase(&vectorStoreFake{}, kneeGenerator(), nil)
	_, err := uc.ProcessQuestions(context.Background(), []string{"q?"}, nil)
	if !domain.IsKind(err, domain.ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if err.Error() == "" || !strings.Contains(err.Error(), "failed to extract content from the provided document") {
		t.Fatalf("unexpected message %v", err)
	}
}

func TestProcessQuestionsOneFailureDoesNotAffectOthers(t *testing.T) {
	gen := kneeGenerator()
	gen.respond = func(st stage, prompt string) (string, error) {
		if st == stageAnalyze && strings.Contains(prompt, "broken") {
			return "", errors.New("model crashed")
		}
		return gen.responses[st], nil
	}
	gen.responses[stageDecompose] = "not json"

	uc := newQuestionsUseCase(&vectorStoreFake{}, gen, nil)
	chunks := policyChunks("doc_1", "Knee surgery is covered.")

	answers, err := uc.ProcessQuestions(context.Background(), []string{"Is knee surgery covered?", "broken question?", "Is knee surgery covered again?"}, chunks)
	if err != nil {
		t.Fatalf("ProcessQuestions() error = %v", err)
	}
	if len(answers) != 3 {
		t.Fatalf("expected one answer per question, got %d", len(answers))
	}
	failed := answers[1]
	if !failed.Failed || failed.IsCovered || failed.ConfidenceScore != 0 || failed.ClauseReference.ClauseTitle != "Error" {
		t.Fatalf("unexpected error answer %+v", failed)
	}
	if !strings.Contains(failed.Rationale, "Failed to process question due to error") || !strings.Contains(failed.Rationale, "model crashed") {
		t.Fatalf("unexpected rationale %q", failed.Rationale)
	}
	if len(failed.Conditions) != 0 || failed.Conditions == nil {
		t.Fatalf("expected empty conditions list")
	}
	if answers[0].Failed || answers[2].Failed || !answers[0].IsCovered {
		t.Fatalf("other questions must succeed: %+v / %+v", answers[0], answers[2])
	}
}

func TestProcessQuestionsRecoversFromPanic(t *testing.T) {
	gen := kneeGenerator()
	gen.respond = func(st stage, prompt string) (string, error) {
		if st == stageSynthesis {
			panic("unexpected state")
		}
		return gen.responses[st], nil
	}

	answers, err := newQuestionsUseCase(&vectorStoreFake{}, gen, nil).ProcessQuestions(context.Background(), []string{"q?"}, policyChunks("doc_1", "text"))
	if err != nil {
		t.Fatalf("ProcessQuestions() error = %v", err)
	}
	if !answers[0].Failed || !strings.Contains(answers[0].Rationale, "unexpected state") {
		t.Fatalf("expected panic converted into error answer, got %+v", answers[0])
	}
}

func TestProcessQuestionsFallsBackToLocalChunksWhenIndexingFails(t *testing.T) {
	store := &vectorStoreFake{upsertErr: errors.New("qdrant down")}
	gen := kneeGenerator()
	uc := newQuestionsUseCase(store, gen, nil)

	chunks := policyChunks("doc_1", "Maternity is excluded.", "Knee surgery is covered after 24 months.")
	answers, err := uc.ProcessQuestions(context.Background(), []string{"knee surgery?"}, chunks)
	if err != nil {
		t.Fatalf("ProcessQuestions() error = %v", err)
	}
	if store.queries != 0 {
		t.Fatalf("vector search must be skipped when indexing failed")
	}
	if answers[0].Failed || answers[0].ProcessingMetadata.ChunksAnalyzed != 1 {
		t.Fatalf("expected answer from the locally ranked chunk, got %+v", answers[0])
	}
	for i, p := range gen.prompts {
		if gen.calls[i] == stageAnalyze && strings.Contains(p, "Maternity") {
			t.Fatalf("non-matching chunk must not be analyzed")
		}
	}
}

func TestProcessQuestionsUsesAnswerCache(t *testing.T) {
	gen := kneeGenerator()
	cache := &cacheFake{}
	uc := newQuestionsUseCase(&vectorStoreFake{}, gen, cache)
	chunks := policyChunks("doc_1", "Knee surgery is covered.")

	if _, err := uc.ProcessQuestions(context.Background(), []string{"Is knee surgery covered?"}, chunks); err != nil {
		t.Fatalf("first ProcessQuestions() error = %v", err)
	}
	calls := len(gen.calls)

	answers, err := uc.ProcessQuestions(context.Background(), []string{"  is knee SURGERY covered?"}, chunks)
	if err != nil {
		t.Fatalf("second ProcessQuestions() error = %v", err)
	}
	if len(gen.calls) != calls {
		t.Fatalf("cached question must not call the model again")
	}
	if !answers[0].ProcessingMetadata.Cached || answers[0].Question != "  is knee SURGERY covered?" {
		t.Fatalf("unexpected cached answer %+v", answers[0])
	}
	if cache.sets != 1 {
		t.Fatalf("expected one cache store, got %d", cache.sets)
	}
}

func TestProcessQuestionsDoesNotCacheFailures(t *testing.T) {
	gen := kneeGenerator()
	gen.errs = map[stage]error{stageAnalyze: errors.New("down")}
	delete(gen.responses, stageAnalyze)
	cache := &cacheFake{}

	if _, err := newQuestionsUseCase(&vectorStoreFake{}, gen, cache).ProcessQuestions(context.Background(), []string{"q?"}, policyChunks("doc_1", "t")); err != nil {
		t.Fatalf("ProcessQuestions() error = %v", err)
	}
	if cache.sets != 0 {
		t.Fatalf("failed answers must not be cached")
	}
}

func TestProcessQuestionsSkipsIndexingWhenAllAnswersCached(t *testing.T) {
	store := &vectorStoreFake{}
	gen := kneeGenerator()
	uc := newQuestionsUseCase(store, gen, &cacheFake{})
	chunks := policyChunks("doc_1", "Knee surgery is covered.")

	if _, err := uc.ProcessQuestions(context.Background(), []string{"Is knee surgery covered?"}, chunks); err != nil {
		t.Fatalf("first ProcessQuestions() error = %v", err)
	}
	if store.upserts != 1 {
		t.Fatalf("expected one upsert, got %d", store.upserts)
	}

	answers, err := uc.ProcessQuestions(context.Background(), []string{"is knee surgery covered?"}, chunks)
	if err != nil {
		t.Fatalf("second ProcessQuestions() error = %v", err)
	}
	if store.upserts != 1 {
		t.Fatalf("fully cached batch must not re-index, got %d upserts", store.upserts)
	}
	if !answers[0].ProcessingMetadata.Cached {
		t.Fatalf("expected cached answer, got %+v", answers[0])
	}

	if _, err := uc.ProcessQuestions(context.Background(), []string{"Is knee surgery covered?", "Is there a waiting period?"}, chunks); err != nil {
		t.Fatalf("third ProcessQuestions() error = %v", err)
	}
	if store.upserts != 2 {
		t.Fatalf("a batch with an uncached question must index, got %d upserts", store.upserts)
	}
}

func TestProcessQuestionsAnalysesQueryForLocalRanking(t *testing.T) {
	store := &vectorStoreFake{upsertErr: errors.New("qdrant down")}
	gen := kneeGenerator()
	gen.responses[stageQuery] = `{"intent":"coverage_check","entities":["knee surgery"],"key_terms":["orthopaedic"]}`
	uc := newQuestionsUseCase(store, gen, nil)

	chunks := policyChunks("doc_1", "Maternity benefits apply after one year.", "Knee surgery qualifies after 24 months.")
	answers, err := uc.ProcessQuestions(context.Background(), []string{"ACL repair?"}, chunks)
	if err != nil {
		t.Fatalf("ProcessQuestions() error = %v", err)
	}
	if gen.count(stageQuery) != 1 {
		t.Fatalf("expected one query analysis, got %d", gen.count(stageQuery))
	}
	if answers[0].Failed || answers[0].ProcessingMetadata.ChunksAnalyzed != 1 {
		t.Fatalf("expected the entity-matched chunk only, got %+v", answers[0])
	}
	for i, p := range gen.prompts {
		if gen.calls[i] == stageAnalyze && strings.Contains(p, "Maternity") {
			t.Fatalf("chunk without analysed terms must not be analyzed")
		}
	}
}
