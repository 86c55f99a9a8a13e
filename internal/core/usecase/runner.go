package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

// RunQueryUseCase answers a question batch for a document reference end to
// end.
type RunQueryUseCase struct {
	documents *DocumentPipelineUseCase
	questions *AnswerQuestionsUseCase
	now       func() time.Time
}

func NewRunQueryUseCase(documents *DocumentPipelineUseCase, questions *AnswerQuestionsUseCase) *RunQueryUseCase {
	return &RunQueryUseCase{documents: documents, questions: questions, now: time.Now}
}

func (uc *RunQueryUseCase) Run(ctx context.Context, ref string, questions []string) (*domain.QueryResponse, error) {
	started := uc.now()

	if err := uc.questions.ValidateQuestions(questions); err != nil {
		return nil, err
	}

	chunks, err := uc.documents.ProcessDocument(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "run query", errors.New("no content extracted"))
	}

	answers, err := uc.questions.ProcessQuestions(ctx, questions, chunks)
	if err != nil {
		return nil, err
	}

	successful := 0
	for _, a := range answers {
		if !a.Failed {
			successful++
		}
	}
	elapsed := uc.now().Sub(started)

	resp := &domain.QueryResponse{
		DocumentID: chunks[0].Metadata.DocumentID,
		Answers:    answers,
		ProcessingSummary: domain.ProcessingSummary{
			TotalQuestions:         len(questions),
			SuccessfulResponses:    successful,
			TotalProcessingTime:    fmt.Sprintf("%.1fs", elapsed.Seconds()),
			DocumentPagesProcessed: maxPage(chunks),
		},
	}

	slog.Info("query_completed",
		"document_id", resp.DocumentID,
		"questions", len(questions),
		"successful", successful,
		"duration", resp.ProcessingSummary.TotalProcessingTime,
	)
	return resp, nil
}

func maxPage(chunks []domain.DocumentChunk) *int {
	best := 0
	for _, c := range chunks {
		if c.Metadata.Page > best {
			best = c.Metadata.Page
		}
	}
	if best == 0 {
		return nil
	}
	return &best
}
