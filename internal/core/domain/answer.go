package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ClauseReference struct {
	Page        *int   `json:"page"`
	ClauseTitle string `json:"clause_title,omitempty"`
}

// UnmarshalJSON accepts pages given as numbers, numeric strings or
// placeholders such as "N/A". A bare string is taken as the clause title and
// any other non-object value leaves the reference empty.
func (c *ClauseReference) UnmarshalJSON(data []byte) error {
	*c = ClauseReference{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var title string
		if err := json.Unmarshal(data, &title); err != nil {
			return err
		}
		c.ClauseTitle = strings.TrimSpace(title)
		return nil
	}
	if data[0] != '{' {
		return nil
	}

	var raw struct {
		Page        json.RawMessage `json:"page"`
		ClauseTitle any             `json:"clause_title"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Page = parsePage(raw.Page)
	if raw.ClauseTitle != nil {
		c.ClauseTitle = strings.TrimSpace(fmt.Sprint(raw.ClauseTitle))
	}
	return nil
}

func parsePage(raw json.RawMessage) *int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n <= 0 {
			return nil
		}
		page := int(n)
		return &page
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "page"))
	page, err := strconv.Atoi(s)
	if err != nil || page <= 0 {
		return nil
	}
	return &page
}

type ProcessingMetadata struct {
	ModelUsed      string `json:"model_used"`
	EmbeddingModel string `json:"embedding_model"`
	ChunksAnalyzed int    `json:"chunks_analyzed"`
	TotalTokens    int    `json:"total_tokens"`
	Cached         bool   `json:"cached,omitempty"`
}

// QueryAnswer is the externally visible verdict for one question.
type QueryAnswer struct {
	Question           string             `json:"question"`
	IsCovered          bool               `json:"isCovered"`
	Conditions         []string           `json:"conditions"`
	Limitations        []string           `json:"limitations,omitempty"`
	ClauseReference    ClauseReference    `json:"clause_reference"`
	Rationale          string             `json:"rationale"`
	ConfidenceScore    float64            `json:"confidence_score"`
	EvidenceStrength   string             `json:"evidence_strength,omitempty"`
	Validation         *ValidationResult  `json:"validation,omitempty"`
	ProcessingMetadata ProcessingMetadata `json:"processing_metadata"`
	Failed             bool               `json:"-"`
}

// ErrorAnswer is the placeholder returned for a question that failed.
func ErrorAnswer(question string, err error, meta ProcessingMetadata) QueryAnswer {
	meta.ChunksAnalyzed = 0
	meta.TotalTokens = 0
	return QueryAnswer{
		Question:           question,
		IsCovered:          false,
		Conditions:         []string{},
		ClauseReference:    ClauseReference{ClauseTitle: "Error"},
		Rationale:          fmt.Sprintf("Failed to process question due to error: %v", err),
		ConfidenceScore:    0,
		ProcessingMetadata: meta,
		Failed:             true,
	}
}

type ProcessingSummary struct {
	TotalQuestions         int    `json:"total_questions"`
	SuccessfulResponses    int    `json:"successful_responses"`
	TotalProcessingTime    string `json:"total_processing_time"`
	DocumentPagesProcessed *int   `json:"document_pages_processed"`
}

type QueryResponse struct {
	DocumentID        string            `json:"document_id"`
	Answers           []QueryAnswer     `json:"answers"`
	ProcessingSummary ProcessingSummary `json:"processing_summary"`
}
