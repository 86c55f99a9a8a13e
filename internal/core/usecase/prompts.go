package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

func queryAnalysisPrompt(query string) string {
	return fmt.Sprintf(`Analyze the following query about a policy document and extract key information.

Query: %q

Respond only with JSON:
{
  "intent": "main intent, e.g. coverage_check, condition_inquiry, policy_details",
  "entities": ["important entities, e.g. knee surgery, maternity, waiting period"],
  "domain": "insurance, legal, hr or compliance",
  "question_type": "yes_no, conditional or informational",
  "key_terms": ["terms useful for searching the document"]
}`, query)
}

func decomposePrompt(query string) string {
	return fmt.Sprintf(`Break the following question about a policy document into simpler, specific sub-questions that together fully answer it.

Question: %q

Guidelines:
- each sub-question must be specific and answerable from the document
- cover conditions, limitations, exclusions and waiting periods
- include scope and applicability where relevant
- use at most %d sub-questions

Respond only with JSON: {"sub_questions": ["...", "..."]}

Example for "Does this policy cover knee surgery?":
{"sub_questions": ["Is knee surgery explicitly listed as covered?", "Are there exclusions for knee surgery?", "What conditions apply to knee surgery coverage?", "Is there a waiting period for knee surgery?"]}`, query, maxSubQuestions)
}

func analyzePrompt(subQuestion string, chunks []domain.RetrievedChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Chunk %d", i+1)
		if c.Page > 0 {
			fmt.Fprintf(&b, " (page %d)", c.Page)
		}
		b.WriteString(": ")
		b.WriteString(c.Text)
	}

	return fmt.Sprintf(`Answer the sub-question using only the document context below.

Sub-question: %q

Document context:
%s

Respond only with JSON:
{
  "sub_question": %q,
  "is_addressed": true or false,
  "answer": "direct answer to the sub-question",
  "confidence": number between 0 and 1,
  "evidence": ["exact quotes from the context"],
  "limitations": ["conditions or limitations found"],
  "source_chunks": [chunk numbers used]
}

Quote the document exactly. If the context does not address the sub-question, set is_addressed to false.`, subQuestion, b.String(), subQuestion)
}

func synthesisPrompt(query string, analyses []domain.SubAnalysisResult) string {
	var b strings.Builder
	for i, a := range analyses {
		fmt.Fprintf(&b, "Sub-question %d: %s\nAnswer: %s\nAddressed: %t\nEvidence: %s\nConfidence: %.2f\nLimitations: %s\n\n",
			i+1, a.SubQuestion, a.Answer, a.IsAddressed,
			strings.Join(a.Evidence, " | "), a.Confidence, strings.Join(a.Limitations, " | "))
	}

	return fmt.Sprintf(`Combine the sub-question analyses into one answer to the original question.

Original question: %q

Sub-question analyses:
%s
Respond only with JSON:
{
  "isCovered": true or false,
  "conditions": ["all conditions and requirements"],
  "limitations": ["all limitations and exclusions"],
  "clause_reference": {"page": page number or null, "clause_title": "relevant clause title or null"},
  "rationale": "explanation combining the analyses",
  "confidence_score": number between 0 and 1,
  "evidence_strength": "weak" or "moderate" or "strong",
  "completeness": "partial" or "complete",
  "contradictions": ["contradictions between analyses"],
  "gaps": ["missing or unclear information"]
}

Resolve contradictions where possible and base the confidence on the sub-analysis confidences.`, query, b.String())
}

func validationPrompt(synthesisJSON string) string {
	return fmt.Sprintf(`Review this analysis for logical consistency.

Analysis:
%s

Check that conditions and limitations do not contradict each other, that the confidence matches the evidence strength and that the rationale supports the verdict.

Respond only with JSON:
{
  "is_consistent": true or false,
  "consistency_issues": ["problems found"],
  "suggested_corrections": {"field_name": corrected value},
  "validation_confidence": number between 0 and 1,
  "final_recommendation": "accept" or "revise" or "reject"
}`, synthesisJSON)
}

func rerankPrompt(query string, previews []string) string {
	var b strings.Builder
	for i, p := range previews {
		fmt.Fprintf(&b, "Chunk %d: %s...\n", i+1, p)
	}
	return fmt.Sprintf(`Query: %q

Rank the document chunks below by relevance to the query, most relevant first.

Chunks:
%s
Respond only with JSON: {"ranking": [chunk numbers from 1 to %d]}`, query, b.String(), len(previews))
}
