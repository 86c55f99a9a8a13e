package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns one segment per page that has text.
func (e *Extractor) Extract(ctx context.Context, raw []byte, _ string) (domain.ExtractedText, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("open pdf: %w", err)
	}

	total := reader.NumPage()
	out := domain.ExtractedText{
		DocumentType: "pdf",
		TotalPages:   total,
		Segments:     make([]domain.TextSegment, 0, total),
	}
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return domain.ExtractedText{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return domain.ExtractedText{}, fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, domain.TextSegment{Text: text, Page: i})
	}
	return out, nil
}
