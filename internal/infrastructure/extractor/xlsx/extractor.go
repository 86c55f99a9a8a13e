package xlsx

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract renders each sheet as one segment: rows on separate lines, cells
// tab-separated. The sheet ordinal is used as the page number.
func (e *Extractor) Extract(_ context.Context, raw []byte, _ string) (domain.ExtractedText, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() {
		_ = book.Close()
	}()

	sheets := book.GetSheetList()
	out := domain.ExtractedText{
		DocumentType: "xlsx",
		TotalPages:   len(sheets),
	}
	for i, sheet := range sheets {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return domain.ExtractedText{}, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		out.Segments = append(out.Segments, domain.TextSegment{
			Text: sheet + "\n" + strings.Join(lines, "\n"),
			Page: i + 1,
		})
	}
	return out, nil
}
