package plaintext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract decodes raw bytes to UTF-8 using the charset declared in the
// content type, a BOM, or detection.
func (e *Extractor) Extract(_ context.Context, raw []byte, contentType string) (domain.ExtractedText, error) {
	text, err := decode(raw, contentType)
	if err != nil {
		return domain.ExtractedText{}, err
	}
	text = strings.TrimSpace(text)

	out := domain.ExtractedText{DocumentType: "text"}
	if text == "" {
		return out, nil
	}
	out.Segments = []domain.TextSegment{{Text: text}}
	return out, nil
}

func decode(raw []byte, contentType string) (string, error) {
	enc, name, _ := charset.DetermineEncoding(raw, contentType)
	if name == "utf-8" {
		raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("decode text: content is not valid utf-8")
		}
		return string(raw), nil
	}

	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("decode text from %s: %w", name, err)
	}
	if bytes.IndexByte(decoded, 0) >= 0 {
		return "", fmt.Errorf("decode text: binary content")
	}
	return string(decoded), nil
}
