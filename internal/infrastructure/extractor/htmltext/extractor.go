package htmltext

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true, "template": true, "svg": true,
}

var blocks = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "table": true, "ul": true, "ol": true,
}

// Extract returns the visible text of an HTML page. Block elements end a
// paragraph so the chunker sees the page structure.
func (e *Extractor) Extract(_ context.Context, raw []byte, contentType string) (domain.ExtractedText, error) {
	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("decode html: %w", err)
	}
	root, err := html.Parse(reader)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("parse html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.Data] {
			b.WriteString("\n\n")
		}
	}
	walk(root)

	out := domain.ExtractedText{DocumentType: "html"}
	if text := strings.TrimSpace(b.String()); text != "" {
		out.Segments = []domain.TextSegment{{Text: text}}
	}
	return out, nil
}
