package extractor

import (
	"strings"

	"github.com/kirillkom/policy-query-engine/internal/core/ports"
)

type Kind string

const (
	KindPDF   Kind = "pdf"
	KindDOCX  Kind = "docx"
	KindXLSX  Kind = "xlsx"
	KindHTML  Kind = "html"
	KindText  Kind = "text"
	KindOther Kind = ""
)

// Registry maps content types to extractors.
type Registry struct {
	extractors map[Kind]ports.ContentExtractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[Kind]ports.ContentExtractor)}
}

func (r *Registry) Register(kind Kind, extractor ports.ContentExtractor) *Registry {
	r.extractors[kind] = extractor
	return r
}

func (r *Registry) Resolve(contentType string) (ports.ContentExtractor, bool) {
	kind := KindFor(contentType)
	if kind == KindOther {
		return nil, false
	}
	extractor, ok := r.extractors[kind]
	return extractor, ok
}

// KindFor classifies a content type by substring, so both MIME types and
// loose hints such as "word" resolve.
func KindFor(contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case ct == "":
		return KindOther
	case strings.Contains(ct, "pdf"):
		return KindPDF
	case strings.Contains(ct, "wordprocessingml"), strings.Contains(ct, "msword"),
		strings.Contains(ct, "word"), strings.Contains(ct, "docx"):
		return KindDOCX
	case strings.Contains(ct, "spreadsheetml"), strings.Contains(ct, "excel"):
		return KindXLSX
	case strings.Contains(ct, "html"):
		return KindHTML
	case strings.Contains(ct, "text"):
		return KindText
	default:
		return KindOther
	}
}
