package extractor

import (
	"context"
	"testing"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

type extractorFake struct{ kind string }

func (f extractorFake) Extract(context.Context, []byte, string) (domain.ExtractedText, error) {
	return domain.ExtractedText{DocumentType: f.kind}, nil
}

func TestKindForContentTypes(t *testing.T) {
	cases := map[string]Kind{
		"application/pdf": KindPDF,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": KindDOCX,
		"application/msword": KindDOCX,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": KindXLSX,
		"text/html; charset=utf-8":  KindHTML,
		"text/plain; charset=utf-8": KindText,
		"text/markdown":             KindText,
		"image/png":                 KindOther,
		"":                          KindOther,
	}
	for contentType, want := range cases {
		if got := KindFor(contentType); got != want {
			t.Fatalf("KindFor(%q) = %q, want %q", contentType, got, want)
		}
	}
}

func TestResolveUnsupportedTypeIsNotAnError(t *testing.T) {
	registry := NewRegistry().Register(KindText, extractorFake{kind: "text"})
	if _, ok := registry.Resolve("image/png"); ok {
		t.Fatalf("expected image/png to be unsupported")
	}
	if _, ok := registry.Resolve("application/pdf"); ok {
		t.Fatalf("expected unregistered pdf extractor to be unsupported")
	}
	got, ok := registry.Resolve("text/plain")
	if !ok {
		t.Fatalf("expected text/plain to resolve")
	}
	res, _ := got.Extract(context.Background(), nil, "")
	if res.DocumentType != "text" {
		t.Fatalf("resolved wrong extractor: %q", res.DocumentType)
	}
}
