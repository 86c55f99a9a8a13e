package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/policy-query-engine/internal/core/domain"
)

const (
	paragraphSeparator = "\n\n"
	sentenceSeparator  = " "
)

type Options struct {
	BaseSize   int
	Multiplier float64
	MaxSizeCap int
	MinSize    int
	Overlap    int
}

// Splitter greedily packs paragraphs into chunks of at most MaxSize runes,
// carrying Overlap trailing runes of each emitted chunk into the next one.
type Splitter struct {
	MaxSize int
	MinSize int
	Overlap int
}

func NewSplitter(opts Options) *Splitter {
	base := opts.BaseSize
	if base <= 0 {
		base = 1024
	}
	multiplier := opts.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxSize := int(float64(base) * multiplier)
	if opts.MaxSizeCap > 0 && maxSize > opts.MaxSizeCap {
		maxSize = opts.MaxSizeCap
	}

	minSize := opts.MinSize
	if minSize < 1 {
		minSize = 1
	}
	if minSize > maxSize {
		minSize = maxSize / 2
	}

	overlap := opts.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxSize {
		overlap = maxSize / 4
	}

	return &Splitter{
		MaxSize: maxSize,
		MinSize: minSize,
		Overlap: overlap,
	}
}

type piece struct {
	text       string
	paragraphs int
}

func (s *Splitter) Split(text string, base domain.ChunkMetadata) []domain.DocumentChunk {
	normalized := normalizeWhitespace(text)
	if normalized == "" {
		return nil
	}

	units, sep := s.units(normalized)
	pieces := make([]piece, 0, len(units))

	buf, fresh, count := "", "", 0
	for _, unit := range units {
		if buf == "" {
			buf, fresh, count = unit, unit, 1
			continue
		}

		candidate := buf + sep + unit
		if runeLen(candidate) <= s.MaxSize {
			buf = candidate
			fresh = fresh + sep + unit
			count++
			continue
		}

		// A buffer below MinSize takes the head of unit up to MaxSize.
		if runeLen(buf) < s.MinSize {
			head, rest := cutRunes(unit, s.MaxSize-runeLen(buf)-runeLen(sep))
			if head != "" {
				buf = buf + sep + head
				fresh = fresh + sep + head
				count++
				if rest == "" {
					continue
				}
				unit = rest
			}
		}

		pieces = append(pieces, piece{text: buf, paragraphs: count})
		tail := s.overlapTail(buf)
		if tail != "" && runeLen(tail)+len(sep)+runeLen(unit) <= s.MaxSize {
			buf = tail + sep + unit
		} else {
			buf = unit
		}
		fresh, count = unit, 1
	}

	if buf != "" {
		switch {
		case runeLen(buf) >= s.MinSize:
			pieces = append(pieces, piece{text: buf, paragraphs: count})
		case len(pieces) > 0:
			last := &pieces[len(pieces)-1]
			merged := last.text + sep + fresh
			if runeLen(merged) <= s.MaxSize {
				last.text = merged
				last.paragraphs += count
				break
			}
			window := min(s.MinSize, s.MaxSize-runeLen(sep))
			pieces = append(pieces, piece{text: trailingWindow(merged, window), paragraphs: count})
		}
	}

	out := make([]domain.DocumentChunk, 0, len(pieces))
	for _, p := range pieces {
		chunkText := strings.TrimSpace(p.text)
		if chunkText == "" {
			continue
		}
		meta := base
		meta.ChunkIndex = len(out)
		meta.ChunkSize = runeLen(chunkText)
		meta.ParagraphCount = p.paragraphs
		out = append(out, domain.DocumentChunk{Text: chunkText, Metadata: meta})
	}
	return out
}

// units returns paragraphs, or sentences when the text has no paragraph
// breaks, with oversized units pre-split to fit MaxSize.
func (s *Splitter) units(normalized string) ([]string, string) {
	sep := paragraphSeparator
	raw := strings.Split(normalized, paragraphSeparator)
	if len(raw) == 1 {
		raw = splitSentences(normalized)
		sep = sentenceSeparator
	}

	out := make([]string, 0, len(raw))
	for _, unit := range raw {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		if runeLen(unit) <= s.MaxSize {
			out = append(out, unit)
			continue
		}
		out = append(out, s.splitOversized(unit)...)
	}
	return out, sep
}

func (s *Splitter) splitOversized(unit string) []string {
	var out []string
	current := ""
	for _, sentence := range splitSentences(unit) {
		for _, part := range hardCut(sentence, s.MaxSize) {
			if current == "" {
				current = part
				continue
			}
			if runeLen(current)+1+runeLen(part) <= s.MaxSize {
				current = current + sentenceSeparator + part
				continue
			}
			out = append(out, current)
			current = part
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func (s *Splitter) overlapTail(text string) string {
	if s.Overlap <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= s.Overlap {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(string(runes[len(runes)-s.Overlap:]))
}

// cutRunes splits text after at most n runes, preferring the last space in
// the second half of the window.
func cutRunes(text string, n int) (string, string) {
	if n <= 0 {
		return "", text
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text, ""
	}
	cut := n
	for i := n; i > n/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut])), strings.TrimSpace(string(runes[cut:]))
}

// trailingWindow returns the last n runes of text, widened so it does not
// start on whitespace.
func trailingWindow(text string, n int) string {
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return strings.TrimSpace(text)
	}
	start := len(runes) - n
	for start > 0 && unicode.IsSpace(runes[start]) {
		start--
	}
	return strings.TrimSpace(string(runes[start:]))
}

func splitSentences(text string) []string {
	parts := strings.SplitAfter(text, ". ")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hardCut(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeWhitespace collapses runs of blanks inside lines and reduces any
// run of empty lines to a single paragraph break.
func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var paragraphs []string
	var lines []string
	flush := func() {
		if len(lines) > 0 {
			paragraphs = append(paragraphs, strings.Join(lines, "\n"))
			lines = lines[:0]
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return strings.Join(paragraphs, paragraphSeparator)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
