package tokens

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Counter counts tokens with a tiktoken encoding. When the encoding cannot
// be loaded it estimates four characters per token.
type Counter struct {
	enc *tiktoken.Tiktoken
}

func NewCounter(encoding string) *Counter {
	if strings.TrimSpace(encoding) == "" {
		encoding = defaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		enc, err = tiktoken.EncodingForModel(encoding)
	}
	if err != nil {
		slog.Warn("token_encoding_unavailable", "encoding", encoding, "error", err)
		return &Counter{}
	}
	return &Counter{enc: enc}
}

func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.enc == nil {
		return approximate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

func approximate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
