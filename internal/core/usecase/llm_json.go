package usecase

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSON = errors.New("no json value in model output")

// extractJSON returns the first complete JSON object or array in raw,
// ignoring markdown fences and surrounding prose.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errNoJSON
	}
	if json.Valid([]byte(s)) {
		return s, nil
	}

	for start := 0; start < len(s); start++ {
		if s[start] != '{' && s[start] != '[' {
			continue
		}
		if end := matchingClose(s, start); end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}
	return "", errNoJSON
}

// matchingClose finds the bracket closing s[start], skipping string literals.
func matchingClose(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func decodeModelJSON(raw string, out any) error {
	payload, err := extractJSON(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), out)
}

// decodeList accepts either a bare array or an object wrapping the array
// under key.
func decodeList[T any](raw, key string) ([]T, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(payload, "[") {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal([]byte(payload), &wrapped); err != nil {
			return nil, err
		}
		inner, ok := wrapped[key]
		if !ok {
			return nil, errNoJSON
		}
		payload = string(inner)
	}
	var list []T
	if err := json.Unmarshal([]byte(payload), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func decodeStringList(raw, key string) ([]string, error) { return decodeList[string](raw, key) }

func decodeIntList(raw, key string) ([]int, error) { return decodeList[int](raw, key) }
