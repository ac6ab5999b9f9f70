package prompt

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSONObject is returned when no candidate span parses as a JSON object.
var ErrNoJSONObject = errors.New("JSON not found in model response")

// ExtractJSONObject pulls a single JSON object out of free-form model output.
//
// Candidates are tried in order: the whole reply with code fences removed,
// the greedy span from the first '{' to the last '}', then every balanced
// '{...}' span (string aware) from left to right. The first candidate that
// decodes to a JSON object wins.
func ExtractJSONObject(text string) ([]byte, error) {
	cleaned := stripFences(strings.TrimSpace(text))
	if isObject(cleaned) {
		return []byte(cleaned), nil
	}

	first := strings.IndexByte(cleaned, '{')
	last := strings.LastIndexByte(cleaned, '}')
	if first < 0 || last <= first {
		return nil, ErrNoJSONObject
	}
	if span := cleaned[first : last+1]; isObject(span) {
		return []byte(span), nil
	}

	for i := first; i < len(cleaned); i++ {
		if cleaned[i] != '{' {
			continue
		}
		end := matchBrace(cleaned, i)
		if end < 0 {
			continue
		}
		if span := cleaned[i : end+1]; isObject(span) {
			return []byte(span), nil
		}
	}
	return nil, ErrNoJSONObject
}

func isObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &obj) == nil && obj != nil
}

// matchBrace returns the index of the '}' closing the '{' at start, or -1.
func matchBrace(s string, start int) int {
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
