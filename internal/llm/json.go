package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no parseable JSON object can be located in a
// model response. This is the dominant bad-output failure mode and must stay
// explicit rather than being coerced to empty results.
var ErrNoJSON = errors.New("no valid JSON found in model output")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls a JSON document out of raw model output. It tries a raw
// parse first, then a fenced code block, then the first balanced {...} or
// [...] substring.
func ExtractJSON(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) && trimmed != "" {
		return json.RawMessage(trimmed), nil
	}

	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	if candidate := firstBalanced(raw); candidate != "" && json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	return nil, ErrNoJSON
}

// firstBalanced scans for the first balanced {...} or [...] substring,
// tracking string literals so braces inside them do not count.
func firstBalanced(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	var closeCh byte = '}'
	if open == '[' {
		closeCh = ']'
	}

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
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
