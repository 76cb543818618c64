package pipeline

import (
	"encoding/json"
	"strings"
)

// ParseEnvelope extracts the structured envelope from raw model output. The
// text may frame a single JSON object with prose; the first balanced {...}
// span is decoded strictly. Any decoding failure, missing action/response or
// unrecognized action tag yields nil, never an error: malformed model output
// degrades to a raw-text reply instead of crashing the pipeline.
func ParseEnvelope(raw string) *Envelope {
	span, ok := firstJSONObject(raw)
	if !ok {
		return nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(span), &env); err != nil {
		return nil
	}
	if !validAction(env.Action) || env.Response == "" {
		return nil
	}
	return &env
}

// firstJSONObject returns the first balanced top-level {...} span in s,
// skipping braces inside JSON string literals.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
