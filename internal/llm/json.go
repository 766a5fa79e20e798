package llm

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// StripCodeFences removes a leading ```lang line and a trailing ``` line.
// Applying it twice gives the same result as applying it once.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) == 1 {
		return strings.TrimSpace(strings.Trim(text, "`"))
	}
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// ExtractObject returns the first balanced {...} span in text. Braces inside
// JSON strings, including escaped quotes, are ignored.
func ExtractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse parses a JSON object from an LLM response, tolerating
// code fences and prose around the object. It returns nil when no object decodes.
func ParseJSONResponse(text string) map[string]any {
	text = StripCodeFences(text)
	if text == "" {
		return nil
	}

	span, ok := ExtractObject(text)
	if !ok {
		slog.Debug("no JSON object in LLM response")
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(span), &result); err != nil {
		slog.Debug("failed to parse LLM response as JSON", "error", err)
		return nil
	}
	return result
}
