package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// Regexes use \x60 for backticks because Go raw strings cannot contain
	// backticks.

	// jsonObjectRegex extracts a JSON object wrapped in a markdown fence.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array wrapped in a markdown fence.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ParseJSONResponse parses an LLM response into a target type. It tolerates
// the usual formatting habits: markdown fences around the payload and
// conversational text before or after it. Malformed payloads return an error,
// never a panic; callers decide whether to fall back to heuristics.
func ParseJSONResponse[T any](response string) (*T, error) {
	payload := ExtractJSONPayload(response)

	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("unmarshal LLM JSON response: %w (extracted: %s)", err, truncate(payload, 500))
	}
	return &result, nil
}

// ExtractJSONPayload returns the best JSON candidate inside an LLM response:
// the fenced block when present, otherwise the first balanced top-level
// object or array, otherwise the trimmed input unchanged.
func ExtractJSONPayload(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") {
		if m := jsonObjectRegex.FindStringSubmatch(response); len(m) > 1 {
			return m[1]
		}
		if m := jsonArrayRegex.FindStringSubmatch(response); len(m) > 1 {
			return m[1]
		}
	}

	if obj := firstBalanced(response, '{', '}'); obj != "" {
		return obj
	}
	if arr := firstBalanced(response, '[', ']'); arr != "" {
		return arr
	}
	return response
}

// firstBalanced scans for the first balanced open..close region, tracking
// JSON string literals and escapes so braces inside strings don't count.
func firstBalanced(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
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
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
