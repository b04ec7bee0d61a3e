package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSONObject means the reply did not contain a JSON object.
var ErrNoJSONObject = errors.New("ai: no json object in response")

// ExtractJSON decodes the outermost {...} object found in a model reply into dst. Markdown
// code fences and surrounding prose are ignored.
func ExtractJSON(text string, dst interface{}) error {
	cleaned := stripFences(text)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return ErrNoJSONObject
	}
	return json.Unmarshal([]byte(cleaned[start:end+1]), dst)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
