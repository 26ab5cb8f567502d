package aggregate

import (
	"encoding/json"
	"strings"
)

// ExtractJSON attempts structured-data extraction from narrative text.
//
// The upstream model is not contractually bound to emit pure JSON — it may
// wrap it in prose or markdown fencing. Extraction therefore runs in tiers:
//
//  1. Parse the entire text as one JSON object.
//  2. Search for a ```json fenced block and parse its inner content.
//  3. Give up; the caller falls back to the raw text.
//
// A miss at every tier is an expected, common case, not a fault: ok is
// false and the returned value is nil.
func ExtractJSON(text string) (parsed any, ok bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v, true
	}

	inner, found := fencedBlock(trimmed)
	if !found {
		return nil, false
	}
	if err := json.Unmarshal([]byte(inner), &v); err != nil {
		return nil, false
	}
	return v, true
}

// fencedBlock returns the content of the first ```json fenced block in text.
func fencedBlock(text string) (string, bool) {
	const open = "```json"
	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(open):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
