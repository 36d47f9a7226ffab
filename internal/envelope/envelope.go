// Package envelope locates structured payloads inside loosely shaped agent replies.
//
// Upstream agents answer with arbitrary JSON: the object we care about may sit
// under any number of wrapper keys, or be encoded as a JSON string inside a text
// field. Extraction is a bounded search that returns nil when nothing matches.
package envelope

import (
	"encoding/json"
	"strings"
)

// MaxDepth bounds the recursive search.
const MaxDepth = 6

// WrapperKeys are probed in this order when a map does not carry a marker.
var WrapperKeys = []string{"result", "response", "data", "output", "content", "message", "text", "raw"}

// Matches reports whether candidate carries at least one of the marker keys.
func Matches(candidate map[string]any, markers ...string) bool {
	if candidate == nil {
		return false
	}
	for _, m := range markers {
		if _, ok := candidate[m]; ok {
			return true
		}
	}
	return false
}

// Extract returns the first object reachable from value that carries one of the
// markers, or nil. Arrays are never searched.
func Extract(value any, markers ...string) map[string]any {
	if len(markers) == 0 {
		return nil
	}
	return extract(value, markers, 0)
}

func extract(value any, markers []string, depth int) map[string]any {
	if depth > MaxDepth {
		return nil
	}

	switch v := value.(type) {
	case string:
		parsed, ok := parseJSON(v)
		if !ok {
			return nil
		}
		return extract(parsed, markers, depth+1)
	case map[string]any:
		if Matches(v, markers...) {
			return v
		}
		for _, key := range WrapperKeys {
			inner, ok := v[key]
			if !ok {
				continue
			}
			if found := extract(inner, markers, depth+1); found != nil {
				return found
			}
		}
	}
	return nil
}

// Locate applies the call-site resolution order to a whole call result
// (success/response/error). The first non-nil outcome wins:
// the primary result object, a search within it, the response envelope,
// the raw-text fallback fields, and finally the entire top-level object.
func Locate(top map[string]any, markers ...string) map[string]any {
	if top == nil || len(markers) == 0 {
		return nil
	}

	response := top["response"]
	respMap, _ := response.(map[string]any)

	var primary any
	if respMap != nil {
		primary = respMap["result"]
	}
	if m, ok := primary.(map[string]any); ok && Matches(m, markers...) {
		return m
	}

	candidates := []any{primary, response}
	if respMap != nil {
		candidates = append(candidates, respMap["raw_text"])
	}
	candidates = append(candidates, top["raw_text"], top)

	for _, c := range candidates {
		if c == nil {
			continue
		}
		if found := Extract(c, markers...); found != nil {
			return found
		}
	}
	return nil
}

// parseJSON decodes a string that holds JSON, tolerating a surrounding
// markdown code fence.
func parseJSON(text string) (any, bool) {
	text = stripCodeFence(strings.TrimSpace(text))
	if text == "" {
		return nil, false
	}
	switch text[0] {
	case '{', '[', '"':
	default:
		return nil, false
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
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

// DecodeObject parses text as a JSON object, tolerating a surrounding code
// fence. Anything else yields nil.
func DecodeObject(text string) map[string]any {
	parsed, ok := parseJSON(text)
	if !ok {
		return nil
	}
	obj, _ := parsed.(map[string]any)
	return obj
}
