package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Text returns the free text an agent answered with: the first non-empty
// string reachable through the wrapper keys, or a compact JSON rendering of
// value when there is none.
func Text(value any) string {
	if s := FreeText(value); s != "" {
		return s
	}
	if value == nil {
		return ""
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}

// FreeText is Text without the JSON rendering: it returns "" when no string
// is reachable through the wrapper keys.
func FreeText(value any) string {
	return text(value, 0)
}

func text(value any, depth int) string {
	if depth > MaxDepth {
		return ""
	}

	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if parsed, ok := parseJSON(s); ok {
			if inner := text(parsed, depth+1); inner != "" {
				return inner
			}
		}
		return s
	case map[string]any:
		for _, key := range WrapperKeys {
			if inner := text(v[key], depth+1); inner != "" {
				return inner
			}
		}
	}
	return ""
}

// Excerpt caps s at limit runes, marking the cut with an ellipsis.
func Excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
