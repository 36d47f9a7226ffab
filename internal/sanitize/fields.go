package sanitize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// getString returns the first string value stored under one of keys.
// Values of any other type are ignored.
func getString(m map[string]any, fallback string, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s
		}
	}
	return fallback
}

// getID returns an identifier stored as a string or as an integral number.
func getID(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if id := strings.TrimSpace(v); id != "" {
				return id
			}
		case float64:
			if v == math.Trunc(v) && !math.IsInf(v, 0) {
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return strconv.FormatInt(i, 10)
			}
		}
	}
	return ""
}

// getInt returns the first numeric value stored under one of keys. Strings are
// not parsed: a malformed numeric encoding falls back to the default.
func getInt(m map[string]any, fallback int, keys ...string) int {
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				continue
			}
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
			if f, err := n.Float64(); err == nil {
				return int(f)
			}
		}
	}
	return fallback
}

func getBool(m map[string]any, fallback bool, keys ...string) bool {
	for _, k := range keys {
		if b, ok := m[k].(bool); ok {
			return b
		}
	}
	return fallback
}

// getList returns the first array stored under one of keys.
func getList(m map[string]any, keys ...string) ([]any, bool) {
	for _, k := range keys {
		if arr, ok := m[k].([]any); ok {
			return arr, true
		}
	}
	return nil, false
}

// getStrings accepts either an array of strings or a single delimited string.
func getStrings(m map[string]any, sep string, keys ...string) []string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, el := range v {
				if s, ok := el.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
			return out
		case string:
			out := []string{}
			for _, part := range strings.Split(v, sep) {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
	}
	return []string{}
}
