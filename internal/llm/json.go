package llm

import (
	"strings"

	"github.com/TobiSchelling/threadpilot/internal/envelope"
	"github.com/TobiSchelling/threadpilot/internal/logging"
)

// ParseJSONResponse decodes the JSON object a model answered with. Code
// fences and chatter around the outermost braces are tolerated. With markers,
// the object carrying one of them is searched for through the envelope
// wrapper keys, so replies like {"result": {...}} are accepted.
func ParseJSONResponse(text string, markers ...string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	candidates := []string{text}
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i > 0 && j > i {
		candidates = append(candidates, text[i:j+1])
	}

	for _, c := range candidates {
		obj := envelope.DecodeObject(c)
		if obj == nil {
			continue
		}
		if len(markers) == 0 {
			return obj
		}
		if found := envelope.Extract(obj, markers...); found != nil {
			return found
		}
	}

	log := logging.With("llm")
	log.Debug().Int("length", len(text)).Strs("markers", markers).Msg("no usable JSON object in LLM response")
	return nil
}
