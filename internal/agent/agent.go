// Package agent defines how the dashboard talks to the scan and publish agents.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/TobiSchelling/threadpilot/internal/config"
	"github.com/TobiSchelling/threadpilot/internal/model"
)

// Caller invokes a named agent with a free-text message.
//
// A transport failure is returned as an error. An agent that was reached but
// reported failure yields a Result with Success set to false.
type Caller interface {
	Call(ctx context.Context, message, agentID string) (*Result, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, message, agentID string) (*Result, error)

func (f CallerFunc) Call(ctx context.Context, message, agentID string) (*Result, error) {
	return f(ctx, message, agentID)
}

// Result is the reply of one agent invocation. Response is arbitrary decoded
// JSON (or a plain string) and is searched with the envelope package. Raw
// holds the whole decoded top-level body when the gateway returned an object.
type Result struct {
	Success  bool           `json:"success"`
	Response any            `json:"response"`
	Error    string         `json:"error,omitempty"`
	Raw      map[string]any `json:"-"`
}

// Envelope returns the result as the top-level object the extractor expects:
// the raw body with success, response and error overlaid.
func (r *Result) Envelope() map[string]any {
	if r == nil {
		return nil
	}
	env := make(map[string]any, len(r.Raw)+3)
	for k, v := range r.Raw {
		env[k] = v
	}
	env["success"] = r.Success
	env["response"] = r.Response
	env["error"] = r.Error
	return env
}

const (
	scanIntro = "Run the content scan pipeline with these settings:"
	scanOutro = "Fetch news and research papers, score each item for relevance, drop anything below " +
		"relevance_threshold, classify the rest and draft at most max_threads_per_scan threads in the " +
		"requested style. Separate the posts of a thread with a line containing ---. Reply with a JSON " +
		"object carrying pipeline_status, scanned_items and thread_drafts."
	noneValue = "none"
)

// ScanMessage renders the scan request sent to the scan agent.
func ScanMessage(s config.Settings) string {
	var b strings.Builder
	b.WriteString(scanIntro)
	b.WriteString("\n")
	line := func(key, value string) {
		fmt.Fprintf(&b, "- %s: %s\n", key, value)
	}
	line("relevance_threshold", strconv.Itoa(s.RelevanceThreshold))
	line("categories", joinList(s.Categories))
	line("sources", joinList(s.Sources))
	line("auto_approve_threshold", strconv.Itoa(s.AutoApproveThreshold))
	line("max_threads_per_scan", strconv.Itoa(s.MaxThreadsPerScan))
	line("thread_style", s.ThreadStyle)
	line("blocked_domains", joinList(s.BlockedDomains))
	b.WriteString("\n")
	b.WriteString(scanOutro)
	return b.String()
}

// ParseScanRequest recovers the settings embedded by ScanMessage. Keys that
// are absent keep their defaults.
func ParseScanRequest(message string) (config.Settings, error) {
	s := config.DefaultSettings()
	if !strings.Contains(message, scanIntro) {
		return s, fmt.Errorf("not a scan request")
	}

	for _, raw := range strings.Split(message, "\n") {
		key, value, ok := strings.Cut(strings.TrimPrefix(strings.TrimSpace(raw), "- "), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		var err error
		switch strings.TrimSpace(key) {
		case "relevance_threshold":
			s.RelevanceThreshold, err = strconv.Atoi(value)
		case "categories":
			s.Categories = splitList(value)
		case "sources":
			s.Sources = splitList(value)
		case "auto_approve_threshold":
			s.AutoApproveThreshold, err = strconv.Atoi(value)
		case "max_threads_per_scan":
			s.MaxThreadsPerScan, err = strconv.Atoi(value)
		case "thread_style":
			s.ThreadStyle = value
		case "blocked_domains":
			s.BlockedDomains = splitList(value)
		}
		if err != nil {
			return s, fmt.Errorf("parsing %s: %w", key, err)
		}
	}
	return s, nil
}

func joinList(items []string) string {
	if len(items) == 0 {
		return noneValue
	}
	return strings.Join(items, ", ")
}

func splitList(value string) []string {
	out := []string{}
	if value == noneValue {
		return out
	}
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PublishRequest is what a publish agent needs to post a draft.
type PublishRequest struct {
	DraftID string
	Tags    string
	Body    string
}

// Segments splits the body into individual posts.
func (p PublishRequest) Segments() []string {
	return model.Draft{Body: p.Body}.Segments()
}

const (
	publishIntro  = "Publish the following draft as a thread. Post each segment separated by a line " +
		"containing --- in order, then reply with a JSON object carrying publish_status, post_url and posted_at."
	draftPrefix   = "Draft: "
	tagsPrefix    = "Tags: "
	threadDivider = "\nThread:\n"
)

// PublishMessage renders the publish request for a draft. The body and tags
// are embedded verbatim.
func PublishMessage(d model.Draft) string {
	var b strings.Builder
	b.WriteString(publishIntro)
	b.WriteString("\n")
	b.WriteString(draftPrefix + d.ID + "\n")
	b.WriteString(tagsPrefix + strings.ReplaceAll(d.Tags, "\n", " ") + "\n")
	b.WriteString(threadDivider)
	b.WriteString(d.Body)
	return b.String()
}

// ParsePublishRequest recovers the draft embedded by PublishMessage.
func ParsePublishRequest(message string) (PublishRequest, error) {
	header, body, ok := strings.Cut(message, threadDivider)
	if !ok {
		return PublishRequest{}, fmt.Errorf("not a publish request: missing thread body")
	}
	req := PublishRequest{Body: body}
	for _, line := range strings.Split(header, "\n") {
		switch {
		case strings.HasPrefix(line, draftPrefix):
			req.DraftID = strings.TrimPrefix(line, draftPrefix)
		case strings.HasPrefix(line, tagsPrefix):
			req.Tags = strings.TrimPrefix(line, tagsPrefix)
		}
	}
	return req, nil
}
