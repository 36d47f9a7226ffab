package localagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/TobiSchelling/threadpilot/internal/llm"
	"github.com/TobiSchelling/threadpilot/internal/model"
)

const draftPrompt = `You are writing a social media thread for people who build software.

Style: %s

Item (%s, relevance %d/100):
Title: %s
Link: %s
Content:
%s

Write at most %d short posts of under 280 characters each. The first post is the hook and must make people want to read on. Do not invent facts that are not in the content.

Respond with ONLY this JSON:
{
    "title": "Short internal title for the thread",
    "posts": ["First post (the hook)", "Second post", "Last post with the link"],
    "tags": "#tag1 #tag2",
    "requires_review": true or false,
    "review_reason": "Why a human should check this before posting, or empty"
}

Set requires_review to true for claims you are unsure about, sensitive topics, or anything that names a person.`

const maxPosts = 6

var styleGuides = map[string]string{
	"educational":    "Educational. Explain the idea step by step, define jargon and end with a takeaway.",
	"conversational": "Conversational. Write like you are telling a colleague about something cool you just read.",
	"technical":      "Technical. Assume an expert audience, be precise and include specifics.",
	"news":           "News. Lead with what happened, then why it matters, neutral tone.",
}

type drafter struct {
	provider llm.Provider
	style    string
}

// draft asks the LLM for a thread about c. It returns false when the reply
// carries no usable posts.
func (d *drafter) draft(ctx context.Context, c candidate) (model.Draft, bool, error) {
	guide, ok := styleGuides[d.style]
	if !ok {
		guide = styleGuides["educational"]
	}
	content := c.text
	if len(content) > maxPromptContent {
		content = content[:maxPromptContent] + "..."
	}

	prompt := fmt.Sprintf(draftPrompt, guide, c.kind, c.score, c.title, c.url, content, maxPosts)
	responseText, err := d.provider.Generate(ctx, prompt, 1024)
	if err != nil {
		return model.Draft{}, false, err
	}

	parsed := llm.ParseJSONResponse(responseText, "posts")
	if parsed == nil {
		return model.Draft{}, false, nil
	}

	var posts []string
	if raw, ok := parsed["posts"].([]any); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok && strings.TrimSpace(s) != "" {
				posts = append(posts, strings.TrimSpace(s))
			}
		}
	}
	if len(posts) == 0 {
		return model.Draft{}, false, nil
	}
	if len(posts) > maxPosts {
		posts = posts[:maxPosts]
	}

	title := getString(parsed, "title", "")
	if title == "" {
		title = c.title
	}

	return model.Draft{
		Title:          title,
		Classification: c.classification,
		Body:           strings.Join(posts, "\n"+model.SegmentSeparator+"\n"),
		RequiresReview: getBool(parsed, "requires_review"),
		ReviewReason:   getString(parsed, "review_reason", ""),
		RelevanceScore: c.score,
		SourceURL:      c.url,
		Hook:           posts[0],
		Tags:           strings.TrimSpace(getString(parsed, "tags", "")),
	}, true, nil
}
