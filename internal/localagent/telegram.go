package localagent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/TobiSchelling/threadpilot/internal/config"
)

// Telegram posts threads to a chat through the Bot API. Each post after the
// first replies to the previous one.
type Telegram struct {
	client *resty.Client
	token  string
	chatID string
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int `json:"message_id"`
	} `json:"result"`
}

// NewTelegram reads the bot token from the environment variable named in cfg.
func NewTelegram(cfg config.Telegram) *Telegram {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &Telegram{
		client: resty.New().
			SetBaseURL(base).
			SetTimeout(30 * time.Second),
		token:  os.Getenv(cfg.BotTokenEnv),
		chatID: cfg.ChatID,
	}
}

// Configured reports whether both token and chat are set.
func (t *Telegram) Configured() bool {
	return t.token != "" && t.chatID != ""
}

// PostThread sends every segment in order and returns a link to the first
// message when the chat has a public address.
func (t *Telegram) PostThread(ctx context.Context, segments []string) (string, error) {
	if !t.Configured() {
		return "", fmt.Errorf("telegram is not configured")
	}
	if len(segments) == 0 {
		return "", fmt.Errorf("thread has no posts")
	}

	var first, prev int
	for i, text := range segments {
		id, err := t.send(ctx, text, prev)
		if err != nil {
			return "", fmt.Errorf("post %d of %d: %w", i+1, len(segments), err)
		}
		if i == 0 {
			first = id
		}
		prev = id
	}
	return t.messageLink(first), nil
}

func (t *Telegram) send(ctx context.Context, text string, replyTo int) (int, error) {
	body := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"disable_web_page_preview": replyTo != 0,
	}
	if replyTo != 0 {
		body["reply_to_message_id"] = replyTo
	}

	var out sendMessageResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetRawPathParam("token", t.token).
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&out).
		SetError(&out).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return 0, err
	}
	if resp.IsError() || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = resp.Status()
		}
		return 0, fmt.Errorf("telegram: %s", desc)
	}
	return out.Result.MessageID, nil
}

// messageLink builds a t.me link for public usernames and supergroup ids.
func (t *Telegram) messageLink(messageID int) string {
	switch {
	case strings.HasPrefix(t.chatID, "@"):
		return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(t.chatID, "@"), messageID)
	case strings.HasPrefix(t.chatID, "-100"):
		return fmt.Sprintf("https://t.me/c/%s/%d", strings.TrimPrefix(t.chatID, "-100"), messageID)
	default:
		return ""
	}
}
