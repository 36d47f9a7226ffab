package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/TobiSchelling/threadpilot/internal/config"
	"github.com/TobiSchelling/threadpilot/internal/logging"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model  string
	client *resty.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model: model,
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(120 * time.Second),
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	resp, err := o.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&result).
		Get("/api/tags")
	if err != nil || resp.IsError() {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	log := logging.With("llm")
	log.Warn().Str("model", o.Model).Msg("Ollama model not found")
	return false
}

// Generate sends a prompt to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model":    o.Model,
		"messages": []chatMessage{{Role: "user", Content: prompt}},
		"stream":   false,
		"options": map[string]any{
			"num_predict": maxTokens,
			"temperature": 0.3,
		},
	}

	var result struct {
		Message chatMessage `json:"message"`
	}
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&result).
		Post("/api/chat")
	if err != nil {
		return "", fmt.Errorf("ollama API error: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ollama API returned %d: %s", resp.StatusCode(), resp.String())
	}

	return result.Message.Content, nil
}

// OpenAIProvider is an OpenAI-compatible chat completions provider.
type OpenAIProvider struct {
	Model  string
	APIKey string
	client *resty.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(model, baseURL, apiKeyEnv string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		Model:  model,
		APIKey: os.Getenv(apiKeyEnv),
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(120 * time.Second),
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt to OpenAI and returns the response.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	body := map[string]any{
		"model":       o.Model,
		"messages":    []chatMessage{{Role: "user", Content: prompt}},
		"max_tokens":  maxTokens,
		"temperature": 0.3,
	}

	var result struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	resp, err := o.client.R().
		SetContext(ctx).
		SetAuthToken(o.APIKey).
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("OpenAI API returned %d: %s", resp.StatusCode(), resp.String())
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	return result.Choices[0].Message.Content, nil
}

// CreateProvider creates an LLM provider based on configuration, falling back
// from Ollama to OpenAI. Returns nil when neither is usable.
func CreateProvider(cfg config.LLM) Provider {
	log := logging.With("llm")
	if strings.ToLower(cfg.Provider) == "ollama" {
		p := NewOllamaProvider(cfg.Model, cfg.OllamaURL)
		if p.IsConfigured() {
			log.Info().Str("model", cfg.Model).Msg("using Ollama")
			return p
		}
		log.Warn().Msg("Ollama not available, trying OpenAI fallback")
	}

	p := NewOpenAIProvider(cfg.OpenAIModel, cfg.OpenAIURL, cfg.APIKeyEnv)
	if p.IsConfigured() {
		log.Info().Str("model", cfg.OpenAIModel).Msg("using OpenAI")
		return p
	}

	log.Error().Msgf("no LLM provider available; check Ollama is running or set %s", cfg.APIKeyEnv)
	return nil
}
