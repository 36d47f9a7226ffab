package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/TobiSchelling/threadpilot/internal/config"
)

func TestParseJSONResponsePlain(t *testing.T) {
	result := ParseJSONResponse(`{"key": "value", "num": 42}`)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
	if result["num"] != float64(42) {
		t.Errorf("expected num=42, got %v", result["num"])
	}
}

func TestParseJSONResponseWithCodeFence(t *testing.T) {
	text := "```json\n{\"key\": \"value\"}\n```"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONResponseWithPlainFence(t *testing.T) {
	text := "```\n{\"key\": \"value\"}\n```"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONResponseInvalid(t *testing.T) {
	result := ParseJSONResponse("not json at all")
	if result != nil {
		t.Error("expected nil for invalid JSON")
	}
}

func TestParseJSONResponseEmpty(t *testing.T) {
	result := ParseJSONResponse("")
	if result != nil {
		t.Error("expected nil for empty string")
	}
}

func TestParseJSONResponseWhitespace(t *testing.T) {
	result := ParseJSONResponse("  \n  {\"key\": \"value\"}  \n  ")
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONResponseWithChatter(t *testing.T) {
	result := ParseJSONResponse("Sure, here you go:\n{\"key\": \"value\"}\nLet me know!")
	if result == nil || result["key"] != "value" {
		t.Errorf("expected object inside chatter, got %v", result)
	}
}

func TestParseJSONResponseMarkers(t *testing.T) {
	wrapped := `{"result": {"relevance_score": 80, "reason": "r"}}`
	result := ParseJSONResponse(wrapped, "relevance_score")
	if result == nil || result["relevance_score"] != float64(80) {
		t.Errorf("expected unwrapped object, got %v", result)
	}

	if got := ParseJSONResponse(`{"other": 1}`, "relevance_score"); got != nil {
		t.Errorf("expected nil without marker, got %v", got)
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"qwen2.5:7b"}]}`)
		case "/api/chat":
			var body struct {
				Model    string        `json:"model"`
				Messages []chatMessage `json:"messages"`
				Stream   bool          `json:"stream"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode: %v", err)
			}
			if body.Model != "qwen2.5:7b" || body.Stream || body.Messages[0].Content != "hi" {
				t.Errorf("unexpected request %+v", body)
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"message":{"role":"assistant","content":"hello"}}`)
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL+"/")
	if !p.IsConfigured() {
		t.Fatal("expected model to be found")
	}
	out, err := p.Generate(context.Background(), "hi", 64)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello" {
		t.Errorf("expected hello, got %q", out)
	}
}

func TestOllamaMissingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b"}]}`)
	}))
	defer srv.Close()

	if NewOllamaProvider("qwen2.5:7b", srv.URL).IsConfigured() {
		t.Error("expected missing model to be unconfigured")
	}
}

func TestOllamaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider("m", srv.URL).Generate(context.Background(), "hi", 10)
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"done"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("gpt-4o-mini", srv.URL+"/v1", "TEST_OPENAI_KEY")
	out, err := p.Generate(context.Background(), "hi", 10)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "done" {
		t.Errorf("expected done, got %q", out)
	}
}

func TestOpenAINoChoices(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider("m", srv.URL, "TEST_OPENAI_KEY").Generate(context.Background(), "hi", 10)
	if err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestOpenAIUnconfigured(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "")
	p := NewOpenAIProvider("m", "", "TEST_OPENAI_KEY")
	if p.IsConfigured() {
		t.Error("expected unconfigured")
	}
	if _, err := p.Generate(context.Background(), "hi", 10); err == nil {
		t.Error("expected error without key")
	}
}

func TestCreateProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"qwen2.5:7b"}]}`)
	}))
	defer srv.Close()

	cfg := config.Default().LLM
	cfg.OllamaURL = srv.URL
	if _, ok := CreateProvider(cfg).(*OllamaProvider); !ok {
		t.Error("expected Ollama provider")
	}

	t.Setenv("TEST_OPENAI_KEY", "sk")
	cfg.OllamaURL = "http://127.0.0.1:1"
	cfg.APIKeyEnv = "TEST_OPENAI_KEY"
	if _, ok := CreateProvider(cfg).(*OpenAIProvider); !ok {
		t.Error("expected OpenAI fallback")
	}

	t.Setenv("TEST_OPENAI_KEY", "")
	if p := CreateProvider(cfg); p != nil {
		t.Errorf("expected no provider, got %T", p)
	}
}
