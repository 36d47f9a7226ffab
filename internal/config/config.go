package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Settings Settings `yaml:"settings"`
	Agents   Agents   `yaml:"agents"`
	Scan     Scan     `yaml:"scan"`
	Publish  Publish  `yaml:"publish"`
	Sources  Sources  `yaml:"sources"`
	LLM      LLM      `yaml:"llm"`
	Telegram Telegram `yaml:"telegram"`
	Ledger   Ledger   `yaml:"ledger"`
	Archive  Archive  `yaml:"archive"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

// Settings are the user-tunable knobs sent to the scan agent. List entries
// may not contain commas, which separate them in the scan message.
type Settings struct {
	RelevanceThreshold   int      `yaml:"relevance_threshold" json:"relevance_threshold" validate:"min=0,max=100"`
	Categories           []string `yaml:"categories" json:"categories" validate:"dive,required,excludesall=0x2C"`
	Sources              []string `yaml:"sources" json:"sources" validate:"dive,oneof=news papers"`
	AutoApproveThreshold int      `yaml:"auto_approve_threshold" json:"auto_approve_threshold" validate:"min=0,max=100"`
	MaxThreadsPerScan    int      `yaml:"max_threads_per_scan" json:"max_threads_per_scan" validate:"min=1,max=50"`
	ThreadStyle          string   `yaml:"thread_style" json:"thread_style" validate:"oneof=educational conversational technical news"`
	BlockedDomains       []string `yaml:"blocked_domains" json:"blocked_domains" validate:"dive,excludesall=0x2C"`
}

// HasSource reports whether the named source is enabled. An empty list
// enables every source.
func (s Settings) HasSource(name string) bool {
	if len(s.Sources) == 0 {
		return true
	}
	for _, src := range s.Sources {
		if strings.EqualFold(src, name) {
			return true
		}
	}
	return false
}

// Blocked reports whether host is one of the blocked domains or a subdomain
// of one.
func (s Settings) Blocked(host string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, d := range s.BlockedDomains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "www."))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

type Agents struct {
	Mode         string `yaml:"mode" validate:"oneof=local http"`
	BaseURL      string `yaml:"base_url" validate:"required_if=Mode http"`
	TokenEnv     string `yaml:"token_env"`
	ScanAgent    string `yaml:"scan_agent" validate:"required"`
	PublishAgent string `yaml:"publish_agent" validate:"required"`
	TimeoutSecs  int    `yaml:"timeout_seconds" validate:"min=1"`
}

// Timeout returns the per-call agent timeout.
func (a Agents) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

type Scan struct {
	// Delays after scan start at which the progress indicator advances to
	// steps 2, 3 and 4.
	StepDelays []time.Duration `yaml:"step_delays"`
}

type Publish struct {
	KeywordFallback      bool     `yaml:"keyword_fallback"`
	ConfirmationKeywords []string `yaml:"confirmation_keywords"`
	RejectionKeywords    []string `yaml:"rejection_keywords"`
}

type Sources struct {
	Feeds []Feed     `yaml:"feeds" validate:"dive"`
	APIs  APIsConfig `yaml:"apis"`
	Arxiv Arxiv      `yaml:"arxiv"`
}

type Feed struct {
	URL  string `yaml:"url" validate:"required,url"`
	Name string `yaml:"name"`
}

type APIsConfig struct {
	NewsAPI NewsAPIConfig `yaml:"newsapi"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Query     string `yaml:"query"`
}

type Arxiv struct {
	Enabled    bool     `yaml:"enabled"`
	BaseURL    string   `yaml:"base_url"`
	Categories []string `yaml:"categories"`
	MaxResults int      `yaml:"max_results"`
}

type LLM struct {
	Provider    string `yaml:"provider" validate:"oneof=ollama openai"`
	Model       string `yaml:"model"`
	OllamaURL   string `yaml:"ollama_url"`
	OpenAIModel string `yaml:"openai_model"`
	OpenAIURL   string `yaml:"openai_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens" validate:"min=1"`
}

type Telegram struct {
	BotTokenEnv string `yaml:"bot_token_env"`
	ChatID      string `yaml:"chat_id"`
	BaseURL     string `yaml:"base_url"`
}

type Ledger struct {
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
	TTLDays   int    `yaml:"ttl_days"`
}

type Archive struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket" validate:"required_if=Enabled true"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ConfigDir returns the XDG config directory for threadpilot.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "threadpilot")
}

// DataDir returns the XDG data directory for threadpilot.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "threadpilot")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/threadpilot/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'threadpilot init' to create a default config",
		xdgConfig,
	)
}

// LoadEnv loads .env files from the working directory and the config
// directory. Values already in the environment win; missing files are fine.
func LoadEnv() error {
	for _, path := range []string{".env", filepath.Join(ConfigDir(), ".env")} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// DefaultSettings returns the settings applied when none are configured.
func DefaultSettings() Settings {
	return defaults().Settings
}

func defaults() *Config {
	return &Config{
		Settings: Settings{
			RelevanceThreshold:   60,
			Categories:           []string{"ai", "software", "research"},
			Sources:              []string{"news", "papers"},
			AutoApproveThreshold: 80,
			MaxThreadsPerScan:    5,
			ThreadStyle:          "educational",
			BlockedDomains:       []string{},
		},
		Agents: Agents{
			Mode:         "local",
			TokenEnv:     "THREADPILOT_AGENT_TOKEN",
			ScanAgent:    "scan-pipeline",
			PublishAgent: "thread-publisher",
			TimeoutSecs:  600,
		},
		Scan: Scan{
			StepDelays: []time.Duration{3 * time.Second, 8 * time.Second, 15 * time.Second},
		},
		Publish: Publish{
			KeywordFallback:      true,
			ConfirmationKeywords: []string{"posted", "tweet", "success"},
		},
		Sources: Sources{
			APIs: APIsConfig{
				NewsAPI: NewsAPIConfig{
					Enabled:   true,
					APIKeyEnv: "NEWSAPI_KEY",
					Query:     "artificial intelligence software development",
				},
			},
			Arxiv: Arxiv{
				Enabled:    true,
				BaseURL:    "https://arxiv.org",
				Categories: []string{"cs.AI"},
				MaxResults: 25,
			},
		},
		LLM: LLM{
			Provider:    "ollama",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			OpenAIURL:   "https://api.openai.com/v1",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   2048,
		},
		Telegram: Telegram{
			BotTokenEnv: "TELEGRAM_BOT_TOKEN",
			BaseURL:     "https://api.telegram.org",
		},
		Ledger: Ledger{
			KeyPrefix: "threadpilot:posted:",
			TTLDays:   30,
		},
		Archive: Archive{
			Region:       "auto",
			Prefix:       "scans/",
			AccessKeyEnv: "ARCHIVE_ACCESS_KEY_ID",
			SecretKeyEnv: "ARCHIVE_SECRET_ACCESS_KEY",
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO", Pretty: true},
	}
}

// parse parses YAML bytes into a Config, applying defaults first so that
// missing keys keep their default values.
func parse(data []byte) (*Config, error) {
	cfg := defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "threadpilot.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
