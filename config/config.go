// Package config provides configuration management for the relay.
// A Config is built once at startup (YAML file or environment), validated,
// and then treated as an immutable snapshot shared by every component.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teilomillet/relay/errors"
)

// Config represents the complete relay configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Telegram       TelegramConfig       `yaml:"telegram"`
	LLM            LLMConfig            `yaml:"llm"`
	Relay          RelayConfig          `yaml:"relay"`
	Queue          QueueConfig          `yaml:"queue"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Dedup          DedupConfig          `yaml:"dedup"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// ServerConfig holds settings for the inbound HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8000)
	Port int `yaml:"port" validate:"gte=0,lte=65535"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 10s)
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	// (default: 10s)
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes" validate:"gte=0"`

	// MaxBodyBytes caps the webhook body size. Larger bodies are treated as
	// malformed (default: 1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`

	// ShutdownTimeout bounds graceful shutdown, including draining queued
	// pipeline tasks (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// WebhookPath is the path Telegram posts updates to (default: /webhook)
	WebhookPath string `yaml:"webhook_path" validate:"required,startswith=/"`
}

// TelegramConfig holds settings for the chat delivery client.
type TelegramConfig struct {
	// BotToken authenticates calls to the Bot API. Falls back to the
	// TELEGRAM_BOT_TOKEN environment variable.
	BotToken string `yaml:"bot_token" validate:"required"`

	// BaseURL of the Bot API (default: https://api.telegram.org)
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// ParseMode is sent as parse_mode when set: HTML, Markdown or MarkdownV2
	ParseMode string `yaml:"parse_mode" validate:"omitempty,oneof=HTML Markdown MarkdownV2"`

	// DisableWebPagePreview suppresses link previews in replies
	DisableWebPagePreview bool `yaml:"disable_web_page_preview"`

	// Timeout bounds a single sendMessage call, retries included (default: 15s)
	Timeout time.Duration `yaml:"timeout" validate:"gt=0,lte=60s"`

	// SecretToken, when set, must match the X-Telegram-Bot-Api-Secret-Token
	// header of every webhook request
	SecretToken string `yaml:"secret_token"`

	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RetryConfig defines transport-level retries for Telegram calls.
type RetryConfig struct {
	// MaxAttempts counts the first try (default: 3)
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1,lte=10"`

	// InitialDelay is the delay before the first retry (default: 300ms)
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gt=0"`

	// MaxDelay caps the delay between retries (default: 3s)
	MaxDelay time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`

	// Multiplier grows the delay after each retry (default: 2)
	Multiplier float64 `yaml:"multiplier" validate:"gte=1"`

	// RetryableStatus lists HTTP status codes worth retrying
	// (default: 429, 500, 502, 503, 504)
	RetryableStatus []int `yaml:"retryable_status" validate:"dive,gte=400,lte=599"`
}

// RateLimitConfig paces outbound sends. A zero rate disables pacing.
type RateLimitConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// LLMConfig holds completion service settings.
type LLMConfig struct {
	// Provider selects the chat API: "openai", "anthropic" or "ollama"
	Provider string `yaml:"provider" validate:"required,oneof=openai anthropic ollama"`

	// BaseURL overrides the provider's API endpoint, e.g. for an
	// OpenAI-compatible gateway (default: the provider's public API)
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// Model is the name of the model to use (default: gpt-4o)
	Model string `yaml:"model" validate:"required"`

	// APIKey is the authentication key for the provider's API. Falls back to
	// the <PROVIDER>_API_KEY environment variable.
	APIKey string `yaml:"api_key" validate:"required_unless=Provider ollama"`

	// Temperature controls sampling (default: 0.2)
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`

	// MaxTokens caps the generated output length (default: 800)
	MaxTokens int `yaml:"max_tokens" validate:"gt=0"`

	// Timeout bounds a single completion call (default: 30s)
	Timeout time.Duration `yaml:"timeout" validate:"gt=0,lte=120s"`

	// SystemPromptFile is read once at startup (default: instructions.txt)
	SystemPromptFile string `yaml:"system_prompt_file"`

	// SystemPrompt is used when SystemPromptFile is missing or empty
	SystemPrompt string `yaml:"system_prompt" validate:"required"`
}

// RelayConfig holds pipeline behavior.
type RelayConfig struct {
	// MaxMessageLen is the chunk size limit in characters (default: 4000)
	MaxMessageLen int `yaml:"max_message_len" validate:"gt=0,lte=4096"`

	// WelcomeTriggers are compared against the trimmed, lowercased text
	WelcomeTriggers []string `yaml:"welcome_triggers"`

	// WelcomeOnFirstMessage treats message_id 1 as first contact (default: true)
	WelcomeOnFirstMessage bool `yaml:"welcome_on_first_message"`

	Messages MessagesConfig `yaml:"messages"`
}

// MessagesConfig holds the fixed user-facing texts.
type MessagesConfig struct {
	Welcome          string `yaml:"welcome" validate:"required"`
	Acknowledgment   string `yaml:"acknowledgment"` // empty disables the acknowledgment
	CompletionFailed string `yaml:"completion_failed" validate:"required"`
	EmptyCompletion  string `yaml:"empty_completion" validate:"required"`
	PartialDelivery  string `yaml:"partial_delivery"` // empty disables the notice
}

// QueueConfig sizes the background dispatcher.
type QueueConfig struct {
	// Workers is the number of concurrent pipeline invocations (default: 8)
	Workers int `yaml:"workers" validate:"gte=1"`

	// MaxSize bounds the number of updates waiting for a worker (default: 1000)
	MaxSize int `yaml:"max_size" validate:"gte=1"`
}

// CircuitBreakerConfig configures the breaker around the completion service.
type CircuitBreakerConfig struct {
	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval" validate:"gte=0"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold" validate:"gte=1"`
}

// DedupConfig configures update de-duplication.
type DedupConfig struct {
	Enabled bool `yaml:"enabled"`

	// Backend is "memory" or "redis" (default: memory)
	Backend string `yaml:"backend" validate:"oneof=memory redis"`

	// TTL is how long an update_id is remembered (default: 10m)
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`

	// RedisURL is a redis:// URL, required for the redis backend
	RedisURL string `yaml:"redis_url" validate:"required_if=Enabled true Backend redis"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format specifies log output format: json or text
	Format string `yaml:"format" validate:"oneof=json text"`
}

// DefaultConfig returns the configuration used when a field is not set.
// Credentials are intentionally empty.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxHeaderBytes:  1 << 20,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 30 * time.Second,
			WebhookPath:     "/webhook",
		},
		Telegram: TelegramConfig{
			BaseURL: "https://api.telegram.org",
			Timeout: 15 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialDelay:    300 * time.Millisecond,
				MaxDelay:        3 * time.Second,
				Multiplier:      2,
				RetryableStatus: []int{429, 500, 502, 503, 504},
			},
			RateLimit: RateLimitConfig{
				MessagesPerSecond: 30,
				Burst:             30,
			},
		},
		LLM: LLMConfig{
			Provider:         "openai",
			Model:            "gpt-4o",
			Temperature:      0.2,
			MaxTokens:        800,
			Timeout:          30 * time.Second,
			SystemPromptFile: "instructions.txt",
			SystemPrompt:     DefaultSystemInstruction,
		},
		Relay: RelayConfig{
			MaxMessageLen:         4000,
			WelcomeTriggers:       DefaultWelcomeTriggers(),
			WelcomeOnFirstMessage: true,
			Messages: MessagesConfig{
				Welcome:          DefaultWelcomeText,
				Acknowledgment:   "Memproses permintaan anda... Sila tunggu sebentar.",
				CompletionFailed: "Maaf, ralat perkhidmatan AI. Sila cuba lagi kemudian.",
				EmptyCompletion:  "Maaf, tiada jawapan diterima. Sila cuba semula dengan soalan yang lebih jelas.",
				PartialDelivery:  "Maaf, sebahagian jawapan tidak dapat dihantar. Sila cuba lagi.",
			},
		},
		Queue: QueueConfig{
			Workers: 8,
			MaxSize: 1000,
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		Dedup: DedupConfig{
			Enabled: true,
			Backend: "memory",
			TTL:     10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile loads configuration from a YAML file.
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.NewConfigError("open config file", err)
	}
	defer f.Close()

	return Load(f)
}

// Load decodes YAML from r on top of DefaultConfig, fills missing credentials
// from the environment, and validates the result.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewConfigError("read config", err)
	}

	config := DefaultConfig()

	dec := yaml.NewDecoder(strings.NewReader(expandEnvVars(string(data))))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyCredentialEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}
