package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables read when no config file is present. Credentials are
// also read from here when the file leaves them empty.
const (
	EnvBotToken    = "TELEGRAM_BOT_TOKEN"
	EnvModel       = "OPENAI_MODEL"
	EnvTemperature = "OPENAI_TEMPERATURE"
	EnvPort        = "PORT"
)

// APIKeyEnv returns the environment variable holding the API key for a
// provider, e.g. OPENAI_API_KEY for "openai".
func APIKeyEnv(provider string) string {
	return strings.ToUpper(strings.TrimSpace(provider)) + "_API_KEY"
}

// FromEnv builds a configuration from DefaultConfig and the process
// environment. It is used when no config file exists.
func FromEnv() (*Config, error) {
	config := DefaultConfig()
	applyCredentialEnv(config)

	if v := os.Getenv(EnvModel); v != "" {
		config.LLM.Model = v
	}
	if v := os.Getenv(EnvTemperature); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvTemperature, err)
		}
		config.LLM.Temperature = t
	}
	if v := os.Getenv(EnvPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvPort, err)
		}
		config.Server.Port = p
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return config, nil
}

func applyCredentialEnv(c *Config) {
	if c.Telegram.BotToken == "" {
		c.Telegram.BotToken = os.Getenv(EnvBotToken)
	}
	if c.LLM.APIKey == "" && c.LLM.Provider != "" {
		c.LLM.APIKey = os.Getenv(APIKeyEnv(c.LLM.Provider))
	}
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} references in s.
// Unset variables without a default expand to the empty string.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}
