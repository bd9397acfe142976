package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/teilomillet/relay/errors"
)

var validate = validator.New()

func init() {
	// Report fields by their YAML path (telegram.bot_token) rather than Go names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks the configuration for errors. It reports the first problem
// found as a validation error whose details name the offending field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return err
		}
		fe := verrs[0]
		field := fieldPath(fe.Namespace())
		return errors.NewValidationError("", c.describe(field, fe), map[string]interface{}{
			"field": field,
			"rule":  fe.Tag(),
		})
	}

	if c.Telegram.RateLimit.MessagesPerSecond > 0 && c.Telegram.RateLimit.Burst < 1 {
		return errors.NewValidationError("", "telegram.rate_limit.burst must be at least 1 when a rate is set",
			map[string]interface{}{"field": "telegram.rate_limit.burst", "rule": "gte"})
	}

	for i, trigger := range c.Relay.WelcomeTriggers {
		if strings.TrimSpace(trigger) == "" {
			field := fmt.Sprintf("relay.welcome_triggers[%d]", i)
			return errors.NewValidationError("", field+" must not be empty",
				map[string]interface{}{"field": field, "rule": "required"})
		}
	}

	return nil
}

func (c *Config) describe(field string, fe validator.FieldError) string {
	switch field {
	case "telegram.bot_token":
		return fmt.Sprintf("missing telegram bot token (set %s or telegram.bot_token)", EnvBotToken)
	case "llm.api_key":
		return fmt.Sprintf("missing API key for provider %q (set %s or llm.api_key)", c.LLM.Provider, APIKeyEnv(c.LLM.Provider))
	}
	if fe.Param() != "" {
		return fmt.Sprintf("invalid %s: must satisfy %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("invalid %s: must satisfy %s", field, fe.Tag())
}

// fieldPath turns "Config.telegram.retry.max_attempts" into
// "telegram.retry.max_attempts".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
