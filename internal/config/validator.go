package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	validProviders    = []string{"gemini", "openai", "anthropic"}
	validLogLevels    = []string{"debug", "info", "warn", "error"}
	validCartBackends = []string{"memory", "redis"}
)

// cronParser accepts the standard five field form.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// ValidateProvider checks the provider name of an AI profile.
func (v *Validator) ValidateProvider(provider string) error {
	if !oneOf(provider, validProviders) {
		return fmt.Errorf("invalid provider %q (must be one of: %s)", provider, strings.Join(validProviders, ", "))
	}
	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature accepts the range every supported provider allows.
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %g", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 65536 {
		return fmt.Errorf("max tokens too large (max 65536), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	if !oneOf(level, validLogLevels) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLogLevels, ", "))
	}
	return nil
}

func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("gateway port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func (v *Validator) ValidateCartBackend(backend string) error {
	if !oneOf(backend, validCartBackends) {
		return fmt.Errorf("invalid cart backend: %s (must be one of: %s)", backend, strings.Join(validCartBackends, ", "))
	}
	return nil
}

// ValidateSchedule checks a five field cron expression.
func (v *Validator) ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", expr, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	ids := make(map[string]bool)
	for i, profile := range cfg.AI.Profiles {
		if profile.ID == "" {
			errs = append(errs, fmt.Errorf("AI profile %d: id is required", i))
		} else if ids[profile.ID] {
			errs = append(errs, fmt.Errorf("AI profile %d: duplicate id %s", i, profile.ID))
		}
		ids[profile.ID] = true

		if err := v.ValidateProvider(profile.Provider); err != nil {
			errs = append(errs, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			continue
		}
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			errs = append(errs, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
	}

	if err := v.ValidateTemperature(cfg.AI.Temperature); err != nil {
		errs = append(errs, fmt.Errorf("ai: %w", err))
	}
	if err := v.ValidateMaxTokens(cfg.AI.MaxTokens); err != nil {
		errs = append(errs, fmt.Errorf("ai: %w", err))
	}
	if cfg.AI.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("ai.max_retries must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateCartBackend(cfg.Cart.Backend); err != nil {
		errs = append(errs, err)
	}
	if cfg.Cart.Backend == "redis" && cfg.Cart.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("cart.redis.addr is required for the redis backend"))
	}

	if cfg.Sessions.CleanupSchedule != "" {
		if err := v.ValidateSchedule(cfg.Sessions.CleanupSchedule); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Sessions.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("sessions.retention_days must be >= 0"))
	}

	if cfg.Speech.TTS.MinSentenceLen < 0 {
		errs = append(errs, fmt.Errorf("speech.tts.min_sentence_len must be >= 0"))
	}
	if cfg.Speech.VAD.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("speech.vad.sample_rate must be positive"))
	}
	if cfg.Tools.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("tools.timeout_seconds must be >= 0"))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errs
}
