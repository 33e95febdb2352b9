package config

import (
	"errors"
	"fmt"
	"time"
)

// Validator enforces constraints on AppConfig.
type Validator interface {
	Validate(*AppConfig) error
}

// DefaultValidator applies structural checks and guards against obvious
// misconfiguration (runaway timeouts, unknown backends).
type DefaultValidator struct {
	maxSnippetTimeout time.Duration
	maxDeviceTimeout  time.Duration
	maxRetries        int
	maxWindow         int
}

// NewDefaultValidator builds a validator with the stock limits.
func NewDefaultValidator() *DefaultValidator {
	return &DefaultValidator{
		maxSnippetTimeout: 60 * time.Second,
		maxDeviceTimeout:  30 * time.Second,
		maxRetries:        10,
		maxWindow:         50,
	}
}

// Validate checks structural integrity of a normalized config.
func (v *DefaultValidator) Validate(cfg *AppConfig) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	switch provider := cfg.Model.ResolveProvider(); provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown model provider %q", provider)
	}
	if cfg.Model.MaxTokens <= 0 {
		return errors.New("model max_tokens must be positive")
	}
	switch cfg.Memory.Backend {
	case "inmem":
	case "sqlite":
		if cfg.Memory.Path == "" {
			return errors.New("memory backend sqlite requires a path")
		}
	default:
		return fmt.Errorf("unknown memory backend %q", cfg.Memory.Backend)
	}
	if cfg.Pipeline.SnippetTimeout > v.maxSnippetTimeout {
		return fmt.Errorf("snippet_timeout %s exceeds limit %s", cfg.Pipeline.SnippetTimeout, v.maxSnippetTimeout)
	}
	if cfg.Devices.CallTimeout > v.maxDeviceTimeout {
		return fmt.Errorf("device call_timeout %s exceeds limit %s", cfg.Devices.CallTimeout, v.maxDeviceTimeout)
	}
	if cfg.Pipeline.Retries > v.maxRetries {
		return fmt.Errorf("retries %d exceeds limit %d", cfg.Pipeline.Retries, v.maxRetries)
	}
	if cfg.Pipeline.Window > v.maxWindow {
		return fmt.Errorf("window %d exceeds limit %d", cfg.Pipeline.Window, v.maxWindow)
	}
	if cfg.Devices.MaxInFlight < 0 {
		return errors.New("max_in_flight cannot be negative")
	}
	return nil
}
