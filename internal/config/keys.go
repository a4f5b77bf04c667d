package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no Anthropic API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// ResolveAPIKey returns the key api-mode dispatch would use. The loaded
// config value wins (Load already applies the env fallbacks); callers
// with no config get the ANTHROPIC_API_KEY environment variable.
func ResolveAPIKey(cfg *Config) (string, error) {
	if cfg != nil {
		key := os.ExpandEnv(cfg.API.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}
	return "", ErrNoAPIKey
}

// MaskAPIKey returns a display-safe form of the key: the first 7
// characters and the last 4.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
