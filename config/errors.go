package config

import (
	"fmt"
	"strings"
)

// ConfigError is returned when no organization configuration can be resolved at all.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// InvalidConfigError is returned when a resolved configuration fails validation.
type InvalidConfigError struct {
	Source     string
	Violations []string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config from %s: %s", e.Source, strings.Join(e.Violations, "; "))
}
