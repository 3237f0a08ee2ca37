package estimator

import (
	"fmt"
	"strings"
)

// ConfigError reports a mistake in the caller's request: a column that does
// not exist, a reserved name collision, an out-of-range parameter. It is
// fatal for the whole call; nothing is computed.
type ConfigError struct {
	Field     string   `json:"field"`
	Message   string   `json:"message"`
	Available []string `json:"available,omitempty"`
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("estimator: %s: %s", e.Field, e.Message)
	if len(e.Available) > 0 {
		msg += fmt.Sprintf(" (available: %s)", strings.Join(e.Available, ", "))
	}
	return msg
}

func newConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// constructError marks a replicate-construction failure. It never escapes the
// package: the backend catches it and falls back to linearization.
type constructError struct {
	method Method
	reason string
}

func (e *constructError) Error() string {
	return fmt.Sprintf("%s replicates unavailable: %s", e.method, e.reason)
}
