package errors

import (
	"errors"
	"fmt"
)

// ConfigError reports a problem with the server's configuration or the
// on-disk site it points at. Hint, when set, tells the user how to fix it.
type ConfigError struct {
	Message    string
	Hint       string
	underlying error
}

func (e *ConfigError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.underlying
}

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// WithHint attaches a remediation hint, returning the error for chaining.
func (e *ConfigError) WithHint(hint string) *ConfigError {
	e.Hint = hint
	return e
}

// Wrap attaches an underlying cause, returning the error for chaining.
func (e *ConfigError) Wrap(err error) *ConfigError {
	e.underlying = err
	return e
}

// AsConfigError extracts a ConfigError from anywhere in err's chain.
func AsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
