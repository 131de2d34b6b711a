package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientAPI marks network, rate-limit and 5xx failures from a platform API
	ErrTransientAPI = errors.New("transient platform API error")

	// ErrWebhookVerification marks a webhook whose challenge, token or signature did not verify
	ErrWebhookVerification = errors.New("webhook verification failed")

	// ErrUnsupported is returned by platform clients for operations the platform cannot serve
	ErrUnsupported = errors.New("operation not supported by platform")
)

// ConfigError represents a configuration error. It is fatal at relay start.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

// NewConfigError creates a configuration error for field
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is, or wraps, a ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// TransientAPIError wraps a failed platform API call
type TransientAPIError struct {
	Platform Platform
	Op       string
	Err      error
}

func (e *TransientAPIError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *TransientAPIError) Unwrap() error {
	return e.Err
}

func (e *TransientAPIError) Is(target error) bool {
	return target == ErrTransientAPI
}

// NewTransientAPIError wraps err as a transient failure of op on platform p
func NewTransientAPIError(p Platform, op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientAPIError{Platform: p, Op: op, Err: err}
}

// VerificationError creates a webhook verification failure with a reason
func VerificationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrWebhookVerification, fmt.Sprintf(format, args...))
}
