// Package errors provides the error types of a certificate run.
// Each type matches a sentinel through errors.Is so callers can branch on
// the failure kind without type assertions.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// New is errors.New, re-exported so callers need a single import.
var New = errors.New

var (
	// ErrConfiguration indicates a required input artifact is missing or ambiguous.
	ErrConfiguration = errors.New("configuration error")

	// ErrRegistry indicates the charge-point registry could not be queried.
	ErrRegistry = errors.New("registry error")

	// ErrRender indicates the document converter failed.
	ErrRender = errors.New("render error")
)

// ConfigurationError reports input artifacts that are absent or ambiguous.
type ConfigurationError struct {
	Missing   []string // artifact kinds with no candidate
	Ambiguous []string // artifact kinds with more than one candidate
	Message   string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Ambiguous) > 0 {
		parts = append(parts, "ambiguous "+strings.Join(e.Ambiguous, ", "))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if len(parts) == 0 {
		return "configuration error"
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

// Is implements errors.Is support.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError creates a ConfigurationError carrying only a message.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// RegistryError represents a failed registry query. StatusCode is zero when
// no HTTP response was received.
type RegistryError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("registry %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("registry %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("registry %s: request failed", e.Endpoint)
}

// Unwrap implements errors.Unwrap.
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *RegistryError) Is(target error) bool {
	return target == ErrRegistry
}

// RenderError represents a converter failure for one document.
type RenderError struct {
	Document string
	ExitCode int
	Output   string
	Err      error
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	msg := fmt.Sprintf("rendering %s failed", e.Document)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements errors.Unwrap.
func (e *RenderError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *RenderError) Is(target error) bool {
	return target == ErrRender
}

// IsConfigurationError checks if an error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsRegistryError checks if an error is a RegistryError.
func IsRegistryError(err error) bool {
	return errors.Is(err, ErrRegistry)
}

// IsRenderError checks if an error is a RenderError.
func IsRenderError(err error) bool {
	return errors.Is(err, ErrRender)
}
