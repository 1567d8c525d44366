// Package errors provides a lightweight structured error type (StratusError)
// for category-based classification across subsystem boundaries, plus CLI and
// HTTP adapters that map categories to exit codes and status codes.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a Stratus error for classification
type ErrorCategory string

const (
	// User-facing input and state errors
	CategoryValidation ErrorCategory = "validation"
	CategoryState      ErrorCategory = "state"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryConflict   ErrorCategory = "conflict"

	// External system integration errors
	CategoryStorage ErrorCategory = "storage"
	CategoryVcs     ErrorCategory = "vcs"
	CategoryBackend ErrorCategory = "backend"
	CategoryTimeout ErrorCategory = "timeout"

	// Runtime and infrastructure errors
	CategoryConfig   ErrorCategory = "config"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// StratusError is a structured error with category, retryability, and context
type StratusError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for StratusError
type ContextFields map[string]any

// Error implements the error interface
func (e *StratusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *StratusError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *StratusError) WithContext(key string, value any) *StratusError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new StratusError
func New(category ErrorCategory, severity ErrorSeverity, message string) *StratusError {
	return &StratusError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Newf creates a new StratusError with a formatted message
func Newf(category ErrorCategory, severity ErrorSeverity, format string, args ...any) *StratusError {
	return New(category, severity, fmt.Sprintf(format, args...))
}

// Wrap creates a new StratusError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *StratusError {
	return &StratusError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable StratusError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *StratusError {
	return &StratusError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable StratusError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *StratusError {
	return &StratusError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if se, ok := err.(*StratusError); ok {
		return se.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if se, ok := err.(*StratusError); ok {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a StratusError
func GetCategory(err error) ErrorCategory {
	if se, ok := err.(*StratusError); ok {
		return se.Category
	}
	return CategoryInternal
}
