package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Authentication and permission errors (1xxx)
	ErrCodeAuthenticationFailed ErrorCode = "LDE1001"
	ErrCodePermissionDenied     ErrorCode = "LDE1002"
	ErrCodeTokenUnavailable     ErrorCode = "LDE1003"
	ErrCodeCredentialNotFound   ErrorCode = "LDE1004"

	// Configuration errors (2xxx)
	ErrCodeConfigNotFound ErrorCode = "LDE2001"
	ErrCodeConfigInvalid  ErrorCode = "LDE2002"
	ErrCodeConfigMissing  ErrorCode = "LDE2003"

	// API errors (3xxx)
	ErrCodeAPIRequest         ErrorCode = "LDE3001"
	ErrCodeRateLimited        ErrorCode = "LDE3002"
	ErrCodeNotFound           ErrorCode = "LDE3003"
	ErrCodeConflict           ErrorCode = "LDE3004"
	ErrCodeServiceUnavailable ErrorCode = "LDE3005"
	ErrCodeBadResponse        ErrorCode = "LDE3006"
	ErrCodeNetwork            ErrorCode = "LDE3007"

	// Long-running operation and job errors (4xxx)
	ErrCodeOperationFailed  ErrorCode = "LDE4001"
	ErrCodeOperationTimeout ErrorCode = "LDE4002"
	ErrCodeJobFailed        ErrorCode = "LDE4003"
	ErrCodeJobCancelled     ErrorCode = "LDE4004"

	// Artifact and file errors (5xxx)
	ErrCodeFileNotFound     ErrorCode = "LDE5001"
	ErrCodeFileOperation    ErrorCode = "LDE5002"
	ErrCodeArtifactInvalid  ErrorCode = "LDE5003"
	ErrCodeArtifactFetch    ErrorCode = "LDE5004"

	// Validation and template errors (6xxx)
	ErrCodeValidationFailed ErrorCode = "LDE6001"
	ErrCodeInvalidInput     ErrorCode = "LDE6002"
	ErrCodeUnresolvedToken  ErrorCode = "LDE6003"

	// Deployment errors (7xxx)
	ErrCodeStepFailed       ErrorCode = "LDE7001"
	ErrCodeDeploymentAborted ErrorCode = "LDE7002"

	// System errors (9xxx)
	ErrCodeInternal          ErrorCode = "LDE9001"
	ErrCodeTimeout           ErrorCode = "LDE9002"
	ErrCodeResourceExhausted ErrorCode = "LDE9003"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // System failure, requires immediate attention
	SeverityError    ErrorSeverity = "ERROR"    // Operation failed, but system continues
	SeverityWarning  ErrorSeverity = "WARNING"  // Operation succeeded with issues
	SeverityInfo     ErrorSeverity = "INFO"     // Informational, not an error
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Recoverable bool
	Suggestions []string

	// RetryAfter is the server-requested delay before the next attempt, if any.
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		Severity:    SeverityError,
		Context:     make(map[string]interface{}),
		Stack:       captureStack(),
		Timestamp:   time.Now(),
		Recoverable: false,
	}
}

// Newf creates a new AppError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// If wrapping another AppError, inherit some properties
	var ae *AppError
	if errors.As(err, &ae) {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
		appErr.RetryAfter = ae.RetryAfter
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithRetryAfter records a server-requested retry delay
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// AsRecoverable marks the error as recoverable
func (e *AppError) AsRecoverable() *AppError {
	e.Recoverable = true
	return e
}

// captureStack captures the current stack trace
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// PermissionError creates an error for 401/403 responses from a service
func PermissionError(service, message string, cause error) *AppError {
	err := New(ErrCodePermissionDenied, message).
		WithContext("service", service).
		WithSeverity(SeverityCritical)
	err.Cause = cause

	switch service {
	case "graph":
		_ = err.WithSuggestions(
			"Grant the signed-in identity User.Read.All and Group.Read.All on Microsoft Graph",
			"Or pass admin object IDs instead of names to skip directory lookups",
		)
	case "powerbi":
		_ = err.WithSuggestions(
			"Ensure the identity is a workspace Admin or Member",
			"Enable 'Service principals can use Fabric APIs' in the Fabric admin portal",
		)
	default:
		_ = err.WithSuggestions(
			"Ensure the identity has Contributor or Admin rights on the Fabric capacity",
			"Enable 'Users can create Fabric items' in the Fabric admin portal",
			"Run 'az login' again if the cached token belongs to another tenant",
		)
	}
	return err
}

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Run 'lakedeploy setup' to reconfigure",
		)
}

// ValidationError creates a validation error
func ValidationError(field string, value interface{}, reason string) *AppError {
	return New(ErrCodeValidationFailed, fmt.Sprintf("Validation failed for %s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value).
		WithSeverity(SeverityWarning)
}

// IsRecoverable checks if an error is recoverable
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether any AppError in the chain carries the given code
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if ae, ok := err.(*AppError); ok && ae.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// GetRetryAfter returns the retry hint carried by the error chain
func GetRetryAfter(err error) time.Duration {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}

// As is re-exported so callers importing this package as errors keep the stdlib helper
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
