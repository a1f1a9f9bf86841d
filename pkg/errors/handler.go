package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"lakedeploy/internal/common"
)

// ErrorHandler provides centralized error handling and logging
type ErrorHandler struct {
	logFile   *os.File
	logWriter io.Writer
	display   io.Writer
	errorLog  []ErrorLogEntry
	mu        sync.Mutex
	config    ErrorHandlerConfig
}

// ErrorHandlerConfig configures the error handler
type ErrorHandlerConfig struct {
	LogToFile     bool
	LogFilePath   string
	MaxLogEntries int
	Display       io.Writer
}

// ErrorLogEntry represents a logged error
type ErrorLogEntry struct {
	Timestamp   time.Time              `json:"timestamp"`
	Code        ErrorCode              `json:"code"`
	Severity    ErrorSeverity          `json:"severity"`
	Message     string                 `json:"message"`
	Cause       string                 `json:"cause,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Stack       string                 `json:"stack,omitempty"`
	Recoverable bool                   `json:"recoverable"`
}

// DefaultErrorHandlerConfig returns default configuration
func DefaultErrorHandlerConfig() ErrorHandlerConfig {
	homeDir, _ := os.UserHomeDir()
	return ErrorHandlerConfig{
		LogToFile:     true,
		LogFilePath:   filepath.Join(homeDir, ".lakedeploy", "errors.log"),
		MaxLogEntries: 1000,
		Display:       os.Stderr,
	}
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(config ErrorHandlerConfig) (*ErrorHandler, error) {
	if config.Display == nil {
		config.Display = os.Stderr
	}
	if config.MaxLogEntries <= 0 {
		config.MaxLogEntries = 1000
	}

	handler := &ErrorHandler{
		config:    config,
		display:   config.Display,
		logWriter: io.Discard,
		errorLog:  make([]ErrorLogEntry, 0),
	}

	if config.LogToFile {
		logDir := filepath.Dir(config.LogFilePath)
		if err := os.MkdirAll(logDir, common.DirPermissionSecure); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(config.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, common.FilePermissionSecure)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		handler.logFile = file
		handler.logWriter = file
	}

	return handler, nil
}

// Handle processes an error with full context
func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	appErr, ok := err.(*AppError)
	if !ok {
		appErr = Wrap(err, ErrCodeInternal, err.Error())
	}

	entry := ErrorLogEntry{
		Timestamp:   appErr.Timestamp,
		Code:        appErr.Code,
		Severity:    appErr.Severity,
		Message:     appErr.Message,
		Context:     appErr.Context,
		Stack:       appErr.Stack,
		Recoverable: appErr.Recoverable,
	}
	if appErr.Cause != nil {
		entry.Cause = truncateString(appErr.Cause.Error(), 2000)
	}

	h.errorLog = append(h.errorLog, entry)
	if len(h.errorLog) > h.config.MaxLogEntries {
		h.errorLog = h.errorLog[1:]
	}

	h.writeLog(entry)
	h.displayError(appErr)
}

// writeLog writes an error entry to the log
func (h *ErrorHandler) writeLog(entry ErrorLogEntry) {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(h.display, "Failed to marshal error log: %v\n", err)
		return
	}

	fmt.Fprintln(h.logWriter, string(jsonData))
}

// displayError displays a user-friendly error message
func (h *ErrorHandler) displayError(err *AppError) {
	var severityColor string
	switch err.Severity {
	case SeverityCritical:
		severityColor = "\033[31m" // Red
	case SeverityError:
		severityColor = "\033[91m" // Light Red
	case SeverityWarning:
		severityColor = "\033[33m" // Yellow
	case SeverityInfo:
		severityColor = "\033[36m" // Cyan
	default:
		severityColor = "\033[0m"
	}

	resetColor := "\033[0m"

	fmt.Fprintf(h.display, "\n%s[%s] %s%s\n", severityColor, err.Code, err.Message, resetColor)
	if err.Cause != nil {
		fmt.Fprintf(h.display, "  %v\n", err.Cause)
	}

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintln(h.display, "\nContext:")
		for _, key := range keys {
			fmt.Fprintf(h.display, "  %s: %v\n", key, err.Context[key])
		}
	}

	if len(err.Suggestions) > 0 {
		fmt.Fprintln(h.display, "\nSuggestions:")
		for i, suggestion := range err.Suggestions {
			fmt.Fprintf(h.display, "  %d. %s\n", i+1, suggestion)
		}
	}

	if err.Severity == SeverityCritical && h.config.LogToFile {
		fmt.Fprintln(h.display, "\nFor support, please include:")
		fmt.Fprintf(h.display, "  - Error code: %s\n", err.Code)
		fmt.Fprintf(h.display, "  - Log file: %s\n", h.config.LogFilePath)
		fmt.Fprintf(h.display, "  - Timestamp: %s\n", err.Timestamp.Format(time.RFC3339))
	}
}

// GetErrorSummary returns a summary of recent errors
func (h *ErrorHandler) GetErrorSummary() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	bySeverity := make(map[ErrorSeverity]int)
	byCode := make(map[ErrorCode]int)
	for _, entry := range h.errorLog {
		bySeverity[entry.Severity]++
		byCode[entry.Code]++
	}

	start := len(h.errorLog) - 10
	if start < 0 {
		start = 0
	}
	recent := make([]ErrorLogEntry, len(h.errorLog)-start)
	copy(recent, h.errorLog[start:])

	return map[string]interface{}{
		"total_errors":  len(h.errorLog),
		"by_severity":   bySeverity,
		"by_code":       byCode,
		"recent_errors": recent,
	}
}

// Close closes the error handler and releases resources
func (h *ErrorHandler) Close() error {
	if h.logFile != nil {
		return h.logFile.Close()
	}
	return nil
}

var globalHandler *ErrorHandler
var globalHandlerOnce sync.Once

// GetGlobalErrorHandler returns the global error handler instance
func GetGlobalErrorHandler() *ErrorHandler {
	globalHandlerOnce.Do(func() {
		handler, err := NewErrorHandler(DefaultErrorHandlerConfig())
		if err != nil {
			// Fallback to a display-only handler
			handler = &ErrorHandler{
				logWriter: io.Discard,
				display:   os.Stderr,
				errorLog:  make([]ErrorLogEntry, 0),
				config:    ErrorHandlerConfig{MaxLogEntries: 1000},
			}
		}
		globalHandler = handler
	})
	return globalHandler
}
