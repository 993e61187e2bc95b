package errors

import (
	"fmt"
)

// EngineError is the structured error type for the code-search engine.
// It provides rich context for error handling, logging, and user presentation.
type EngineError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Embedding, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with EngineError.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *EngineError) WithDetail(key, value string) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new EngineError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an EngineError from an existing error.
// The error's message becomes the EngineError message.
func Wrap(code string, err error) *EngineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *EngineError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *EngineError {
	return New(ErrCodeFileNotFound, message, cause)
}

// StorageError creates a storage write error.
// Storage errors abort the affected file only and are retryable on the next run.
func StorageError(message string, cause error) *EngineError {
	return New(ErrCodeStorageWrite, message, cause)
}

// EmbeddingError creates an embedding provider error.
// Embedding errors are transient and retryable.
func EmbeddingError(message string, cause error) *EngineError {
	return New(ErrCodeEmbedTimeout, message, cause)
}

// StateCorruptError indicates the persisted index state is unreadable or
// its schema does not match. The caller must discard state and reindex.
func StateCorruptError(message string, cause error) *EngineError {
	return New(ErrCodeStateCorrupt, message, cause).
		WithSuggestion("state discarded; a full reindex will rebuild it")
}

// DiffUnavailableError indicates the version-control collaborator cannot
// compute a delta from the last indexed revision.
func DiffUnavailableError(message string, cause error) *EngineError {
	return New(ErrCodeDiffUnavailable, message, cause).
		WithSuggestion("falling back to full reindex")
}

// ConcurrentUpdateError indicates another indexing run modified the state
// since it was loaded. The current apply must abort without writing.
func ConcurrentUpdateError(loadedRevision, foundRevision string) *EngineError {
	return New(ErrCodeConcurrentUpdate, "concurrent update in progress", nil).
		WithDetail("loaded_revision", loadedRevision).
		WithDetail("found_revision", foundRevision).
		WithSuggestion("another indexing run is active; retry after it completes")
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *EngineError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *EngineError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an EngineError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an EngineError.
// Returns empty string if not an EngineError.
func GetCode(err error) string {
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return ""
}

// GetCategory extracts the category from an EngineError.
// Returns empty string if not an EngineError.
func GetCategory(err error) Category {
	if ee, ok := err.(*EngineError); ok {
		return ee.Category
	}
	return ""
}
