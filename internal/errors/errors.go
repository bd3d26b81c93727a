package errors

import (
	"errors"
	"fmt"
)

// RankError is the structured error type for rankfuse.
// It carries enough context to decide whether a failure aborts the run,
// fails a single query, or is only worth a log line.
type RankError struct {
	// Code is the unique error code (e.g., "ERR_303_PAIRWISE_SCORE_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	// CapabilityError always sets "qid" and "capability".
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates the capability layer may retry the operation.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RankError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RankError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is(err, &RankError{Code: ...}) works.
func (e *RankError) Is(target error) bool {
	if t, ok := target.(*RankError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RankError) WithDetail(key, value string) *RankError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RankError) WithSuggestion(suggestion string) *RankError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RankError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RankError {
	return &RankError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RankError from an existing error.
func Wrap(code string, err error) *RankError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigurationError reports invalid static parameters. Always fatal.
func ConfigurationError(message string, cause error) *RankError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// CapabilityError reports a collaborator failure for one query.
// It is distinct from a query that legitimately retrieved nothing.
func CapabilityError(qid string, capability Capability, cause error) *RankError {
	msg := fmt.Sprintf("%s failed for query %q", capability, qid)
	return New(codeForCapability(capability), msg, cause).
		WithDetail("qid", qid).
		WithDetail("capability", string(capability))
}

// DataAnomaly describes a recoverable data problem. Callers log it and continue.
func DataAnomaly(code string, message string) *RankError {
	return New(code, message, nil)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *RankError {
	return New(ErrCodeFileNotFound, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RankError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first RankError in err's chain.
func As(err error) (*RankError, bool) {
	var re *RankError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if re, ok := As(err); ok {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if re, ok := As(err); ok {
		return re.Severity == SeverityFatal
	}
	return false
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return GetCategory(err) == CategoryConfig
}

// IsCapability reports whether err is a per-query capability failure.
func IsCapability(err error) bool {
	return GetCategory(err) == CategoryCapability
}

// GetQID returns the query id attached to a capability error, if any.
func GetQID(err error) string {
	if re, ok := As(err); ok {
		return re.Details["qid"]
	}
	return ""
}

// GetCode extracts the error code from a RankError.
// Returns empty string if not a RankError.
func GetCode(err error) string {
	if re, ok := As(err); ok {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from a RankError.
func GetCategory(err error) Category {
	if re, ok := As(err); ok {
		return re.Category
	}
	return ""
}
