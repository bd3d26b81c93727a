package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForUser returns a user-friendly error message.
// If debug is true, the underlying cause and details are included.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	re, ok := As(err)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(re.Message)
	sb.WriteString("\n")

	if debug {
		if re.Cause != nil {
			sb.WriteString(fmt.Sprintf("Cause: %v\n", re.Cause))
		}
		for _, k := range sortedKeys(re.Details) {
			sb.WriteString(fmt.Sprintf("  %s=%s\n", k, re.Details[k]))
		}
	}

	if re.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(re.Suggestion)
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\n[%s]", re.Code))
	return sb.String()
}

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	re, ok := As(err)
	if !ok {
		re = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", re.Message))
	if re.Cause != nil && re.Cause.Error() != re.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %v\n", re.Cause))
	}
	if re.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", re.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", re.Code))
	return sb.String()
}

type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	re, ok := As(err)
	if !ok {
		re = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       re.Code,
		Message:    re.Message,
		Category:   string(re.Category),
		Severity:   string(re.Severity),
		Details:    re.Details,
		Suggestion: re.Suggestion,
		Retryable:  re.Retryable,
	}
	if re.Cause != nil {
		je.Cause = re.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog formats an error as key-value pairs for structured logging.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	re, ok := As(err)
	if !ok {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": re.Code,
		"message":    re.Message,
		"category":   string(re.Category),
		"severity":   string(re.Severity),
		"retryable":  re.Retryable,
	}
	if re.Cause != nil {
		result["cause"] = re.Cause.Error()
	}
	if re.Suggestion != "" {
		result["suggestion"] = re.Suggestion
	}
	for k, v := range re.Details {
		result["detail_"+k] = v
	}
	return result
}

// LogAttrs converts an error into slog attributes in a stable order.
func LogAttrs(err error) []slog.Attr {
	fields := FormatForLog(err)
	attrs := make([]slog.Attr, 0, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	return attrs
}

// LogArgs is LogAttrs as variadic slog arguments.
func LogArgs(err error) []any {
	attrs := LogAttrs(err)
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
