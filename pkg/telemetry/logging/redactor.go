package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the log. Plan
// values and filters can carry patient data.
var sensitiveKeys = map[string]bool{
	"values":        true,
	"filter":        true,
	"rows":          true,
	"document":      true,
	"justification": true,
	"token":         true,
	"password":      true,
	"authorization": true,
}

// redactPattern contains a compiled regex and its replacement.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Redactor scrubs sensitive attributes and PII patterns from log records.
type Redactor struct {
	patterns []redactPattern
}

// NewRedactor creates a redactor with the built-in patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []redactPattern{
			{"email", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "***@***"},
			{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "***-**-****"},
			{"bearer_token", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`), "Bearer ***"},
			{"password", regexp.MustCompile(`(password|passwd|pwd)[:=]\s*\S+`), "$1=***"},
			{"url_credentials", regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`), "://***:***@"},
		},
	}
}

// RedactString replaces PII patterns in s.
func (r *Redactor) RedactString(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		if a.Key == slog.MessageKey {
			return a
		}
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return a
}
