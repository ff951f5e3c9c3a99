package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is plain text output (default).
	FormatText OutputFormat = "text"
	// FormatJSON is JSON output.
	FormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatText, FormatJSON:
		return OutputFormat(s), nil
	case "":
		return FormatText, nil
	}
	return "", NewConfigError("output", fmt.Sprintf("unknown format %q (want text or json)", s))
}

// Formatter formats command output.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// TextRenderer is implemented by results with a custom text form.
type TextRenderer interface {
	RenderText(w io.Writer) error
}

// TextFormatter formats output as plain text.
type TextFormatter struct{}

// FormatTo writes data to w in text form.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	if r, ok := data.(TextRenderer); ok {
		return r.RenderText(w)
	}
	_, err := fmt.Fprintf(w, "%v\n", data)
	return err
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data to w as JSON.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// NewFormatter returns the formatter for format. Unknown formats get text.
func NewFormatter(format OutputFormat) Formatter {
	if format == FormatJSON {
		return &JSONFormatter{Indent: true}
	}
	return &TextFormatter{}
}
