package export

import (
	"context"
	"encoding/json"
	"io"
	"iter"

	"mercator-hq/warden/pkg/audit"
)

// JSONExporter writes records as one JSON array.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export implements Exporter. An empty sequence is written as "[]".
func (e *JSONExporter) Export(ctx context.Context, records iter.Seq2[*audit.Record, error], w io.Writer) (int, error) {
	if _, err := io.WriteString(w, "["); err != nil {
		return 0, audit.NewExportError(string(FormatJSON), 0, err)
	}

	count := 0
	for r, err := range records {
		if err != nil {
			return count, audit.NewExportError(string(FormatJSON), count, err)
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}

		sep := ","
		if count == 0 {
			sep = ""
		}
		if e.Pretty {
			sep += "\n  "
		}

		data, err := e.serialize(r)
		if err != nil {
			return count, audit.NewExportError(string(FormatJSON), count, err)
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return count, audit.NewExportError(string(FormatJSON), count, err)
		}
		if _, err := w.Write(data); err != nil {
			return count, audit.NewExportError(string(FormatJSON), count, err)
		}
		count++
	}

	closing := "]"
	if e.Pretty && count > 0 {
		closing = "\n]"
	}
	if _, err := io.WriteString(w, closing); err != nil {
		return count, audit.NewExportError(string(FormatJSON), count, err)
	}
	return count, nil
}

func (e *JSONExporter) serialize(r *audit.Record) ([]byte, error) {
	if e.Pretty {
		return json.MarshalIndent(r, "  ", "  ")
	}
	return json.Marshal(r)
}

// NDJSONExporter writes one JSON record per line.
type NDJSONExporter struct{}

// NewNDJSONExporter creates a new NDJSON exporter.
func NewNDJSONExporter() *NDJSONExporter {
	return &NDJSONExporter{}
}

// Export implements Exporter.
func (e *NDJSONExporter) Export(ctx context.Context, records iter.Seq2[*audit.Record, error], w io.Writer) (int, error) {
	enc := json.NewEncoder(w)

	count := 0
	for r, err := range records {
		if err != nil {
			return count, audit.NewExportError(string(FormatNDJSON), count, err)
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if err := enc.Encode(r); err != nil {
			return count, audit.NewExportError(string(FormatNDJSON), count, err)
		}
		count++
	}
	return count, nil
}
