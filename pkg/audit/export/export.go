package export

import (
	"context"
	"fmt"
	"io"
	"iter"

	"mercator-hq/warden/pkg/audit"
)

// Format names an export format.
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
)

// Exporter writes a record sequence to w and returns the number written.
type Exporter interface {
	Export(ctx context.Context, records iter.Seq2[*audit.Record, error], w io.Writer) (int, error)
}

// New returns the exporter for a format.
func New(format Format) (Exporter, error) {
	switch format {
	case FormatJSON:
		return NewJSONExporter(false), nil
	case FormatNDJSON:
		return NewNDJSONExporter(), nil
	case FormatCSV:
		return NewCSVExporter(true), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}
