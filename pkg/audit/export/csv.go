package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"mercator-hq/warden/pkg/audit"
)

// flushEvery is how many rows are buffered between flushes.
const flushEvery = 100

// CSVExporter writes records as flattened CSV rows.
type CSVExporter struct {
	// IncludeHeader writes a header row first.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Export implements Exporter.
func (e *CSVExporter) Export(ctx context.Context, records iter.Seq2[*audit.Record, error], w io.Writer) (int, error) {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(headerRow()); err != nil {
			return 0, audit.NewExportError(string(FormatCSV), 0, err)
		}
	}

	count := 0
	for r, err := range records {
		if err != nil {
			writer.Flush()
			return count, audit.NewExportError(string(FormatCSV), count, err)
		}
		if err := ctx.Err(); err != nil {
			writer.Flush()
			return count, err
		}
		if err := writer.Write(recordToRow(r)); err != nil {
			return count, audit.NewExportError(string(FormatCSV), count, err)
		}
		count++

		if count%flushEvery == 0 {
			writer.Flush()
			if err := writer.Error(); err != nil {
				return count, audit.NewExportError(string(FormatCSV), count, err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return count, audit.NewExportError(string(FormatCSV), count, err)
	}
	return count, nil
}

func headerRow() []string {
	return []string{
		"seq", "id", "kind", "timestamp",
		"actor_id", "role", "request_id",
		"operation", "table", "plan",
		"verdict", "reason", "matched_rules", "override",
		"status", "rows_affected", "error_kind", "error", "attempts",
		"dry_run", "justification", "policy_version", "hash",
	}
}

func recordToRow(r *audit.Record) []string {
	var operation, table, planJSON string
	if r.Plan != nil {
		operation = string(r.Plan.Operation)
		table = r.Plan.Table
		data, _ := json.Marshal(r.Plan)
		planJSON = string(data)
	}

	var status, rowsAffected, errorKind, errMsg, attempts string
	if r.Outcome != nil {
		status = string(r.Outcome.Status)
		rowsAffected = strconv.FormatInt(r.Outcome.RowsAffected, 10)
		errorKind = string(r.Outcome.ErrorKind)
		errMsg = r.Outcome.Error
		attempts = strconv.Itoa(r.Outcome.Attempts)
	}

	var justification string
	if r.Justification != nil {
		justification = *r.Justification
	}

	return []string{
		strconv.FormatInt(r.Seq, 10),
		r.ID,
		string(r.Kind),
		r.Timestamp.Format(time.RFC3339Nano),
		r.ActorID,
		r.Role,
		r.RequestID,
		operation,
		table,
		planJSON,
		string(r.Decision.Verdict),
		r.Decision.Reason,
		strings.Join(r.Decision.RuleIDs(), ";"),
		strconv.FormatBool(r.Decision.Override),
		status,
		rowsAffected,
		errorKind,
		errMsg,
		attempts,
		strconv.FormatBool(r.DryRun),
		justification,
		r.PolicyVersion,
		r.Hash,
	}
}
