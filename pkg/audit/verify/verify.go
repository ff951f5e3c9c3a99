package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/warden/pkg/audit"
)

// ProblemKind classifies an integrity problem.
type ProblemKind string

const (
	ProblemHashMismatch ProblemKind = "hash_mismatch"
	ProblemUndecodable  ProblemKind = "undecodable"
	ProblemSeqMismatch  ProblemKind = "seq_mismatch"
	ProblemOutOfOrder   ProblemKind = "out_of_order"
	ProblemGap          ProblemKind = "gap"
)

// Problem is one integrity violation.
type Problem struct {
	Seq    int64       `json:"seq"`
	Kind   ProblemKind `json:"kind"`
	Detail string      `json:"detail"`
}

// Report summarizes a verification run.
type Report struct {
	Checked   int           `json:"checked"`
	FirstSeq  int64         `json:"first_seq"`
	LastSeq   int64         `json:"last_seq"`
	Problems  []Problem     `json:"problems"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether no problems were found.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

func (r *Report) add(seq int64, kind ProblemKind, format string, args ...any) {
	r.Problems = append(r.Problems, Problem{Seq: seq, Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

// Verify checks every entry in the ledger. It returns an error only when the
// ledger cannot be read; integrity problems are collected in the report.
func Verify(ctx context.Context, ledger audit.Ledger) (*Report, error) {
	logger := slog.Default().With("component", "audit.verify")

	report := &Report{
		Problems:  []Problem{},
		StartedAt: time.Now().UTC(),
	}

	var prev int64
	for entry, err := range ledger.Entries(ctx, 0) {
		if err != nil {
			return nil, err
		}
		report.Checked++
		if report.Checked == 1 {
			report.FirstSeq = entry.Seq
		}
		report.LastSeq = entry.Seq

		switch {
		case entry.Seq <= prev:
			report.add(entry.Seq, ProblemOutOfOrder, "seq %d follows %d", entry.Seq, prev)
		case entry.Seq != prev+1:
			report.add(entry.Seq, ProblemGap, "seqs %d to %d missing", prev+1, entry.Seq-1)
		}
		prev = entry.Seq

		if got := audit.HashPayload(entry.Payload); got != entry.Hash {
			report.add(entry.Seq, ProblemHashMismatch, "stored %s, computed %s", entry.Hash, got)
		}

		r, err := entry.Decode()
		if err != nil {
			report.add(entry.Seq, ProblemUndecodable, "%v", err)
			continue
		}
		if r.Seq != entry.Seq {
			report.add(entry.Seq, ProblemSeqMismatch, "payload carries seq %d", r.Seq)
		}
	}

	report.Duration = time.Since(report.StartedAt)

	if report.OK() {
		logger.Info("ledger verified",
			"checked", report.Checked,
			"last_seq", report.LastSeq,
			"duration_ms", report.Duration.Milliseconds(),
		)
	} else {
		logger.Error("ledger verification found problems",
			"checked", report.Checked,
			"problems", len(report.Problems),
			"first_problem_seq", report.Problems[0].Seq,
		)
	}
	return report, nil
}
