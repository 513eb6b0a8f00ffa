// Package aggregate folds verifier outcomes and gate failures into one
// deduplicated gap report and the digest the orchestrator terminates on.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"investigator/internal/casefile"
	"investigator/internal/gap"
	"investigator/internal/gate"
	"investigator/internal/history"
	"investigator/internal/logging"
	"investigator/internal/verify"
)

// Stats counts gaps per severity.
type Stats struct {
	TotalGaps     int `json:"total_gaps"`
	BlockingCount int `json:"blocking_count"`
	HighCount     int `json:"high_count"`
	MediumCount   int `json:"medium_count"`
	LowCount      int `json:"low_count"`
}

// Paths are the files a report was written to.
type Paths struct {
	Gaps        string `json:"gaps"`
	Digest      string `json:"digest"`
	GateResults string `json:"gate_results,omitempty"`
	History     string `json:"history,omitempty"`
}

// Report is control/gaps.json.
type Report struct {
	CaseDir     string           `json:"case_dir"`
	Iteration   int              `json:"iteration"`
	GeneratedAt time.Time        `json:"generated_at"`
	DurationMS  int64            `json:"duration_ms"`
	Verifiers   []verify.Outcome `json:"verifiers"`
	Blocking    []gap.Gap        `json:"blocking"`
	NonBlocking []gap.Gap        `json:"non_blocking"`
	Stats       Stats            `json:"stats"`
	// Rejected counts raw gaps dropped for having no type.
	Rejected int           `json:"rejected,omitempty"`
	Changes  *history.Diff `json:"changes,omitempty"`
	Paths    Paths         `json:"paths"`
}

// All returns blocking then non-blocking gaps.
func (r *Report) All() []gap.Gap {
	return append(append([]gap.Gap(nil), r.Blocking...), r.NonBlocking...)
}

// CanTerminate is true when no gap blocks.
func (r *Report) CanTerminate() bool { return r.Stats.BlockingCount == 0 }

// Digest is control/digest.json.
type Digest struct {
	Iteration    int       `json:"iteration"`
	Timestamp    time.Time `json:"timestamp"`
	BlockingGaps int       `json:"blocking_gaps"`
	TotalGaps    int       `json:"total_gaps"`
	CanTerminate bool      `json:"can_terminate"`
}

// Aggregator builds and persists gap reports.
type Aggregator struct {
	Table   *gap.Table
	Now     func() time.Time
	Logger  *slog.Logger
	History history.Store
}

func (a *Aggregator) logger() *slog.Logger {
	if a.Logger == nil {
		return logging.New("aggregate")
	}
	return a.Logger
}

// Build normalizes, deduplicates and partitions gaps. Verifier gaps come
// first in verifier order, then one GATE_FAILED gap per failing gate; the
// first gap seen for an ID wins.
func (a *Aggregator) Build(caseDir string, iteration int, outcomes []verify.Outcome, gates *gate.Report) *Report {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	log := a.logger()
	rep := &Report{
		CaseDir:     caseDir,
		Iteration:   iteration,
		GeneratedAt: now().UTC(),
		Verifiers:   outcomes,
		Blocking:    []gap.Gap{},
		NonBlocking: []gap.Gap{},
	}
	if rep.Verifiers == nil {
		rep.Verifiers = []verify.Outcome{}
	}

	var all []gap.Gap
	for _, o := range outcomes {
		for _, raw := range o.Gaps {
			g, err := gap.Normalize(raw, a.Table)
			if err != nil {
				rep.Rejected++
				log.Warn("dropping gap", "verifier", o.Name, "error", err)
				continue
			}
			all = append(all, g)
		}
	}
	if gates != nil {
		for _, r := range gates.Failed() {
			g, err := gap.Normalize(gap.GateFailed(r.Name, r.Reason), a.Table)
			if err != nil {
				continue
			}
			all = append(all, g)
		}
	}

	for _, g := range gap.Dedupe(all) {
		rep.Stats.TotalGaps++
		switch g.Severity {
		case gap.SeverityBlocker:
			rep.Stats.BlockingCount++
			rep.Blocking = append(rep.Blocking, g)
			continue
		case gap.SeverityHigh:
			rep.Stats.HighCount++
		case gap.SeverityMedium:
			rep.Stats.MediumCount++
		case gap.SeverityLow:
			rep.Stats.LowCount++
		}
		rep.NonBlocking = append(rep.NonBlocking, g)
	}
	return rep
}

// Digest summarizes rep.
func (rep *Report) Digest() Digest {
	return Digest{
		Iteration:    rep.Iteration,
		Timestamp:    rep.GeneratedAt,
		BlockingGaps: rep.Stats.BlockingCount,
		TotalGaps:    rep.Stats.TotalGaps,
		CanTerminate: rep.CanTerminate(),
	}
}

// Persist records rep in history (when configured), then writes gaps.json
// and digest.json, replacing any previous run's files.
func (a *Aggregator) Persist(ctx context.Context, rep *Report) error {
	if err := casefile.EnsureControlDir(rep.CaseDir); err != nil {
		return err
	}
	rep.Paths = Paths{
		Gaps:        casefile.ControlPath(rep.CaseDir, casefile.GapsFile),
		Digest:      casefile.ControlPath(rep.CaseDir, casefile.DigestFile),
		GateResults: casefile.ControlPath(rep.CaseDir, casefile.GateResultsFile),
	}
	if a.History != nil {
		run := history.Run{
			Iteration:    rep.Iteration,
			At:           rep.GeneratedAt,
			BlockingGaps: rep.Stats.BlockingCount,
			TotalGaps:    rep.Stats.TotalGaps,
			CanTerminate: rep.CanTerminate(),
		}
		for _, g := range rep.All() {
			run.Gaps = append(run.Gaps, history.GapRef{ID: g.ID, Type: g.Type, Severity: string(g.Severity), Message: g.Message})
		}
		_, diff, err := a.History.Record(ctx, run)
		if err != nil {
			return fmt.Errorf("record gap history: %w", err)
		}
		rep.Changes = &diff
		rep.Paths.History = casefile.ControlPath(rep.CaseDir, casefile.HistoryDBFile)
		a.logger().Info("gap history", "new", len(diff.New), "resolved", len(diff.Resolved), "persisting", len(diff.Persisting))
	}
	if err := casefile.WriteJSON(rep.Paths.Gaps, rep); err != nil {
		return fmt.Errorf("write gaps: %w", err)
	}
	if err := casefile.WriteJSON(rep.Paths.Digest, rep.Digest()); err != nil {
		return fmt.Errorf("write digest: %w", err)
	}
	return nil
}

// LoadDigest reads control/digest.json; nil when absent.
func LoadDigest(caseDir string) (*Digest, error) {
	return casefile.ReadJSON[Digest](casefile.ControlPath(caseDir, casefile.DigestFile))
}

// Load reads control/gaps.json; nil when absent.
func Load(caseDir string) (*Report, error) {
	return casefile.ReadJSON[Report](casefile.ControlPath(caseDir, casefile.GapsFile))
}
