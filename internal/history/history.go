// Package history records every gap aggregation run so consecutive runs can
// be diffed by gap ID.
package history

import (
	"context"
	"sort"
	"time"
)

// GapRef is the part of a gap kept in history.
type GapRef struct {
	ID       string `json:"gap_id"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Run is one aggregation.
type Run struct {
	Seq          int64     `json:"seq"`
	Iteration    int       `json:"iteration"`
	At           time.Time `json:"at"`
	BlockingGaps int       `json:"blocking_gaps"`
	TotalGaps    int       `json:"total_gaps"`
	CanTerminate bool      `json:"can_terminate"`
	Gaps         []GapRef  `json:"gaps,omitempty"`
}

// Diff compares a run with the one before it.
type Diff struct {
	Previous   int64    `json:"previous_seq,omitempty"`
	New        []string `json:"new"`
	Resolved   []string `json:"resolved"`
	Persisting []string `json:"persisting"`
}

// Store persists runs.
type Store interface {
	// Record appends run, assigns its Seq and returns the diff against the
	// previous run. The first run reports every gap as new.
	Record(ctx context.Context, run Run) (Run, Diff, error)
	// Recent returns up to limit runs, newest first, without gap lists.
	Recent(ctx context.Context, limit int) ([]Run, error)
	// Latest returns the newest run with its gaps, or nil.
	Latest(ctx context.Context) (*Run, error)
	Close() error
}

// Compare diffs gap ID sets. Output lists are sorted and never nil.
func Compare(prev, cur []GapRef) Diff {
	before := make(map[string]bool, len(prev))
	for _, g := range prev {
		before[g.ID] = true
	}
	now := make(map[string]bool, len(cur))
	d := Diff{New: []string{}, Resolved: []string{}, Persisting: []string{}}
	for _, g := range cur {
		if now[g.ID] {
			continue
		}
		now[g.ID] = true
		if before[g.ID] {
			d.Persisting = append(d.Persisting, g.ID)
		} else {
			d.New = append(d.New, g.ID)
		}
	}
	for id := range before {
		if !now[id] {
			d.Resolved = append(d.Resolved, id)
		}
	}
	sort.Strings(d.New)
	sort.Strings(d.Resolved)
	sort.Strings(d.Persisting)
	return d
}
