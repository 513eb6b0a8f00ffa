// Package ledger is the lead work-queue shared by every investigation worker.
//
// All mutation happens under the store's exclusive lock as a single
// load-modify-save cycle, and every committed write bumps the document
// version by exactly one. Reads outside the lock (BatchSelect, Stats, Get)
// are advisory and may observe a slightly stale document.
package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a lead. Being claimed is not a status:
// claim fields are layered on top of a pending lead.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInvestigated Status = "investigated"
	StatusDeadEnd      Status = "dead_end"
)

// Terminal reports whether s takes a lead out of circulation.
func (s Status) Terminal() bool {
	return s == StatusInvestigated || s == StatusDeadEnd
}

// Priority orders pending work.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Rank returns the sort rank of p; unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// ParsePriority normalizes a user-supplied priority. Empty means MEDIUM.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q (want HIGH, MEDIUM or LOW)", s)
	}
}

// Lead is one unit of investigative work.
type Lead struct {
	ID        string     `json:"id"`
	Lead      string     `json:"lead"`
	Status    Status     `json:"status"`
	Priority  Priority   `json:"priority"`
	Depth     int        `json:"depth"`
	Parent    string     `json:"parent,omitempty"`
	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	Result    string     `json:"result,omitempty"`
	Sources   []string   `json:"sources,omitempty"`
}

// UnmarshalJSON accepts the older "from" spelling of the parent reference.
func (l *Lead) UnmarshalJSON(data []byte) error {
	type plain Lead
	var aux struct {
		plain
		From string `json:"from,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*l = Lead(aux.plain)
	if l.Parent == "" {
		l.Parent = aux.From
	}
	return nil
}

// Claimed reports whether claim fields are present, stale or not.
func (l *Lead) Claimed() bool {
	return l.ClaimedBy != "" || l.ClaimedAt != nil
}

func (l *Lead) clearClaim() {
	l.ClaimedBy = ""
	l.ClaimedAt = nil
}

// Document is the whole persisted ledger.
type Document struct {
	Version  int    `json:"version"`
	MaxDepth int    `json:"max_depth"`
	Leads    []Lead `json:"leads"`
}

func (d *Document) find(id string) *Lead {
	for i := range d.Leads {
		if d.Leads[i].ID == id {
			return &d.Leads[i]
		}
	}
	return nil
}

var leadIDPattern = regexp.MustCompile(`^L(\d+)$`)

// nextID returns L### with the number one past the highest numeric suffix in
// use. IDs that don't follow the pattern are ignored.
func (d *Document) nextID() string {
	max := 0
	for _, l := range d.Leads {
		m := leadIDPattern.FindStringSubmatch(l.ID)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("L%03d", max+1)
}

func (d *Document) clone() *Document {
	out := &Document{Version: d.Version, MaxDepth: d.MaxDepth, Leads: make([]Lead, len(d.Leads))}
	for i, l := range d.Leads {
		out.Leads[i] = l.clone()
	}
	return out
}

func (l Lead) clone() Lead {
	if l.ClaimedAt != nil {
		at := *l.ClaimedAt
		l.ClaimedAt = &at
	}
	if l.Sources != nil {
		l.Sources = append([]string(nil), l.Sources...)
	}
	return l
}
