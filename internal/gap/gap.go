// Package gap defines the normalized defect record shared by verifiers and
// gates, and the content-derived ID that keeps it stable across runs.
package gap

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Severity of a gap. Only BLOCKER prevents termination.
type Severity string

const (
	SeverityBlocker Severity = "BLOCKER"
	SeverityHigh    Severity = "HIGH"
	SeverityMedium  Severity = "MEDIUM"
	SeverityLow     Severity = "LOW"
)

// Severities lists every severity, most severe first.
var Severities = []Severity{SeverityBlocker, SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity upper-cases s and reports whether it names a severity.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	switch sev {
	case SeverityBlocker, SeverityHigh, SeverityMedium, SeverityLow:
		return sev, true
	}
	return "", false
}

// Known gap types. Verifiers may emit others; those default to MEDIUM.
const (
	TypeMissingEvidence           = "MISSING_EVIDENCE"
	TypeInsufficientCorroboration = "INSUFFICIENT_CORROBORATION"
	TypeUncitedClaim              = "UNCITED_CLAIM"
	TypeCitationMismatch          = "CITATION_MISMATCH"
	TypeBrokenCitation            = "BROKEN_CITATION"
	TypeUnresolvedLead            = "UNRESOLVED_LEAD"
	TypeMissingResult             = "MISSING_RESULT"
	TypeInvalidSource             = "INVALID_SOURCE"
	TypeMissingMetadata           = "MISSING_METADATA"
	TypeStateInconsistent         = "STATE_INCONSISTENT"
	TypeGateFailed                = "GATE_FAILED"
)

var defaultSeverity = map[string]Severity{
	TypeMissingEvidence:           SeverityBlocker,
	TypeInsufficientCorroboration: SeverityHigh,
	TypeUncitedClaim:              SeverityHigh,
	TypeCitationMismatch:          SeverityBlocker,
	TypeBrokenCitation:            SeverityBlocker,
	TypeUnresolvedLead:            SeverityHigh,
	TypeMissingResult:             SeverityMedium,
	TypeInvalidSource:             SeverityMedium,
	TypeMissingMetadata:           SeverityLow,
	TypeStateInconsistent:         SeverityBlocker,
	TypeGateFailed:                SeverityBlocker,
}

// Gap is one defect found in a case.
type Gap struct {
	ID               string         `json:"gap_id"`
	Type             string         `json:"type"`
	Severity         Severity       `json:"severity"`
	Object           map[string]any `json:"object"`
	Message          string         `json:"message"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
	Verifier         string         `json:"verifier,omitempty"`
}

// Table resolves a gap type to a severity: configured overrides first, then
// the built-in table, then MEDIUM.
type Table struct {
	overrides map[string]Severity
}

// NewTable builds a Table from a type→severity override map. Invalid
// severities are ignored.
func NewTable(overrides map[string]string) *Table {
	t := &Table{overrides: make(map[string]Severity, len(overrides))}
	for typ, s := range overrides {
		if sev, ok := ParseSeverity(s); ok {
			t.overrides[strings.ToUpper(typ)] = sev
		}
	}
	return t
}

// Severity returns the severity for typ.
func (t *Table) Severity(typ string) Severity {
	if t != nil {
		if sev, ok := t.overrides[typ]; ok {
			return sev
		}
	}
	if sev, ok := defaultSeverity[typ]; ok {
		return sev
	}
	return SeverityMedium
}

// ComputeID is the first 8 hex characters, upper-cased, of the SHA-1 of the
// canonical JSON encoding of {type, object, message}.
func ComputeID(typ string, object map[string]any, message string) (string, error) {
	if object == nil {
		object = map[string]any{}
	}
	b, err := CanonicalJSON(map[string]any{"type": typ, "object": object, "message": message})
	if err != nil {
		return "", fmt.Errorf("canonicalize gap: %w", err)
	}
	sum := sha1.Sum(b)
	return strings.ToUpper(hex.EncodeToString(sum[:])[:8]), nil
}

// Normalize validates g, fills its ID and resolves its severity. An explicit
// valid severity on g wins over the table.
func Normalize(g Gap, table *Table) (Gap, error) {
	g.Type = strings.TrimSpace(g.Type)
	if g.Type == "" {
		return Gap{}, fmt.Errorf("gap has no type")
	}
	if g.Object == nil {
		g.Object = map[string]any{}
	}
	if sev, ok := ParseSeverity(string(g.Severity)); ok {
		g.Severity = sev
	} else {
		g.Severity = table.Severity(g.Type)
	}
	id, err := ComputeID(g.Type, g.Object, g.Message)
	if err != nil {
		return Gap{}, err
	}
	g.ID = id
	return g, nil
}

// Dedupe keeps the first gap for each ID, preserving order.
func Dedupe(gaps []Gap) []Gap {
	seen := make(map[string]bool, len(gaps))
	out := make([]Gap, 0, len(gaps))
	for _, g := range gaps {
		if seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		out = append(out, g)
	}
	return out
}

// Sort orders gaps by severity, then type, then ID.
func Sort(gaps []Gap) {
	rank := func(s Severity) int {
		for i, v := range Severities {
			if v == s {
				return i
			}
		}
		return len(Severities)
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		a, b := gaps[i], gaps[j]
		if ra, rb := rank(a.Severity), rank(b.Severity); ra != rb {
			return ra < rb
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
}

// GateFailed builds the synthetic gap for a failed gate. The message only
// names the gate so the ID survives changes in the failure reason.
func GateFailed(gate, reason string) Gap {
	g := Gap{
		Type:     TypeGateFailed,
		Object:   map[string]any{"gate": gate},
		Message:  "gate failed: " + gate,
		Verifier: "gates",
	}
	if reason != "" {
		g.SuggestedActions = []string{reason}
	}
	return g
}

// Crash builds the synthetic gap recorded when a verifier fails to run.
func Crash(verifier string, err error) Gap {
	return Gap{
		Type:             TypeStateInconsistent,
		Severity:         SeverityBlocker,
		Object:           map[string]any{"verifier": verifier},
		Message:          fmt.Sprintf("verifier %s crashed: %v", verifier, err),
		SuggestedActions: []string{"fix or disable verifier " + verifier, "rerun gap aggregation"},
		Verifier:         verifier,
	}
}
