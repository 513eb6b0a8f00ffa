// Package display provides human-readable names for machine codes.
//
// Rule: code is for machines, words are for humans.
// Use these functions in CLI output, markdown reports, logs, and docs.
// Keep raw codes for JSON fields, map keys, and equality comparisons.
package display

import "strings"

func lookup(m map[string]string, code string) string {
	if name, ok := m[code]; ok {
		return name
	}
	return code
}

func withCode(m map[string]string, code string) string {
	if name, ok := m[code]; ok {
		return name + " (" + code + ")"
	}
	return code
}

// --- Phases ---

var phases = map[string]string{
	"PLAN":      "Planning",
	"BOOTSTRAP": "Lead Bootstrap",
	"QUESTION":  "Question Frameworks",
	"FOLLOW":    "Following Leads",
	"WRITE":     "Writing",
	"VERIFY":    "Verification",
	"COMPLETE":  "Complete",
}

// Phase returns the human-readable name for a phase code.
// Unknown codes are returned as-is.
func Phase(code string) string { return lookup(phases, code) }

// PhaseWithCode returns "Following Leads (FOLLOW)" format.
func PhaseWithCode(code string) string { return withCode(phases, code) }

// PhasePath renders a sequence of phases: "Planning → Lead Bootstrap".
func PhasePath(codes []string) string {
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = Phase(c)
	}
	return strings.Join(names, " → ")
}

// --- Gates ---

var gates = map[string]string{
	"planning":       "Planning Files",
	"questions":      "Question Frameworks",
	"curiosity":      "Curiosity Satisfied",
	"reconciliation": "Leads Reconciled",
	"article":        "Article Drafted",
	"sources":        "Sources Captured",
	"integrity":      "Integrity Review",
	"legal":          "Legal Review",
	"balance":        "Counterpoints Present",
	"completeness":   "Key Findings Cited",
	"significance":   "Summary Supported",
}

// Gate returns the human-readable name for a gate.
func Gate(name string) string { return lookup(gates, name) }

// GateWithCode returns "Legal Review (legal)" format.
func GateWithCode(name string) string { return withCode(gates, name) }

// --- Gap Types ---

var gapTypes = map[string]string{
	"MISSING_EVIDENCE":           "Missing Evidence",
	"INSUFFICIENT_CORROBORATION": "Insufficient Corroboration",
	"UNCITED_CLAIM":              "Uncited Claim",
	"CITATION_MISMATCH":          "Citation Mismatch",
	"BROKEN_CITATION":            "Broken Citation",
	"UNRESOLVED_LEAD":            "Unresolved Lead",
	"MISSING_RESULT":             "Missing Lead Result",
	"INVALID_SOURCE":             "Invalid Source",
	"MISSING_METADATA":           "Missing Capture Metadata",
	"STATE_INCONSISTENT":         "Inconsistent State",
	"GATE_FAILED":                "Gate Failed",
}

// GapType returns the human-readable name for a gap type.
func GapType(code string) string { return lookup(gapTypes, code) }

// GapTypeWithCode returns "Missing Evidence (MISSING_EVIDENCE)" format.
func GapTypeWithCode(code string) string { return withCode(gapTypes, code) }

// Severity title-cases a severity: "BLOCKER" -> "Blocker".
func Severity(code string) string {
	if code == "" {
		return ""
	}
	return code[:1] + strings.ToLower(code[1:])
}

// --- Leads ---

var leadStatuses = map[string]string{
	"pending":      "Pending",
	"investigated": "Investigated",
	"dead_end":     "Dead End",
}

// LeadStatus returns the human-readable name for a lead status.
func LeadStatus(code string) string { return lookup(leadStatuses, code) }

// --- Orchestrator Rules ---

var rules = map[string]string{
	"all-gates":              "All Gates Pass",
	"complete":               "Investigation Complete",
	"plan.gate":              "Planning Incomplete",
	"plan.done":              "Planning Done",
	"bootstrap.leads":        "No Leads Yet",
	"bootstrap.done":         "Leads Seeded",
	"question.gate":          "Questions Incomplete",
	"question.done":          "Questions Done",
	"follow.batch":           "Parallel Lead Batch",
	"follow.lead":            "Next Lead",
	"follow.in-flight":       "Waiting On Claimed Leads",
	"follow.reconcile":       "Reconcile Leads",
	"follow.curiosity":       "Curiosity Check",
	"follow.done":            "Leads Exhausted",
	"write.prerequisites":    "Write Blocked",
	"write.gate":             "Article Incomplete",
	"write.done":             "Article Drafted",
	"verify.parallel-review": "Parallel Reviews",
	"verify.quality":         "Quality Gate",
	"verify.remediate":       "Remediation",
	"verify.done":            "Verification Done",
	"unknown-phase":          "Unknown Phase",
}

// Rule returns the human-readable name for an orchestrator rule ID.
// "follow.batch" -> "Parallel Lead Batch".
func Rule(id string) string { return lookup(rules, id) }

// RuleWithCode returns "Parallel Lead Batch (follow.batch)" format.
func RuleWithCode(id string) string { return withCode(rules, id) }
