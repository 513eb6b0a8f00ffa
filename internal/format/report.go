package format

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"investigator/internal/aggregate"
	"investigator/internal/display"
	"investigator/internal/gap"
	"investigator/internal/gate"
	"investigator/internal/history"
	"investigator/internal/ledger"
	"investigator/internal/wiring"
)

// GateTable lists every gate in evaluation order with its verdict.
func GateTable(rep *gate.Report, m Mode) TableBuilder {
	tb := NewTable(m)
	tb.Title(fmt.Sprintf("Gates: %d/%d passing", rep.Summary.Passed, rep.Summary.Total))
	tb.Header("Gate", "", "Pass", "Reason")
	for _, name := range gateOrder(rep) {
		r := rep.Gates[name]
		tb.Row(name, display.Gate(name), BoolMark(r.Passed), r.Reason)
	}
	tb.Columns(ColumnConfig{Number: 3, Align: AlignCenter}, ColumnConfig{Number: 4, MaxWidth: 70})
	return tb
}

func gateOrder(rep *gate.Report) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range gate.Names() {
		if _, ok := rep.Gates[n]; ok {
			out = append(out, n)
			seen[n] = true
		}
	}
	var extra []string
	for n := range rep.Gates {
		if !seen[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// GapTable lists blocking gaps first, then the rest.
func GapTable(rep *aggregate.Report, m Mode) TableBuilder {
	tb := NewTable(m)
	state := "blocked"
	if rep.CanTerminate() {
		state = "can terminate"
	}
	tb.Title(fmt.Sprintf("Gaps: %d total, %d blocking (%s)", rep.Stats.TotalGaps, rep.Stats.BlockingCount, state))
	tb.Header("ID", "Severity", "Type", "Object", "Message")
	for _, g := range rep.All() {
		tb.Row(g.ID, display.Severity(string(g.Severity)), display.GapType(g.Type), Object(g.Object), g.Message)
	}
	tb.Columns(ColumnConfig{Number: 4, MaxWidth: 30}, ColumnConfig{Number: 5, MaxWidth: 60})
	tb.Footer("", "", "", "", fmt.Sprintf("high %d, medium %d, low %d", rep.Stats.HighCount, rep.Stats.MediumCount, rep.Stats.LowCount))
	return tb
}

// Object renders a gap object as "k=v" pairs in key order.
func Object(obj map[string]any) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, obj[k])
	}
	return strings.Join(parts, " ")
}

// ChangeLine summarizes a history diff: "+2 new, -1 resolved, 3 persisting".
func ChangeLine(d *history.Diff) string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf("+%d new, -%d resolved, %d persisting", len(d.New), len(d.Resolved), len(d.Persisting))
}

// VerifierTable lists verifier outcomes.
func VerifierTable(rep *aggregate.Report, m Mode) TableBuilder {
	tb := NewTable(m)
	tb.Header("Verifier", "Script", "Ran", "Pass", "Gaps", "Error")
	for _, o := range rep.Verifiers {
		tb.Row(o.Name, o.Script, BoolMark(o.OK), BoolMark(o.Passed), o.GapCount, Truncate(o.Error, 60))
	}
	tb.Columns(ColumnConfig{Number: 5, Align: AlignRight})
	return tb
}

// LeadTable summarizes ledger counts.
func LeadTable(st ledger.Stats, m Mode) TableBuilder {
	tb := NewTable(m)
	tb.Title(fmt.Sprintf("Leads: %d (ledger v%d, max depth %d)", st.Total, st.Version, st.MaxDepth))
	tb.Header("Status", "Count")
	for _, s := range []ledger.Status{ledger.StatusPending, ledger.StatusInvestigated, ledger.StatusDeadEnd} {
		tb.Row(display.LeadStatus(string(s)), st.ByStatus[s])
	}
	tb.Row("Available now", st.Available)
	tb.Row("Claimed", st.InFlight)
	if st.StaleClaims > 0 {
		tb.Row("Stale claims", st.StaleClaims)
	}
	tb.Columns(ColumnConfig{Number: 2, Align: AlignRight})
	return tb
}

// LeadList lists individual leads.
func LeadList(leads []ledger.Lead, m Mode) TableBuilder {
	tb := NewTable(m)
	tb.Header("ID", "Priority", "Depth", "Status", "Lead")
	for _, l := range leads {
		tb.Row(l.ID, l.Priority, l.Depth, display.LeadStatus(string(l.Status)), l.Lead)
	}
	tb.Columns(ColumnConfig{Number: 3, Align: AlignRight}, ColumnConfig{Number: 5, MaxWidth: 70})
	return tb
}

// HistoryTable lists aggregation runs, newest first.
func HistoryTable(runs []history.Run, now time.Time, m Mode) TableBuilder {
	tb := NewTable(m)
	tb.Header("Run", "Iteration", "When", "Blocking", "Total", "Can terminate")
	for _, r := range runs {
		tb.Row(r.Seq, r.Iteration, FmtAge(r.At, now), r.BlockingGaps, r.TotalGaps, BoolMark(r.CanTerminate))
	}
	return tb
}

// Status renders the case overview.
func Status(st *wiring.Status, m Mode) string {
	var b strings.Builder
	heading := fmt.Sprintf("Case %s: %s, iteration %d", st.Case, display.PhaseWithCode(string(st.Phase)), st.Iteration)
	if m == Markdown {
		b.WriteString("## " + heading + "\n\n")
	} else {
		b.WriteString(heading + "\n\n")
	}
	b.WriteString(GateTable(st.Gates, m).String())
	b.WriteString("\n\n")
	if st.Leads != nil {
		b.WriteString(LeadTable(*st.Leads, m).String())
	} else {
		b.WriteString("No lead ledger yet.")
	}
	b.WriteString("\n")
	if d := st.Digest; d != nil {
		fmt.Fprintf(&b, "\nLast aggregation: %d gaps, %d blocking, can terminate %s\n", d.TotalGaps, d.BlockingGaps, BoolMark(d.CanTerminate))
	}
	return b.String()
}

// SeverityCounts renders "2 blocker, 1 high" for the non-zero counts.
func SeverityCounts(gaps []gap.Gap) string {
	counts := map[gap.Severity]int{}
	for _, g := range gaps {
		counts[g.Severity]++
	}
	var parts []string
	for _, s := range gap.Severities {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], strings.ToLower(string(s))))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
