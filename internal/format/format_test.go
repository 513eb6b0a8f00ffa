package format_test

import (
	"strings"
	"testing"
	"time"

	"investigator/internal/aggregate"
	"investigator/internal/format"
	"investigator/internal/gap"
	"investigator/internal/gate"
	"investigator/internal/history"
	"investigator/internal/ledger"
	"investigator/internal/wiring"
)

func TestASCII_BasicTable(t *testing.T) {
	tb := format.NewTable(format.ASCII)
	tb.Header("Gate", "Pass")
	tb.Row("planning", true)
	tb.Row("legal", false)
	out := tb.String()

	contains(t, out, "gate", "planning", "false", "───")
	if tb.Len() != 2 {
		t.Errorf("Len = %d", tb.Len())
	}
}

func TestMarkdown_TitleAndFooter(t *testing.T) {
	tb := format.NewTable(format.Markdown)
	tb.Title("Leads")
	tb.Header("Status", "Count")
	tb.Row("pending", 3)
	tb.Footer("total", 3)
	out := tb.String()

	if !strings.HasPrefix(out, "### Leads\n\n") {
		t.Errorf("expected heading:\n%s", out)
	}
	contains(t, out, "| status", "---", "total")
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    format.Mode
		wantErr bool
	}{
		{"", format.ASCII, false},
		{"table", format.ASCII, false},
		{"Markdown", format.Markdown, false},
		{"md", format.Markdown, false},
		{"json", format.ASCII, true},
	}
	for _, tc := range cases {
		got, err := format.ParseMode(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseMode(%q) = %v, %v", tc.in, got, err)
		}
	}
}

func TestHelpers(t *testing.T) {
	if got := format.FmtMillis(850); got != "850ms" {
		t.Errorf("FmtMillis(850) = %q", got)
	}
	if got := format.FmtMillis(4200); got != "4.2s" {
		t.Errorf("FmtMillis(4200) = %q", got)
	}
	if got := format.FmtMillis(185000); got != "3m 5s" {
		t.Errorf("FmtMillis(185000) = %q", got)
	}
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	if got := format.FmtAge(now.Add(-90*time.Minute), now); got != "1h ago" {
		t.Errorf("FmtAge = %q", got)
	}
	if got := format.FmtAge(now.Add(-72*time.Hour), now); got != "3d ago" {
		t.Errorf("FmtAge = %q", got)
	}
	if got := format.Truncate("héllo wörld", 8); got != "héllo..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := format.Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
}

func TestGateTable(t *testing.T) {
	rep := &gate.Report{
		Gates: map[string]gate.Result{
			"legal":    {Name: "legal", Passed: false, Reason: "verdict FAIL"},
			"planning": {Name: "planning", Passed: true},
			"custom":   {Name: "custom", Passed: true},
		},
		Summary: gate.Summary{Passed: 2, Failed: 1, Total: 3},
	}
	out := format.GateTable(rep, format.Markdown).String()
	out = strings.ToLower(out)
	p, l, c := strings.Index(out, "planning"), strings.Index(out, "legal"), strings.Index(out, "custom")
	if p < 0 || l < 0 || c < 0 || !(p < l && l < c) {
		t.Errorf("gates out of order:\n%s", out)
	}
	contains(t, out, "legal review", "verdict fail", "2/3 passing")
}

func TestGapTable(t *testing.T) {
	rep := &aggregate.Report{
		Blocking: []gap.Gap{{ID: "AB12CD34", Type: gap.TypeMissingEvidence, Severity: gap.SeverityBlocker,
			Object: map[string]any{"source_id": "S009"}, Message: "source S009 is cited but has no captured evidence"}},
		NonBlocking: []gap.Gap{{ID: "0011FFEE", Type: gap.TypeUnresolvedLead, Severity: gap.SeverityHigh,
			Object: map[string]any{"lead_id": "L004"}, Message: "lead L004 is still pending"}},
		Stats: aggregate.Stats{TotalGaps: 2, BlockingCount: 1, HighCount: 1},
	}
	out := format.GapTable(rep, format.ASCII).String()
	contains(t, out, "2 total, 1 blocking (blocked)", "missing evidence", "source_id=s009", "blocker", "high 1")
	if strings.Index(out, "AB12CD34") > strings.Index(out, "0011FFEE") {
		t.Error("blocking gaps must come first")
	}
	if got := format.SeverityCounts(rep.All()); got != "1 blocker, 1 high" {
		t.Errorf("SeverityCounts = %q", got)
	}
}

func TestObject(t *testing.T) {
	got := format.Object(map[string]any{"source_id": "S002", "claim_id": "C001"})
	if got != "claim_id=C001 source_id=S002" {
		t.Errorf("Object = %q", got)
	}
	if got := format.ChangeLine(&history.Diff{New: []string{"A"}, Persisting: []string{"B", "C"}}); got != "+1 new, -0 resolved, 2 persisting" {
		t.Errorf("ChangeLine = %q", got)
	}
}

func TestStatus(t *testing.T) {
	st := &wiring.Status{
		Case:      "port",
		Phase:     "FOLLOW",
		Iteration: 3,
		Gates:     &gate.Report{Gates: map[string]gate.Result{"planning": {Name: "planning", Passed: true}}, Summary: gate.Summary{Passed: 1, Total: 1}},
		Leads: &ledger.Stats{Version: 4, MaxDepth: 3, Total: 2,
			ByStatus: map[ledger.Status]int{ledger.StatusPending: 1, ledger.StatusInvestigated: 1}, Available: 1},
		Digest: &aggregate.Digest{TotalGaps: 4, BlockingGaps: 1},
	}
	out := format.Status(st, format.Markdown)
	contains(t, out, "## case port: following leads (follow), iteration 3", "planning files", "ledger v4", "4 gaps, 1 blocking")
	st.Leads = nil
	contains(t, format.Status(st, format.ASCII), "no lead ledger yet.")
}

// contains checks case-insensitively: go-pretty upper-cases headers and
// footers in some styles.
func contains(t *testing.T, out string, wants ...string) {
	t.Helper()
	lower := strings.ToLower(out)
	for _, w := range wants {
		if !strings.Contains(lower, strings.ToLower(w)) {
			t.Errorf("missing %q in output:\n%s", w, out)
		}
	}
}
