package display

import "testing"

func TestPhase(t *testing.T) {
	cases := []struct {
		code, want string
	}{
		{"PLAN", "Planning"},
		{"FOLLOW", "Following Leads"},
		{"COMPLETE", "Complete"},
		{"DRAFTING", "DRAFTING"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Phase(tc.code); got != tc.want {
			t.Errorf("Phase(%q) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestPhaseWithCode(t *testing.T) {
	if got := PhaseWithCode("VERIFY"); got != "Verification (VERIFY)" {
		t.Errorf("got %q", got)
	}
	if got := PhaseWithCode("X"); got != "X" {
		t.Errorf("got %q", got)
	}
}

func TestPhasePath(t *testing.T) {
	got := PhasePath([]string{"PLAN", "BOOTSTRAP", "QUESTION"})
	if want := "Planning → Lead Bootstrap → Question Frameworks"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := PhasePath(nil); got != "" {
		t.Errorf("empty path = %q", got)
	}
}

func TestGate(t *testing.T) {
	for _, name := range []string{"planning", "questions", "curiosity", "reconciliation", "article", "sources", "integrity", "legal", "balance", "completeness", "significance"} {
		if Gate(name) == name {
			t.Errorf("gate %q has no display name", name)
		}
	}
	if got := GateWithCode("legal"); got != "Legal Review (legal)" {
		t.Errorf("got %q", got)
	}
}

func TestGapType(t *testing.T) {
	if got := GapType("CITATION_MISMATCH"); got != "Citation Mismatch" {
		t.Errorf("got %q", got)
	}
	if got := GapTypeWithCode("CUSTOM"); got != "CUSTOM" {
		t.Errorf("got %q", got)
	}
}

func TestSeverity(t *testing.T) {
	cases := map[string]string{"BLOCKER": "Blocker", "LOW": "Low", "": ""}
	for in, want := range cases {
		if got := Severity(in); got != want {
			t.Errorf("Severity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRule(t *testing.T) {
	if got := Rule("follow.in-flight"); got != "Waiting On Claimed Leads" {
		t.Errorf("got %q", got)
	}
	if got := RuleWithCode("nope"); got != "nope" {
		t.Errorf("got %q", got)
	}
	if got := LeadStatus("dead_end"); got != "Dead End" {
		t.Errorf("got %q", got)
	}
}
