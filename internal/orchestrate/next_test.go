package orchestrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"investigator/internal/casefile"
	"investigator/internal/gate"
	"investigator/internal/ledger"
	"investigator/internal/logging"
)

type fakeGates map[string]bool

func (f fakeGates) Run(context.Context, string) (*gate.Report, error) {
	rep := &gate.Report{Gates: map[string]gate.Result{}, Overall: true}
	for _, name := range gate.Names() {
		rep.Gates[name] = gate.Result{Name: name, Passed: f[name]}
		if !f[name] {
			rep.Overall = false
			rep.BlockingGates = append(rep.BlockingGates, name)
		}
	}
	return rep, nil
}

func passing(except ...string) fakeGates {
	g := fakeGates{}
	for _, n := range gate.Names() {
		g[n] = true
	}
	for _, n := range except {
		g[n] = false
	}
	return g
}

func failingAfter(n int) fakeGates {
	g := fakeGates{}
	for i, name := range gate.Names() {
		g[name] = i < n
	}
	return g
}

var clock = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }

func leadsWith(leads ...ledger.Lead) *ledger.Ledger {
	var doc *ledger.Document
	if leads != nil {
		doc = &ledger.Document{Version: 1, MaxDepth: 3, Leads: leads}
	}
	return ledger.New(ledger.NewMemStore(doc), ledger.Options{Now: clock, Logger: logging.Discard()})
}

func pending(id string, prio ledger.Priority, depth int) ledger.Lead {
	return ledger.Lead{ID: id, Lead: "lead " + id, Status: ledger.StatusPending, Priority: prio, Depth: depth}
}

func done(id string) ledger.Lead {
	return ledger.Lead{ID: id, Lead: "lead " + id, Status: ledger.StatusInvestigated, Priority: ledger.PriorityHigh, Result: "r"}
}

func newCase(t *testing.T, phase Phase) string {
	t.Helper()
	dir := t.TempDir()
	if phase != "" {
		st := InitState("test")
		st.Phase = phase
		if err := SaveState(dir, st); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func run(t *testing.T, dir string, g fakeGates, leads LeadSource, opts Options) Action {
	t.Helper()
	o := &Orchestrator{CaseDir: dir, Gates: g, Leads: leads, Now: clock, Logger: logging.Discard()}
	act, err := o.Next(context.Background(), opts)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return act
}

func TestNext_FreshCaseStartsInPlan(t *testing.T) {
	dir := newCase(t, "")
	act := run(t, dir, fakeGates{}, leadsWith(), Options{})
	if act.Status != StatusContinue || act.Phase != PhasePlan || act.Command != CmdPlan {
		t.Errorf("act = %+v", act)
	}
	if act.Status.ExitCode() != 2 {
		t.Errorf("exit = %d", act.Status.ExitCode())
	}
	st, _ := LoadState(dir)
	if st == nil || st.Phase != PhasePlan {
		t.Errorf("state not persisted: %+v", st)
	}
}

func TestNext_AutoAdvancesThroughSatisfiedPhases(t *testing.T) {
	dir := newCase(t, PhasePlan)
	leads := leadsWith(pending("L001", ledger.PriorityLow, 0), pending("L002", ledger.PriorityHigh, 1))

	act := run(t, dir, failingAfter(2), leads, Options{})
	if act.Phase != PhaseFollow || act.Command != CmdFollow {
		t.Fatalf("act = %+v", act)
	}
	if len(act.Leads) != 1 || act.Leads[0].ID != "L002" {
		t.Errorf("should pick highest priority lead, got %+v", act.Leads)
	}
	var path []Phase
	for _, tr := range act.Advanced {
		path = append(path, tr.To)
	}
	if diff := cmp.Diff([]Phase{PhaseBootstrap, PhaseQuestion, PhaseFollow}, path); diff != "" {
		t.Errorf("advanced (-want +got):\n%s", diff)
	}
	st, _ := LoadState(dir)
	if st.Phase != PhaseFollow || st.Iteration != 3 || len(st.History) != 3 {
		t.Errorf("state = %+v", st)
	}
	if act.Iteration != 3 {
		t.Errorf("iteration = %d", act.Iteration)
	}
}

func TestNext_BootstrapWaitsForLeads(t *testing.T) {
	dir := newCase(t, PhaseBootstrap)
	act := run(t, dir, passing(gate.Questions), leadsWith(), Options{})
	if act.Phase != PhaseBootstrap || act.Command != CmdBootstrap {
		t.Errorf("act = %+v", act)
	}
}

func TestNext_FollowBatch(t *testing.T) {
	leads := leadsWith(
		pending("L001", ledger.PriorityLow, 0),
		pending("L002", ledger.PriorityHigh, 2),
		pending("L003", ledger.PriorityHigh, 0),
		pending("L004", ledger.PriorityMedium, 1),
		done("L005"),
	)
	dir := newCase(t, PhaseFollow)
	act := run(t, dir, passing(gate.Curiosity, gate.Reconciliation, gate.Article), leads, Options{Batch: true, BatchSize: 3})
	if act.Command != CmdFollowBatch || !act.Parallel {
		t.Fatalf("act = %+v", act)
	}
	var ids []string
	for _, l := range act.Leads {
		ids = append(ids, l.ID)
	}
	if diff := cmp.Diff([]string{"L003", "L002", "L004"}, ids); diff != "" {
		t.Errorf("batch (-want +got):\n%s", diff)
	}
}

func TestNext_FollowBatchFallsBackToSingle(t *testing.T) {
	dir := newCase(t, PhaseFollow)
	act := run(t, dir, passing(gate.Curiosity, gate.Reconciliation), leadsWith(pending("L001", ledger.PriorityLow, 0), done("L002")), Options{Batch: true, BatchSize: 5})
	if act.Command != CmdFollow || act.Parallel || len(act.Leads) != 1 {
		t.Errorf("act = %+v", act)
	}
}

func TestNext_PendingLeadsBeforeGates(t *testing.T) {
	dir := newCase(t, PhaseFollow)
	// Gates would allow WRITE, but a pending lead must be pursued first.
	g := passing(gate.Article, gate.Sources, gate.Integrity, gate.Legal, gate.Balance, gate.Completeness, gate.Significance)
	act := run(t, dir, g, leadsWith(pending("L009", ledger.PriorityMedium, 1)), Options{})
	if act.Phase != PhaseFollow || act.Command != CmdFollow || act.Leads[0].ID != "L009" {
		t.Errorf("act = %+v", act)
	}
}

func TestNext_FollowWaitsForClaimedLeads(t *testing.T) {
	l := leadsWith(pending("L001", ledger.PriorityHigh, 0))
	if _, err := l.Claim(context.Background(), "L001"); err != nil {
		t.Fatal(err)
	}
	dir := newCase(t, PhaseFollow)
	act := run(t, dir, passing(gate.Curiosity, gate.Reconciliation, gate.Article), l, Options{})
	if act.Command != CmdWait || act.Status != StatusContinue {
		t.Errorf("act = %+v", act)
	}
}

func TestNext_FollowGates(t *testing.T) {
	cases := []struct {
		name   string
		gates  fakeGates
		phase  Phase
		cmd    string
		status Status
	}{
		{"reconcile first", passing(gate.Reconciliation, gate.Curiosity, gate.Article), PhaseFollow, CmdReconcile, StatusContinue},
		{"then curiosity", passing(gate.Curiosity, gate.Article), PhaseFollow, CmdCuriosity, StatusContinue},
		{"advance to write", passing(gate.Article, gate.Balance), PhaseWrite, CmdWrite, StatusContinue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := newCase(t, PhaseFollow)
			act := run(t, dir, tc.gates, leadsWith(done("L001")), Options{})
			if act.Phase != tc.phase || act.Command != tc.cmd || act.Status != tc.status {
				t.Errorf("act = %+v", act)
			}
		})
	}
}

func TestNext_WritePrerequisites(t *testing.T) {
	dir := newCase(t, PhaseWrite)
	act := run(t, dir, passing(gate.Curiosity, gate.Questions, gate.Article), leadsWith(done("L001")), Options{})
	if act.Status != StatusError || act.Status.ExitCode() != 1 {
		t.Fatalf("act = %+v", act)
	}
	if diff := cmp.Diff([]string{gate.Questions, gate.Curiosity}, act.Missing); diff != "" {
		t.Errorf("missing (-want +got):\n%s", diff)
	}
	if act.Phase != PhaseWrite {
		t.Errorf("phase must not move on error: %s", act.Phase)
	}
}

func TestNext_Verify(t *testing.T) {
	cases := []struct {
		name    string
		gates   fakeGates
		cmd     string
		failing []string
	}{
		{"parallel reviews", passing(gate.Integrity, gate.Legal, gate.Balance), CmdReviewParallel, []string{gate.Integrity, gate.Legal}},
		{"single review", passing(gate.Legal, gate.Balance), CmdVerify, []string{gate.Legal, gate.Balance}},
		{"sources failing", passing(gate.Sources, gate.Integrity, gate.Legal), CmdVerify, []string{gate.Sources, gate.Integrity, gate.Legal}},
		{"quality order", passing(gate.Significance, gate.Completeness), gate.Completeness, []string{gate.Completeness}},
		{"last quality gate", passing(gate.Significance), gate.Significance, []string{gate.Significance}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := newCase(t, PhaseVerify)
			act := run(t, dir, tc.gates, leadsWith(done("L001")), Options{})
			if act.Phase != PhaseVerify || act.Command != tc.cmd {
				t.Errorf("act = %+v", act)
			}
			if diff := cmp.Diff(tc.failing, act.FailingGates); diff != "" {
				t.Errorf("failing (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNext_EscapeHatch(t *testing.T) {
	for _, phase := range []Phase{PhasePlan, PhaseFollow, "SOMETHING"} {
		dir := newCase(t, phase)
		act := run(t, dir, passing(), leadsWith(pending("L001", ledger.PriorityHigh, 0)), Options{})
		if act.Status != StatusComplete || act.Phase != PhaseComplete || act.Status.ExitCode() != 0 {
			t.Errorf("%s: act = %+v", phase, act)
		}
		if len(act.Advanced) != 1 || act.Advanced[0].Rule != "all-gates" {
			t.Errorf("%s: advanced = %+v", phase, act.Advanced)
		}
	}
}

func TestNext_CompleteIsTerminal(t *testing.T) {
	dir := newCase(t, PhaseComplete)
	act := run(t, dir, fakeGates{}, leadsWith(), Options{})
	if act.Status != StatusComplete || len(act.Advanced) != 0 {
		t.Errorf("act = %+v", act)
	}
}

func TestNext_UnknownPhase(t *testing.T) {
	dir := newCase(t, "DRAFTING")
	act := run(t, dir, passing(gate.Legal), leadsWith(), Options{})
	if act.Status != StatusContinue || act.Command != CmdVerify || act.Phase != "DRAFTING" {
		t.Errorf("act = %+v", act)
	}
	if diff := cmp.Diff([]string{gate.Legal}, act.FailingGates); diff != "" {
		t.Errorf("failing (-want +got):\n%s", diff)
	}
}

func TestNext_MalformedState(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "state.json"), []byte("{phase"), 0644); err != nil {
		t.Fatal(err)
	}
	o := &Orchestrator{CaseDir: dir, Gates: fakeGates{}, Leads: leadsWith(), Logger: logging.Discard()}
	if _, err := o.Next(context.Background(), Options{}); !errors.Is(err, casefile.ErrSchemaMismatch) {
		t.Errorf("err = %v", err)
	}
}

func TestNext_NoWriteWhenNothingChanged(t *testing.T) {
	dir := newCase(t, PhasePlan)
	g := fakeGates{}
	run(t, dir, g, leadsWith(), Options{})
	p := filepath.Join(dir, "state.json")
	before, _ := os.Stat(p)
	old := before.ModTime().Add(-time.Hour)
	os.Chtimes(p, old, old)

	run(t, dir, g, leadsWith(), Options{})
	after, _ := os.Stat(p)
	if !after.ModTime().Equal(old) {
		t.Error("state.json rewritten although nothing changed")
	}
}
