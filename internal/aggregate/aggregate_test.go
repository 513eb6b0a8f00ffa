package aggregate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"investigator/internal/gap"
	"investigator/internal/gate"
	"investigator/internal/history"
	"investigator/internal/logging"
	"investigator/internal/verify"
)

func testAggregator() *Aggregator {
	return &Aggregator{
		Table:  gap.NewTable(nil),
		Now:    func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
		Logger: logging.Discard(),
	}
}

func missingEvidence(verifier string) gap.Gap {
	return gap.Gap{
		Type:     gap.TypeMissingEvidence,
		Object:   map[string]any{"source_id": "S004"},
		Message:  "no evidence captured for S004",
		Verifier: verifier,
	}
}

func TestBuild_DedupAcrossVerifiers(t *testing.T) {
	outcomes := []verify.Outcome{
		{Name: "evidence", OK: true, Gaps: []gap.Gap{missingEvidence("evidence")}},
		{Name: "sources", OK: true, Gaps: []gap.Gap{missingEvidence("sources")}},
	}
	rep := testAggregator().Build("/case", 3, outcomes, nil)

	if rep.Stats.TotalGaps != 1 || len(rep.Blocking) != 1 {
		t.Fatalf("expected exactly one gap, got %+v", rep.Stats)
	}
	if rep.Blocking[0].Verifier != "evidence" {
		t.Errorf("first occurrence should win, got %s", rep.Blocking[0].Verifier)
	}
	if rep.CanTerminate() {
		t.Error("blocker present; cannot terminate")
	}
}

func TestBuild_PartitionAndCounts(t *testing.T) {
	outcomes := []verify.Outcome{{Name: "mixed", OK: true, Gaps: []gap.Gap{
		{Type: gap.TypeInsufficientCorroboration, Object: map[string]any{"claim_id": "C1"}, Message: "1 source"},
		{Type: gap.TypeMissingMetadata, Object: map[string]any{"source_id": "S001"}, Message: "no metadata"},
		{Type: "SOMETHING_NEW", Message: "x"},
		{Type: "", Message: "untyped"},
		{Type: gap.TypeMissingResult, Severity: "blocker", Message: "explicit severity"},
	}}}
	rep := testAggregator().Build("/case", 1, outcomes, nil)
	want := Stats{TotalGaps: 4, BlockingCount: 1, HighCount: 1, MediumCount: 1, LowCount: 1}
	if diff := cmp.Diff(want, rep.Stats); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
	if rep.Rejected != 1 {
		t.Errorf("rejected = %d", rep.Rejected)
	}
	for _, g := range rep.NonBlocking {
		if g.Severity == gap.SeverityBlocker {
			t.Errorf("blocker in non_blocking: %+v", g)
		}
	}
}

func TestBuild_GateFailures(t *testing.T) {
	gates := &gate.Report{
		Gates: map[string]gate.Result{
			gate.Sources:  {Name: gate.Sources, Passed: false, Reason: "1 of 3 cited sources have no evidence: S004"},
			gate.Planning: {Name: gate.Planning, Passed: true},
			gate.Legal:    {Name: gate.Legal, Passed: false, Reason: "control/legal-review.json not found"},
		},
		BlockingGates: []string{gate.Sources, gate.Legal},
	}
	rep := testAggregator().Build("/case", 1, nil, gates)
	if len(rep.Blocking) != 2 {
		t.Fatalf("blocking = %+v", rep.Blocking)
	}
	for i, name := range []string{gate.Sources, gate.Legal} {
		g := rep.Blocking[i]
		if g.Type != gap.TypeGateFailed || g.Object["gate"] != name {
			t.Errorf("gap %d = %+v", i, g)
		}
	}
	if len(rep.Verifiers) != 0 || rep.Verifiers == nil {
		t.Errorf("verifiers should be an empty list")
	}
}

func TestBuild_StableIDsAcrossRuns(t *testing.T) {
	a := testAggregator()
	mk := func(obj map[string]any) []verify.Outcome {
		return []verify.Outcome{{Name: "v", OK: true, Gaps: []gap.Gap{{Type: gap.TypeUncitedClaim, Object: obj, Message: "claim uncited"}}}}
	}
	var o1, o2 map[string]any
	json.Unmarshal([]byte(`{"claim_id":"C2","file":"article.md"}`), &o1)
	json.Unmarshal([]byte(`{"file":"article.md","claim_id":"C2"}`), &o2)
	r1 := a.Build("/case", 1, mk(o1), nil)
	r2 := a.Build("/case", 2, mk(o2), nil)
	if r1.NonBlocking[0].ID != r2.NonBlocking[0].ID {
		t.Errorf("ids differ across runs: %s vs %s", r1.NonBlocking[0].ID, r2.NonBlocking[0].ID)
	}
}

func TestPersist(t *testing.T) {
	caseDir := t.TempDir()
	a := testAggregator()
	a.History = history.NewMemStore()
	ctx := context.Background()

	first := a.Build(caseDir, 1, []verify.Outcome{{Name: "evidence", OK: true, Gaps: []gap.Gap{missingEvidence("evidence")}}}, nil)
	if err := a.Persist(ctx, first); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if first.Changes == nil || len(first.Changes.New) != 1 {
		t.Errorf("first changes = %+v", first.Changes)
	}

	dg, err := LoadDigest(caseDir)
	if err != nil || dg == nil {
		t.Fatalf("LoadDigest: %v %v", dg, err)
	}
	want := Digest{Iteration: 1, Timestamp: first.GeneratedAt, BlockingGaps: 1, TotalGaps: 1, CanTerminate: false}
	if diff := cmp.Diff(want, *dg); diff != "" {
		t.Errorf("digest (-want +got):\n%s", diff)
	}

	second := a.Build(caseDir, 2, []verify.Outcome{{Name: "evidence", OK: true, Passed: true}}, nil)
	if err := a.Persist(ctx, second); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{first.Blocking[0].ID}, second.Changes.Resolved); diff != "" {
		t.Errorf("resolved (-want +got):\n%s", diff)
	}
	loaded, err := Load(caseDir)
	if err != nil || loaded == nil {
		t.Fatal(err)
	}
	if len(loaded.Blocking) != 0 || loaded.Iteration != 2 {
		t.Errorf("gaps.json should be fully replaced: %+v", loaded)
	}
	dg, _ = LoadDigest(caseDir)
	if !dg.CanTerminate {
		t.Error("no blockers: can_terminate should be true")
	}

	raw, _ := os.ReadFile(filepath.Join(caseDir, "control", "gaps.json"))
	var generic map[string]any
	json.Unmarshal(raw, &generic)
	for _, key := range []string{"case_dir", "iteration", "generated_at", "duration_ms", "verifiers", "blocking", "non_blocking", "stats", "paths"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("gaps.json missing %q", key)
		}
	}
}
