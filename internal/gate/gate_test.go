package gate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"investigator/internal/config"
	"investigator/internal/logging"
)

const article = `# The port concession

The operator paid the ministry twice [S001], according to bank records [S002].

## Other Perspectives

The ministry denies wrongdoing [S003].
`

const summary = "The port concession was paid for twice [S001].\n"

const leads = `{"version": 7, "max_depth": 3, "leads": [
 {"id":"L001","lead":"ministry payments","status":"investigated","priority":"HIGH","depth":0,"result":"two wires found","sources":["S001","S002"]},
 {"id":"L002","lead":"operator ownership","status":"dead_end","priority":"MEDIUM","depth":0,"result":"registry closed"},
 {"id":"L003","lead":"ministry response","status":"investigated","priority":"LOW","depth":1,"parent":"L001","result":"statement","sources":["S003"]}
]}`

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// passingCase lays out a case directory on which every gate passes.
func passingCase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	for _, f := range cfg.Gates.PlanFiles {
		write(t, dir, f, "plan for "+f+"\n")
	}
	for _, fw := range cfg.Gates.QuestionFrameworks {
		write(t, dir, "questions/"+fw+".md", "- what?\n")
	}
	write(t, dir, "leads.json", leads)
	write(t, dir, "control/curiosity.json", `{"verdict": "SATISFIED"}`)
	for _, id := range []string{"S001", "S002", "S003"} {
		write(t, dir, "evidence/"+id+"/page.html", "<html>"+id+"</html>")
	}
	write(t, dir, "article.md", article)
	write(t, dir, "summary.md", summary)
	write(t, dir, "findings/payments.md", "Wire transfer [S002].\n")
	review := `{"verdict": "PASS", "issues": [{"id": "I1", "resolved": true}]}`
	write(t, dir, "control/integrity-review.json", review)
	write(t, dir, "control/legal-review.json", review)

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "article.md"), old, old); err != nil {
		t.Fatal(err)
	}
	return dir
}

func testEngine() *Engine {
	e := New(config.Default())
	e.Logger = logging.Discard()
	e.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestEvaluate_AllPass(t *testing.T) {
	dir := passingCase(t)
	rep := testEngine().Evaluate(context.Background(), dir)
	if !rep.Overall {
		for _, r := range rep.Failed() {
			t.Errorf("%s failed: %s", r.Name, r.Reason)
		}
		t.FailNow()
	}
	if rep.Summary != (Summary{Passed: 11, Failed: 0, Total: 11}) {
		t.Errorf("summary = %+v", rep.Summary)
	}
	if len(rep.BlockingGates) != 0 {
		t.Errorf("blocking = %v", rep.BlockingGates)
	}
	for name, r := range rep.Gates {
		if r.Reason != "" {
			t.Errorf("%s passed but has reason %q", name, r.Reason)
		}
	}
}

func TestEvaluate_ZeroEngineLeavesFieldsUnset(t *testing.T) {
	dir := passingCase(t)
	e := &Engine{Checks: DefaultChecks(), Parallelism: 2}

	var wg sync.WaitGroup
	reps := make([]*Report, 4)
	for i := range reps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reps[i] = e.Evaluate(context.Background(), dir)
		}()
	}
	wg.Wait()

	for i, rep := range reps {
		if !rep.Overall {
			t.Errorf("run %d: blocking = %v", i, rep.BlockingGates)
		}
	}
	if e.Config != nil || e.Now != nil || e.Logger != nil {
		t.Error("Evaluate filled defaults into the shared engine")
	}
}

func TestEvaluate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(t *testing.T, dir string)
		gate   string
		reason string
	}{
		{"plan file empty", func(t *testing.T, dir string) { write(t, dir, "strategic_context.md", "  \n") }, Planning, "strategic_context.md"},
		{"framework missing", func(t *testing.T, dir string) { os.Remove(filepath.Join(dir, "questions/timeline.md")) }, Questions, "questions/timeline.md"},
		{"curiosity not satisfied", func(t *testing.T, dir string) { write(t, dir, "control/curiosity.json", `{"verdict":"CURIOUS"}`) }, Curiosity, "CURIOUS"},
		{"pending lead", func(t *testing.T, dir string) {
			write(t, dir, "leads.json", strings.Replace(leads, `"status":"dead_end"`, `"status":"pending"`, 1))
		}, Reconciliation, "L002"},
		{"terminal without result", func(t *testing.T, dir string) {
			write(t, dir, "leads.json", strings.Replace(leads, `"result":"registry closed"`, `"result":""`, 1))
		}, Reconciliation, "without result: L002"},
		{"lead source not captured", func(t *testing.T, dir string) {
			write(t, dir, "evidence/S003/page.html", "")
		}, Reconciliation, "S003"},
		{"article without citations", func(t *testing.T, dir string) { write(t, dir, "article.md", "# Draft\n\nNo sources yet.\n") }, Article, "no [S###]"},
		{"finding cites uncaptured source", func(t *testing.T, dir string) { write(t, dir, "findings/extra.md", "See [S009].\n") }, Sources, "S009"},
		{"integrity unresolved", func(t *testing.T, dir string) {
			write(t, dir, "control/integrity-review.json", `{"verdict":"PASS","issues":[{"id":"I2","resolved":false}]}`)
		}, Integrity, "I2"},
		{"legal verdict", func(t *testing.T, dir string) { write(t, dir, "control/legal-review.json", `{"verdict":"FAIL"}`) }, Legal, "FAIL"},
		{"legal stale", func(t *testing.T, dir string) {
			old := time.Now().Add(-2 * time.Hour)
			os.Chtimes(filepath.Join(dir, "control/legal-review.json"), old, old)
		}, Legal, "older than article.md"},
		{"no counterpoints", func(t *testing.T, dir string) {
			write(t, dir, "article.md", strings.Replace(article, "Other Perspectives", "Background", 1))
		}, Balance, "counterpoint"},
		{"high lead not cited", func(t *testing.T, dir string) {
			write(t, dir, "article.md", strings.NewReplacer("[S001]", "", "[S002]", "").Replace(article))
		}, Completeness, "L001"},
		{"summary cites outside article", func(t *testing.T, dir string) { write(t, dir, "summary.md", "Also [S003] and [S004].\n") }, Significance, "S004"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := passingCase(t)
			tc.mutate(t, dir)
			rep := testEngine().Evaluate(context.Background(), dir)
			got := rep.Gates[tc.gate]
			if got.Passed {
				t.Fatalf("%s should fail", tc.gate)
			}
			if !strings.Contains(got.Reason, tc.reason) {
				t.Errorf("%s reason = %q, want substring %q", tc.gate, got.Reason, tc.reason)
			}
			if rep.Overall {
				t.Error("overall must be false when a gate fails")
			}
			found := false
			for _, b := range rep.BlockingGates {
				found = found || b == tc.gate
			}
			if !found {
				t.Errorf("%s missing from blocking gates %v", tc.gate, rep.BlockingGates)
			}
		})
	}
}

func TestEvaluate_EmptyCase(t *testing.T) {
	rep := testEngine().Evaluate(context.Background(), t.TempDir())
	if rep.Overall || rep.Summary.Failed != 11 {
		t.Errorf("empty case: %+v", rep.Summary)
	}
	for _, r := range rep.Gates {
		if r.Reason == "" || strings.Contains(r.Reason, "GATE_COMPUTE_ERROR") {
			t.Errorf("%s: unexpected reason %q", r.Name, r.Reason)
		}
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	dir := passingCase(t)
	write(t, dir, "summary.md", "Stray [S004].\n")
	e := testEngine()
	e.Parallelism = 4

	first := e.Evaluate(context.Background(), dir)
	for i := 0; i < 3; i++ {
		again := e.Evaluate(context.Background(), dir)
		a, _ := json.Marshal(first.Gates)
		b, _ := json.Marshal(again.Gates)
		if string(a) != string(b) {
			t.Fatalf("gates output changed between runs:\n%s\n%s", a, b)
		}
		if first.InputDigest != again.InputDigest {
			t.Fatalf("input digest changed: %s vs %s", first.InputDigest, again.InputDigest)
		}
	}

	write(t, dir, "findings/new.md", "nothing cited\n")
	if e.Evaluate(context.Background(), dir).InputDigest == first.InputDigest {
		t.Error("digest should change when inputs change")
	}
}

func TestEvaluate_OverallIffAllPassed(t *testing.T) {
	for _, broken := range []bool{false, true} {
		dir := passingCase(t)
		if broken {
			os.Remove(filepath.Join(dir, "summary.md"))
		}
		rep := testEngine().Evaluate(context.Background(), dir)
		all := true
		for _, r := range rep.Gates {
			all = all && r.Passed
		}
		if rep.Overall != all {
			t.Errorf("overall %v but AND of gates %v", rep.Overall, all)
		}
	}
}

func TestEvaluate_ComputeErrorIsolated(t *testing.T) {
	dir := passingCase(t)
	write(t, dir, "control/curiosity.json", `{"verdict": `)

	e := testEngine()
	e.Checks = append(e.Checks, Check{Name: "exploding", Fn: func(context.Context, *Inputs) (Result, error) {
		panic("nil dereference")
	}})
	rep := e.Evaluate(context.Background(), dir)

	if r := rep.Gates[Curiosity]; r.Passed || !strings.HasPrefix(r.Reason, "GATE_COMPUTE_ERROR") {
		t.Errorf("curiosity = %+v", r)
	}
	if r := rep.Gates["exploding"]; r.Passed || !strings.Contains(r.Reason, "panic: nil dereference") {
		t.Errorf("exploding = %+v", r)
	}
	if !rep.Gates[Planning].Passed || !rep.Gates[Sources].Passed {
		t.Error("other gates must be unaffected by a compute error")
	}
	if diff := cmp.Diff([]string{Curiosity, "exploding"}, rep.BlockingGates); diff != "" {
		t.Errorf("blocking (-want +got):\n%s", diff)
	}
}

func TestRun_WritesReport(t *testing.T) {
	dir := passingCase(t)
	rep, err := testEngine().Run(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(dir)
	if err != nil || loaded == nil {
		t.Fatalf("Load: %v %v", loaded, err)
	}
	if diff := cmp.Diff(rep.Map(), loaded.Map()); diff != "" {
		t.Errorf("persisted gates (-run +loaded):\n%s", diff)
	}
	if loaded.InputDigest == "" || !strings.HasPrefix(loaded.InputDigest, "blake3:") {
		t.Errorf("digest = %q", loaded.InputDigest)
	}

	raw, _ := os.ReadFile(filepath.Join(dir, "control", "gate_results.json"))
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"timestamp", "case_dir", "duration_ms", "thresholds", "gates", "summary", "overall", "blocking_gates"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("gate_results.json missing %q", key)
		}
	}
}
