package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func invoke(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, s)
	}
	return m
}

func initCase(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "port-deal")
	if code, out, errOut := invoke(t, "init", dir, "--topic", "Port concession"); code != 0 {
		t.Fatalf("init exit %d\n%s%s", code, out, errOut)
	}
	return dir
}

func TestInit_Idempotent(t *testing.T) {
	dir := initCase(t)
	prompt, err := os.ReadFile(filepath.Join(dir, "refined_prompt.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prompt), "Port concession") {
		t.Errorf("refined_prompt.md = %q", prompt)
	}
	code, out, _ := invoke(t, "init", dir)
	if code != 0 || !strings.Contains(out, "already initialized") {
		t.Errorf("second init: exit %d, %q", code, out)
	}
}

func TestCheckContinue_FreshCase(t *testing.T) {
	dir := initCase(t)
	code, out, _ := invoke(t, "check-continue", dir)
	if code != 2 {
		t.Fatalf("exit = %d, want 2 (CONTINUE)\n%s", code, out)
	}
	got := decode(t, out)
	if got["status"] != "CONTINUE" || got["phase"] != "PLAN" || got["command"] != "plan" || got["exit_code"] != float64(2) {
		t.Errorf("action = %v", got)
	}
}

func TestCheckContinue_Text(t *testing.T) {
	dir := initCase(t)
	code, out, _ := invoke(t, "check-continue", dir, "--format", "text")
	if code != 2 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out, "next: plan") {
		t.Errorf("text output = %q", out)
	}

	code, out, _ = invoke(t, "check-continue", dir, "--prompt")
	if got := decode(t, out); code != 2 || !strings.Contains(got["prompt"].(string), "investigation_plan.md") {
		t.Errorf("prompt: exit %d, %v", code, got["prompt"])
	}

	code, _, errOut := invoke(t, "check-continue", dir, "--format", "yaml")
	if code != 1 || !strings.Contains(errOut, "--format") {
		t.Errorf("bad format: exit %d, stderr %q", code, errOut)
	}
}

func TestLeads_Lifecycle(t *testing.T) {
	dir := initCase(t)

	code, out, _ := invoke(t, "leads", "init", dir, "--lead", "Board minutes", "--lead", "Bid filings", "--priority", "HIGH", "--max-depth", "2")
	if code != 0 {
		t.Fatalf("leads init exit %d\n%s", code, out)
	}
	if got := decode(t, out); got["success"] != true || got["version"] != float64(1) {
		t.Fatalf("leads init = %v", got)
	}

	code, out, _ = invoke(t, "leads", "init", dir)
	if got := decode(t, out); code != 1 || got["code"] != "already_initialized" {
		t.Errorf("second init: exit %d, %v", code, got)
	}

	code, out, _ = invoke(t, "leads", "claim", dir, "L001")
	claim := decode(t, out)
	if code != 0 || claim["claim_token"] == nil {
		t.Fatalf("claim: exit %d, %v", code, claim)
	}

	code, out, _ = invoke(t, "leads", "batch-claim", dir, "L001", "L002")
	batch := decode(t, out)
	if code != 1 || batch["code"] != "batch_rejected" || batch["retryable"] != nil {
		t.Errorf("batch-claim: exit %d, %v", code, batch)
	}

	code, out, _ = invoke(t, "leads", "update", dir, "L001", "--status", "investigated", "--result", "Vote was moved", "--source", "S001")
	if code != 0 {
		t.Fatalf("update exit %d\n%s", code, out)
	}

	code, out, _ = invoke(t, "leads", "add-child", dir, "L001", "Who moved the vote", "--expect-version", "1")
	if got := decode(t, out); code != 1 || got["code"] != "version_conflict" {
		t.Errorf("stale expect-version: exit %d, %v", code, got)
	}
	code, out, _ = invoke(t, "leads", "add-child", dir, "L001", "Who moved the vote", "--expect-version", "3")
	if code != 0 {
		t.Fatalf("add-child exit %d\n%s", code, out)
	}
	child := decode(t, out)["leads"].([]any)[0].(map[string]any)
	if child["id"] != "L003" || child["parent"] != "L001" || child["depth"] != float64(1) {
		t.Errorf("child = %v", child)
	}

	code, out, _ = invoke(t, "leads", "batch-select", dir, "--count", "5")
	if code != 0 {
		t.Fatalf("batch-select exit %d", code)
	}
	var ids []string
	for _, l := range decode(t, out)["leads"].([]any) {
		ids = append(ids, l.(map[string]any)["id"].(string))
	}
	if diff := cmp.Diff([]string{"L002", "L003"}, ids); diff != "" {
		t.Errorf("batch-select (-want +got):\n%s", diff)
	}

	code, out, _ = invoke(t, "leads", "stats", dir)
	stats := decode(t, out)
	if code != 0 || stats["success"] != true {
		t.Fatalf("stats: exit %d, %v", code, stats)
	}
	if s := stats["stats"].(map[string]any); s["total"] != float64(3) || s["version"] != float64(4) {
		t.Errorf("stats = %v", s)
	}

	code, out, _ = invoke(t, "leads", "get", dir, "L009")
	if got := decode(t, out); code != 1 || got["code"] != "not_found" {
		t.Errorf("get missing: exit %d, %v", code, got)
	}
}

func TestLeads_NotInitialized(t *testing.T) {
	dir := initCase(t)
	code, out, _ := invoke(t, "leads", "claim", dir, "L001")
	if got := decode(t, out); code != 1 || got["code"] != "not_initialized" {
		t.Errorf("claim before init: exit %d, %v", code, got)
	}
}

func TestGatesAndGaps_FreshCase(t *testing.T) {
	dir := initCase(t)

	code, out, _ := invoke(t, "gates", dir)
	if code != 1 {
		t.Errorf("gates exit = %d, want 1", code)
	}
	if !strings.Contains(strings.ToLower(out), "planning") {
		t.Errorf("gates table missing planning row:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "control", "gate_results.json")); err != nil {
		t.Errorf("gate_results.json: %v", err)
	}

	code, out, _ = invoke(t, "gaps", dir, "--format", "json")
	if code != 1 {
		t.Errorf("gaps exit = %d, want 1", code)
	}
	rep := decode(t, out)
	if len(rep["blocking"].([]any)) == 0 {
		t.Error("expected blocking gaps on a fresh case")
	}

	code, out, _ = invoke(t, "history", dir)
	if code != 0 || !strings.Contains(out, "1") {
		t.Errorf("history: exit %d\n%s", code, out)
	}
}

func TestStatus_DoesNotWrite(t *testing.T) {
	dir := initCase(t)
	before, err := os.ReadFile(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	code, out, _ := invoke(t, "status", dir, "--format", "markdown")
	if code != 0 || !strings.HasPrefix(out, "## Case port-deal") {
		t.Errorf("status: exit %d\n%s", code, out)
	}
	code, out, _ = invoke(t, "status", dir, "--format", "json")
	if got := decode(t, out); code != 0 || got["phase"] != "PLAN" {
		t.Errorf("status json = %v", got)
	}

	after, _ := os.ReadFile(filepath.Join(dir, "state.json"))
	if !bytes.Equal(before, after) {
		t.Error("status rewrote state.json")
	}
	for _, f := range []string{"gate_results.json", "gaps.json"} {
		if _, err := os.Stat(filepath.Join(dir, "control", f)); err == nil {
			t.Errorf("status wrote %s", f)
		}
	}
}

func TestHistory_Empty(t *testing.T) {
	dir := initCase(t)
	code, out, _ := invoke(t, "history", dir)
	if code != 0 || !strings.Contains(out, "No aggregation runs") {
		t.Errorf("history: exit %d, %q", code, out)
	}
}

func TestRoot_Errors(t *testing.T) {
	dir := initCase(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad log format", []string{"--log-format", "xml", "status", dir}, "--log-format"},
		{"bad log level", []string{"--log-level", "loud", "status", dir}, "loud"},
		{"missing case", []string{"gates", filepath.Join(dir, "nope")}, "nope"},
		{"bad table format", []string{"status", dir, "--format", "html"}, "--format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := invoke(t, tt.args...)
			if code != 1 || !strings.Contains(errOut, tt.want) {
				t.Errorf("exit %d, stderr %q, want it to mention %q", code, errOut, tt.want)
			}
		})
	}
}
