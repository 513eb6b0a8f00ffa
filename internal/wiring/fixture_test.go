package wiring

import (
	"os"
	"path/filepath"
	"time"

	"investigator/internal/config"
)

const article = `# The port concession

The operator paid the ministry twice [S001], according to bank records [S002].

## Other Perspectives

The ministry denies wrongdoing [S003].
`

const leads = `{"version": 7, "max_depth": 3, "leads": [
 {"id":"L001","lead":"ministry payments","status":"investigated","priority":"HIGH","depth":0,"result":"two wires found","sources":["S001","S002"]},
 {"id":"L002","lead":"operator ownership","status":"dead_end","priority":"MEDIUM","depth":0,"result":"registry closed"},
 {"id":"L003","lead":"ministry response","status":"investigated","priority":"LOW","depth":1,"parent":"L001","result":"statement","sources":["S003"]}
]}`

var clock = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }

func put(dir, rel, content string) error {
	p := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(content), 0644)
}

// layoutFinishedCase writes a case on which every gate and every built-in
// verifier passes.
func layoutFinishedCase(dir string) error {
	cfg := config.Default()
	files := map[string]string{
		"leads.json":                    leads,
		"control/curiosity.json":        `{"verdict": "SATISFIED"}`,
		"article.md":                    article,
		"summary.md":                    "The port concession was paid for twice [S001].\n",
		"findings/payments.md":          "Wire transfer [S002].\n",
		"control/integrity-review.json": `{"verdict": "PASS", "issues": []}`,
		"control/legal-review.json":     `{"verdict": "PASS"}`,
	}
	for _, f := range cfg.Gates.PlanFiles {
		files[f] = "plan for " + f + "\n"
	}
	for _, fw := range cfg.Gates.QuestionFrameworks {
		files["questions/"+fw+".md"] = "- what?\n"
	}
	for _, id := range []string{"S001", "S002", "S003"} {
		files["evidence/"+id+"/page.html"] = "<html>" + id + "</html>"
		files["evidence/"+id+"/metadata.json"] = `{"url":"https://example.org/` + id + `","captured_at":"2026-03-30T10:00:00Z"}`
	}
	for rel, content := range files {
		if err := put(dir, rel, content); err != nil {
			return err
		}
	}
	old := time.Now().Add(-time.Hour)
	return os.Chtimes(filepath.Join(dir, "article.md"), old, old)
}
