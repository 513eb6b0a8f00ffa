package orchestrate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// PromptParams is the data a command prompt template is executed with.
type PromptParams struct {
	Case    string
	CaseDir string
	Action  Action
}

var promptFuncs = template.FuncMap{
	"join": strings.Join,
	"add":  func(a, b int) int { return a + b },
}

// defaultPrompts are used when the prompt directory has no <command>.md.
var defaultPrompts = map[string]string{
	CmdPlan: `Plan the investigation of case {{.Case}}.
Write refined_prompt.md, strategic_context.md and investigation_plan.md in {{.CaseDir}}.
{{if .Action.FailingGates}}Still failing: {{join .Action.FailingGates ", "}}.{{end}}`,
	CmdBootstrap: `Seed the lead ledger for case {{.Case}} with "investigator leads init {{.CaseDir}} --lead ...".`,
	CmdQuestion: `Answer every question framework for case {{.Case}} under {{.CaseDir}}/questions/.
{{if .Action.FailingGates}}Still failing: {{join .Action.FailingGates ", "}}.{{end}}`,
	CmdFollow: `{{range .Action.Leads}}Investigate {{.ID}} ({{.Priority}}): {{.Lead}}
Capture sources under evidence/S###/ and finish with "investigator leads update <case> {{.ID}}".
{{end}}`,
	CmdFollowBatch: `Investigate these {{len .Action.Leads}} leads in parallel, one worker each:
{{range $i, $l := .Action.Leads}}{{add $i 1}}. {{$l.ID}} ({{$l.Priority}}): {{$l.Lead}}
{{end}}Claim them together with "investigator leads batch-claim" before starting.`,
	CmdWait:      `Other workers hold claims on case {{.Case}}. Wait for them to finish, then check again.`,
	CmdReconcile: `Reconcile every finding of case {{.Case}} with its sources and record the result.`,
	CmdCuriosity: `Review open threads of case {{.Case}} and record a curiosity verdict.`,
	CmdWrite:     `Write article.md for case {{.Case}} citing sources as [S###].`,
	CmdReviewParallel: `Run these reviews of case {{.Case}} in parallel: {{join .Action.FailingGates ", "}}.`,
	CmdVerify: `Verify case {{.Case}}: {{.Action.Reason}}
{{if .Action.FailingGates}}Failing gates: {{join .Action.FailingGates ", "}}.{{end}}`,
}

// RenderPrompt renders the prompt for act's command. promptDir/<command>.md
// takes precedence over the built-in text. An action without a command
// renders as its reason.
func RenderPrompt(promptDir string, params PromptParams) (string, error) {
	cmd := params.Action.Command
	if cmd == "" {
		return params.Action.Reason, nil
	}
	name := cmd
	if params.Action.Phase == PhaseVerify && defaultPrompts[cmd] == "" {
		// Single review or remediation commands share the verify text.
		name = CmdVerify
	}
	text, ok := defaultPrompts[name]
	if promptDir != "" {
		data, err := os.ReadFile(filepath.Join(promptDir, cmd+".md"))
		switch {
		case err == nil:
			text, ok = string(data), true
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("read prompt %s: %w", cmd, err)
		}
	}
	if !ok {
		return params.Action.Reason, nil
	}
	return FillTemplateString(cmd, text, &params)
}

// FillTemplateString executes a Go text/template from a raw string.
func FillTemplateString(name, tmplStr string, params *PromptParams) (string, error) {
	tmpl, err := template.New(name).Funcs(promptFuncs).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
