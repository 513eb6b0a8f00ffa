package gate

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"investigator/internal/casefile"
	"investigator/internal/ledger"
)

// DefaultChecks returns the standard gates in report order.
func DefaultChecks() []Check {
	return []Check{
		{Planning, checkPlanning},
		{Questions, checkQuestions},
		{Curiosity, checkCuriosity},
		{Reconciliation, checkReconciliation},
		{Article, checkArticle},
		{Sources, checkSources},
		{Integrity, reviewCheck(casefile.IntegrityFile)},
		{Legal, reviewCheck(casefile.LegalFile)},
		{Balance, checkBalance},
		{Completeness, checkCompleteness},
		{Significance, checkSignificance},
	}
}

func fail(reason string, details map[string]any) (Result, error) {
	return Result{Passed: false, Reason: reason, Details: details}, nil
}

func pass(details map[string]any) (Result, error) {
	return Result{Passed: true, Details: details}, nil
}

func requireFiles(in *Inputs, files []string, what string) (Result, error) {
	missing := []string{}
	for _, f := range files {
		ok, err := in.NonEmpty(f)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			missing = append(missing, f)
		}
	}
	details := map[string]any{"required": files, "missing": missing}
	if len(missing) > 0 {
		return fail(fmt.Sprintf("missing or empty %s: %s", what, strings.Join(missing, ", ")), details)
	}
	return pass(details)
}

func checkPlanning(_ context.Context, in *Inputs) (Result, error) {
	return requireFiles(in, in.Config.Gates.PlanFiles, "plan files")
}

func checkQuestions(_ context.Context, in *Inputs) (Result, error) {
	var files []string
	for _, fw := range in.Config.Gates.QuestionFrameworks {
		files = append(files, path.Join(casefile.QuestionsDir, fw+".md"))
	}
	return requireFiles(in, files, "question frameworks")
}

type curiosityVerdict struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason,omitempty"`
}

func pendingIDs(doc *ledger.Document) []string {
	ids := []string{}
	for _, l := range doc.Leads {
		if l.Status == ledger.StatusPending {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

func checkCuriosity(_ context.Context, in *Inputs) (Result, error) {
	rel := path.Join(casefile.ControlDir, casefile.CuriosityFile)
	var v curiosityVerdict
	exists, err := in.JSON(rel, &v)
	if err != nil {
		return Result{}, err
	}
	doc, err := in.Ledger()
	if err != nil {
		return Result{}, err
	}
	if doc == nil {
		return fail("leads.json not found", nil)
	}
	pending := pendingIDs(doc)
	details := map[string]any{"verdict": v.Verdict, "pending_leads": pending}
	switch {
	case !exists:
		return fail(rel+" not found; run the curiosity review", details)
	case !strings.EqualFold(v.Verdict, "SATISFIED"):
		return fail(fmt.Sprintf("curiosity verdict is %q, want SATISFIED", v.Verdict), details)
	case len(pending) > 0:
		return fail(fmt.Sprintf("%d pending leads: %s", len(pending), strings.Join(pending, ", ")), details)
	}
	return pass(details)
}

func checkReconciliation(_ context.Context, in *Inputs) (Result, error) {
	doc, err := in.Ledger()
	if err != nil {
		return Result{}, err
	}
	if doc == nil {
		return fail("leads.json not found", nil)
	}
	pending := pendingIDs(doc)
	noResult := []string{}
	uncaptured := []string{}
	seen := map[string]bool{}
	for _, l := range doc.Leads {
		if l.Status.Terminal() && strings.TrimSpace(l.Result) == "" {
			noResult = append(noResult, l.ID)
		}
		if l.Status != ledger.StatusInvestigated {
			continue
		}
		for _, s := range l.Sources {
			if seen[s] {
				continue
			}
			seen[s] = true
			if !in.Captured(s) {
				uncaptured = append(uncaptured, s)
			}
		}
	}
	sort.Strings(uncaptured)
	details := map[string]any{
		"total_leads":          len(doc.Leads),
		"pending_leads":        pending,
		"leads_without_result": noResult,
		"uncaptured_sources":   uncaptured,
	}
	var problems []string
	if len(pending) > 0 {
		problems = append(problems, fmt.Sprintf("%d pending leads (%s)", len(pending), strings.Join(pending, ", ")))
	}
	if len(noResult) > 0 {
		problems = append(problems, fmt.Sprintf("leads without result: %s", strings.Join(noResult, ", ")))
	}
	if len(uncaptured) > 0 {
		problems = append(problems, fmt.Sprintf("lead sources without evidence: %s", strings.Join(uncaptured, ", ")))
	}
	if len(problems) > 0 {
		return fail(strings.Join(problems, "; "), details)
	}
	return pass(details)
}

func checkArticle(_ context.Context, in *Inputs) (Result, error) {
	doc, exists, err := in.Markdown(casefile.ArticleFile)
	if err != nil {
		return Result{}, err
	}
	switch {
	case !exists:
		return fail("article.md not found", nil)
	case doc.Empty:
		return fail("article.md is empty", nil)
	case len(doc.Citations) == 0:
		return fail("article.md has no [S###] citations", map[string]any{"citations": 0})
	}
	return pass(map[string]any{"citations": len(doc.Citations)})
}

func checkSources(_ context.Context, in *Inputs) (Result, error) {
	if _, exists, err := in.Read(casefile.ArticleFile); err != nil {
		return Result{}, err
	} else if !exists {
		return fail("article.md not found", nil)
	}
	files, err := in.ScanSet()
	if err != nil {
		return Result{}, err
	}
	cited := map[string]bool{}
	for _, f := range files {
		doc, _, err := in.Markdown(f)
		if err != nil {
			return Result{}, err
		}
		for _, c := range doc.Citations {
			cited[c] = true
		}
	}
	ids := make([]string, 0, len(cited))
	for id := range cited {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	missing := []string{}
	for _, id := range ids {
		if !in.Captured(id) {
			missing = append(missing, id)
		}
	}
	details := map[string]any{"scanned": files, "cited": len(ids), "captured": len(ids) - len(missing), "missing": missing}
	if len(missing) > 0 {
		return fail(fmt.Sprintf("%d of %d cited sources have no evidence: %s", len(missing), len(ids), strings.Join(missing, ", ")), details)
	}
	return pass(details)
}

// Review is the shape of the integrity and legal review files.
type Review struct {
	Verdict string        `json:"verdict"`
	Issues  []ReviewIssue `json:"issues"`
}

type ReviewIssue struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Resolved    bool   `json:"resolved"`
}

func reviewCheck(file string) CheckFunc {
	return func(_ context.Context, in *Inputs) (Result, error) {
		rel := path.Join(casefile.ControlDir, file)
		var rv Review
		exists, err := in.JSON(rel, &rv)
		if err != nil {
			return Result{}, err
		}
		if !exists {
			return fail(rel+" not found", nil)
		}
		unresolved := []string{}
		for i, is := range rv.Issues {
			if !is.Resolved {
				id := is.ID
				if id == "" {
					id = fmt.Sprintf("#%d", i+1)
				}
				unresolved = append(unresolved, id)
			}
		}
		details := map[string]any{"verdict": rv.Verdict, "issues": len(rv.Issues), "unresolved": unresolved}
		if !strings.EqualFold(rv.Verdict, "PASS") {
			return fail(fmt.Sprintf("%s verdict is %q, want PASS", file, rv.Verdict), details)
		}
		if len(unresolved) > 0 {
			return fail(fmt.Sprintf("%s has unresolved issues: %s", file, strings.Join(unresolved, ", ")), details)
		}
		articleAt, ok := in.ModTime(casefile.ArticleFile)
		if !ok {
			return fail("article.md not found", details)
		}
		reviewAt, _ := in.ModTime(rel)
		if reviewAt.Before(articleAt) {
			return fail(fmt.Sprintf("%s is older than article.md; review again", file), details)
		}
		return pass(details)
	}
}

func checkBalance(_ context.Context, in *Inputs) (Result, error) {
	doc, exists, err := in.Markdown(casefile.ArticleFile)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return fail("article.md not found", nil)
	}
	want := in.Config.Gates.CounterpointHeadings
	for _, h := range doc.Headings {
		for _, w := range want {
			if strings.Contains(strings.ToLower(h), strings.ToLower(w)) {
				return pass(map[string]any{"heading": h})
			}
		}
	}
	return fail(fmt.Sprintf("article.md has no counterpoint section (one of: %s)", strings.Join(want, ", ")), map[string]any{"headings": doc.Headings})
}

func checkCompleteness(_ context.Context, in *Inputs) (Result, error) {
	doc, err := in.Ledger()
	if err != nil {
		return Result{}, err
	}
	if doc == nil {
		return fail("leads.json not found", nil)
	}
	article, exists, err := in.Markdown(casefile.ArticleFile)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return fail("article.md not found", nil)
	}
	considered := 0
	uncovered := []string{}
	for _, l := range doc.Leads {
		if l.Status != ledger.StatusInvestigated || l.Priority != ledger.PriorityHigh || len(l.Sources) == 0 {
			continue
		}
		considered++
		covered := false
		for _, s := range l.Sources {
			if article.Cites(s) {
				covered = true
				break
			}
		}
		if !covered {
			uncovered = append(uncovered, l.ID)
		}
	}
	details := map[string]any{"high_leads": considered, "uncovered": uncovered}
	if len(uncovered) > 0 {
		return fail(fmt.Sprintf("HIGH leads not reflected in article.md: %s", strings.Join(uncovered, ", ")), details)
	}
	return pass(details)
}

func checkSignificance(_ context.Context, in *Inputs) (Result, error) {
	summary, exists, err := in.Markdown(casefile.SummaryFile)
	if err != nil {
		return Result{}, err
	}
	if !exists || summary.Empty {
		return fail("summary.md missing or empty", nil)
	}
	article, _, err := in.Markdown(casefile.ArticleFile)
	if err != nil {
		return Result{}, err
	}
	stray := []string{}
	for _, c := range summary.Citations {
		if !article.Cites(c) {
			stray = append(stray, c)
		}
	}
	details := map[string]any{"summary_citations": len(summary.Citations), "not_in_article": stray}
	if len(stray) > 0 {
		return fail(fmt.Sprintf("summary.md cites sources absent from article.md: %s", strings.Join(stray, ", ")), details)
	}
	return pass(details)
}
