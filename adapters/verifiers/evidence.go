package verifiers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"investigator/internal/casefile"
	"investigator/internal/cite"
	"investigator/internal/gap"
	"investigator/internal/verify"
)

// Evidence reports every source cited in the scan set or referenced by a
// claim that has no captured evidence folder.
func Evidence(ctx context.Context, caseDir string, opts verify.Options) (verify.Result, error) {
	if err := checkCtx(ctx); err != nil {
		return verify.Result{}, err
	}
	log := loggerOf(opts, NameEvidence)
	files, err := scanSet(caseDir, configOf(opts))
	if err != nil {
		return verify.Result{}, err
	}

	citedIn := map[string][]string{}
	var order []string
	note := func(id, where string) {
		if _, seen := citedIn[id]; !seen {
			order = append(order, id)
		}
		citedIn[id] = append(citedIn[id], where)
	}
	for _, rel := range files {
		doc, err := cite.ParseFile(casefile.Path(caseDir, rel))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return verify.Result{}, err
		}
		for _, id := range doc.Citations {
			note(id, rel)
		}
	}
	claims, err := loadClaims(caseDir)
	if err != nil {
		return verify.Result{}, err
	}
	for _, c := range claims {
		for _, id := range c.Sources {
			if casefile.IsSourceID(id) {
				note(id, "claim "+c.ID)
			}
		}
	}

	var gaps []gap.Gap
	for _, id := range order {
		if casefile.EvidenceCaptured(caseDir, id) {
			continue
		}
		gaps = append(gaps, gap.Gap{
			Type:    gap.TypeMissingEvidence,
			Object:  map[string]any{"source_id": id},
			Message: fmt.Sprintf("source %s is cited but has no captured evidence", id),
			SuggestedActions: []string{
				fmt.Sprintf("capture %s into %s/%s/", id, casefile.EvidenceDir, id),
				"or remove the citation from " + strings.Join(citedIn[id], ", "),
			},
		})
	}
	log.Debug("evidence checked", "cited", len(order), "missing", len(gaps))
	return result(gaps), nil
}

// Corroboration requires every claim to carry sources, and at least the
// configured minimum of them to be captured.
func Corroboration(ctx context.Context, caseDir string, opts verify.Options) (verify.Result, error) {
	if err := checkCtx(ctx); err != nil {
		return verify.Result{}, err
	}
	need := configOf(opts).Verifiers.MinSources
	claims, err := loadClaims(caseDir)
	if err != nil {
		return verify.Result{}, err
	}

	var gaps []gap.Gap
	for _, c := range claims {
		obj := map[string]any{"claim_id": c.ID}
		if c.File != "" {
			obj["file"] = c.File
		}
		if len(c.Sources) == 0 {
			gaps = append(gaps, gap.Gap{
				Type:             gap.TypeUncitedClaim,
				Object:           obj,
				Message:          fmt.Sprintf("claim %s has no sources", c.ID),
				SuggestedActions: []string{"cite at least one captured source for: " + excerpt(c.Text)},
			})
			continue
		}
		captured := capturedSources(caseDir, c.Sources)
		if len(captured) < need {
			gaps = append(gaps, gap.Gap{
				Type:    gap.TypeInsufficientCorroboration,
				Object:  obj,
				Message: fmt.Sprintf("claim %s is not corroborated by enough captured sources", c.ID),
				SuggestedActions: []string{
					fmt.Sprintf("%d of %d required sources captured (%s)", len(captured), need, strings.Join(captured, ", ")),
					"find and capture an independent source, or soften the claim",
				},
			})
		}
	}
	loggerOf(opts, NameCorroboration).Debug("claims checked", "claims", len(claims), "gaps", len(gaps))
	return result(gaps), nil
}

// capturedSources returns the distinct valid IDs in ids with captured
// evidence, sorted.
func capturedSources(caseDir string, ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		if seen[id] || !casefile.IsSourceID(id) {
			continue
		}
		seen[id] = true
		if casefile.EvidenceCaptured(caseDir, id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Citations turns external semantic citation checks into gaps. Without a
// checks file there is nothing to report.
func Citations(ctx context.Context, caseDir string, opts verify.Options) (verify.Result, error) {
	if err := checkCtx(ctx); err != nil {
		return verify.Result{}, err
	}
	log := loggerOf(opts, NameCitations)
	checks, ok, err := loadCitationChecks(caseDir)
	if err != nil {
		return verify.Result{}, err
	}
	if !ok {
		log.Debug("no citation checks")
		return result(nil), nil
	}

	var gaps []gap.Gap
	for _, c := range checks {
		obj := map[string]any{"source_id": c.SourceID}
		if c.ClaimID != "" {
			obj["claim_id"] = c.ClaimID
		}
		var g gap.Gap
		switch strings.ToLower(c.Status) {
		case CheckSupported:
			continue
		case CheckUnsupported:
			g = gap.Gap{
				Type:             gap.TypeCitationMismatch,
				Message:          fmt.Sprintf("source %s does not support the claim it is cited for", c.SourceID),
				SuggestedActions: []string{"cite a source that supports the claim, or rewrite the claim"},
			}
		case CheckNotFound:
			g = gap.Gap{
				Type:             gap.TypeBrokenCitation,
				Message:          fmt.Sprintf("cited source %s could not be found", c.SourceID),
				SuggestedActions: []string{"recapture " + c.SourceID + " or replace the citation"},
			}
		default:
			log.Warn("unknown citation check status", "source_id", c.SourceID, "status", c.Status)
			continue
		}
		g.Object = obj
		if c.Reason != "" {
			g.SuggestedActions = append(g.SuggestedActions, "checker: "+c.Reason)
		}
		gaps = append(gaps, g)
	}
	return result(gaps), nil
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 80 {
		return string(r[:77]) + "..."
	}
	return s
}
