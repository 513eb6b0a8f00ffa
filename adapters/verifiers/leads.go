package verifiers

import (
	"context"
	"fmt"

	"investigator/internal/gap"
	"investigator/internal/ledger"
	"investigator/internal/verify"
)

// Leads audits the ledger: open leads, terminal leads without results,
// malformed source IDs and broken tree structure. A missing ledger has
// nothing to audit; a malformed one is an error.
func Leads(ctx context.Context, caseDir string, opts verify.Options) (verify.Result, error) {
	if err := checkCtx(ctx); err != nil {
		return verify.Result{}, err
	}
	doc, err := ledger.OpenCase(caseDir).Load()
	if err != nil {
		if ledger.CodeOf(err) == ledger.CodeNotInitialized {
			return result(nil), nil
		}
		return verify.Result{}, err
	}
	gaps := auditLedger(doc)
	loggerOf(opts, NameLeads).Debug("ledger audited", "leads", len(doc.Leads), "gaps", len(gaps))
	return result(gaps), nil
}

func auditLedger(doc *ledger.Document) []gap.Gap {
	byID := make(map[string]*ledger.Lead, len(doc.Leads))
	for i := range doc.Leads {
		byID[doc.Leads[i].ID] = &doc.Leads[i]
	}

	var gaps []gap.Gap
	inconsistent := func(l *ledger.Lead, format string, args ...any) {
		gaps = append(gaps, gap.Gap{
			Type:             gap.TypeStateInconsistent,
			Object:           map[string]any{"lead_id": l.ID},
			Message:          fmt.Sprintf("lead %s: ", l.ID) + fmt.Sprintf(format, args...),
			SuggestedActions: []string{"repair leads.json by hand"},
		})
	}

	for i := range doc.Leads {
		l := &doc.Leads[i]
		obj := map[string]any{"lead_id": l.ID}
		switch {
		case l.Status == ledger.StatusPending:
			act := "claim and investigate " + l.ID
			if l.Claimed() {
				act = fmt.Sprintf("wait for %s to finish %s, or release it", l.ClaimedBy, l.ID)
			}
			gaps = append(gaps, gap.Gap{
				Type:             gap.TypeUnresolvedLead,
				Object:           obj,
				Message:          fmt.Sprintf("lead %s is still pending", l.ID),
				SuggestedActions: []string{act, "or mark it dead_end with a reason"},
			})
		case l.Status.Terminal():
			if l.Result == "" {
				gaps = append(gaps, gap.Gap{
					Type:             gap.TypeMissingResult,
					Object:           obj,
					Message:          fmt.Sprintf("lead %s is %s without a result", l.ID, l.Status),
					SuggestedActions: []string{"record what was found, or why it was a dead end"},
				})
			}
		default:
			inconsistent(l, "unknown status %q", l.Status)
		}

		for _, s := range l.Sources {
			if !isSource(s) {
				gaps = append(gaps, gap.Gap{
					Type:             gap.TypeInvalidSource,
					Object:           map[string]any{"lead_id": l.ID, "source_id": s},
					Message:          fmt.Sprintf("lead %s lists malformed source %q", l.ID, s),
					SuggestedActions: []string{"use S### source identifiers"},
				})
			}
		}

		if doc.MaxDepth > 0 && l.Depth > doc.MaxDepth {
			inconsistent(l, "depth %d exceeds max depth %d", l.Depth, doc.MaxDepth)
		}
		switch {
		case l.Parent == "" && l.Depth != 0:
			inconsistent(l, "depth %d without a parent", l.Depth)
		case l.Parent != "":
			p, ok := byID[l.Parent]
			if !ok {
				inconsistent(l, "parent %s does not exist", l.Parent)
			} else if l.Depth != p.Depth+1 {
				inconsistent(l, "depth %d under parent %s at depth %d", l.Depth, p.ID, p.Depth)
			}
		}
	}
	return gaps
}
