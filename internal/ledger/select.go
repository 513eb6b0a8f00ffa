package ledger

import (
	"context"
	"sort"
)

// BatchSelect returns up to count leads that could be claimed now, ordered
// by priority (HIGH, MEDIUM, LOW, unknown) then depth ascending, ledger order
// breaking ties. count <= 0 returns every available lead. Nothing is
// claimed and no lock is taken.
func (l *Ledger) BatchSelect(ctx context.Context, count int) ([]Lead, error) {
	doc, err := l.store.Load()
	if err != nil {
		return nil, err
	}
	return l.selectAvailable(doc, count), nil
}

func (l *Ledger) selectAvailable(doc *Document, count int) []Lead {
	var out []Lead
	for i := range doc.Leads {
		if l.available(&doc.Leads[i]) {
			out = append(out, doc.Leads[i].clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Depth < out[j].Depth
	})
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out
}

// Get returns a copy of one lead.
func (l *Ledger) Get(ctx context.Context, id string) (Lead, error) {
	doc, err := l.store.Load()
	if err != nil {
		return Lead{}, err
	}
	lead := doc.find(id)
	if lead == nil {
		return Lead{}, newError(CodeNotFound, "lead %s not found", id)
	}
	return lead.clone(), nil
}

// Snapshot returns the whole document without locking.
func (l *Ledger) Snapshot(ctx context.Context) (*Document, error) {
	return l.store.Load()
}

// Stats summarizes the ledger.
type Stats struct {
	Version    int            `json:"version"`
	MaxDepth   int            `json:"max_depth"`
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
	ByDepth    map[int]int    `json:"by_depth"`
	// Pending leads that are actively claimed (claim not stale).
	InFlight int `json:"in_flight"`
	// Claims past the staleness threshold, any status.
	StaleClaims int `json:"stale_claims"`
	// Pending leads claimable right now.
	Available int `json:"available"`
}

// Stats computes counts over a lock-free read of the ledger.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	doc, err := l.store.Load()
	if err != nil {
		return Stats{}, err
	}
	return l.stats(doc), nil
}

func (l *Ledger) stats(doc *Document) Stats {
	st := Stats{
		Version:    doc.Version,
		MaxDepth:   doc.MaxDepth,
		Total:      len(doc.Leads),
		ByStatus:   map[Status]int{StatusPending: 0, StatusInvestigated: 0, StatusDeadEnd: 0},
		ByPriority: map[string]int{},
		ByDepth:    map[int]int{},
	}
	for i := range doc.Leads {
		lead := &doc.Leads[i]
		st.ByStatus[lead.Status]++
		prio := string(lead.Priority)
		if prio == "" {
			prio = "UNKNOWN"
		}
		st.ByPriority[prio]++
		st.ByDepth[lead.Depth]++
		if lead.Claimed() {
			if l.stale(lead) {
				st.StaleClaims++
			} else if lead.Status == StatusPending {
				st.InFlight++
			}
		}
		if l.available(lead) {
			st.Available++
		}
	}
	return st
}
