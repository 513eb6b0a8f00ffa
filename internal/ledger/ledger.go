package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"investigator/internal/lock"
	"investigator/internal/logging"
)

// Defaults for Options.
const (
	DefaultStaleAfter = 30 * time.Minute
	DefaultMaxDepth   = 3
)

// Options configures a Ledger. Zero values take the defaults.
type Options struct {
	// StaleAfter is the claim age after which a claim may be taken over or cleared.
	StaleAfter time.Duration
	Now        func() time.Time
	// NewToken mints opaque claim tokens.
	NewToken func() string
	Logger   *slog.Logger
}

// Ledger exposes claim semantics over a Store.
type Ledger struct {
	store      Store
	staleAfter time.Duration
	now        func() time.Time
	newToken   func() string
	log        *slog.Logger

	// expect, when set, makes mutations fail with CodeVersionConflict if the
	// on-disk version differs.
	expect *int
}

// New returns a Ledger over store.
func New(store Store, opts Options) *Ledger {
	l := &Ledger{
		store:      store,
		staleAfter: opts.StaleAfter,
		now:        opts.Now,
		newToken:   opts.NewToken,
		log:        opts.Logger,
	}
	if l.staleAfter <= 0 {
		l.staleAfter = DefaultStaleAfter
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.newToken == nil {
		l.newToken = uuid.NewString
	}
	if l.log == nil {
		l.log = logging.New("ledger")
	}
	return l
}

// ExpectVersion returns a view of the ledger whose mutations are rejected
// with CodeVersionConflict unless the persisted version equals v at commit
// time. The receiver is not modified.
func (l *Ledger) ExpectVersion(v int) *Ledger {
	cp := *l
	cp.expect = &v
	return &cp
}

// Outcome describes a committed (or no-op) mutation.
type Outcome struct {
	Version int    `json:"version"`
	Leads   []Lead `json:"leads,omitempty"`
	Token   string `json:"claim_token,omitempty"`
	Cleared int    `json:"cleared,omitempty"`
}

// mutate runs fn on the freshly loaded document while holding the store
// lock. When fn reports a change the version is bumped by one and the
// document saved. A write, once begun, completes or returns an error; there
// is no rollback.
func (l *Ledger) mutate(ctx context.Context, op string, fn func(doc *Document) (bool, error)) (*Document, error) {
	unlock, err := l.store.Lock(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			l.log.Warn("lock timeout", "op", op, "error", err)
			return nil, &Error{Code: CodeLockTimeout, Msg: "Could not acquire lock", Cause: err}
		}
		return nil, fmt.Errorf("%s: acquire lock: %w", op, err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			l.log.Warn("release lock failed", "op", op, "error", uerr)
		}
	}()

	doc, err := l.store.Load()
	if err != nil {
		return nil, err
	}
	if l.expect != nil && doc.Version != *l.expect {
		return nil, newError(CodeVersionConflict, "ledger is at version %d, expected %d", doc.Version, *l.expect)
	}

	changed, err := fn(doc)
	if err != nil {
		return nil, err
	}
	if !changed {
		return doc, nil
	}
	doc.Version++
	if err := l.store.Save(doc); err != nil {
		return nil, fmt.Errorf("%s: save ledger: %w", op, err)
	}
	l.log.Debug("ledger committed", "op", op, "version", doc.Version)
	return doc, nil
}

// stale reports whether lead's claim is old enough to be taken over.
// A claim without a timestamp cannot be aged and counts as stale.
func (l *Ledger) stale(lead *Lead) bool {
	if lead.ClaimedAt == nil {
		return true
	}
	return l.now().Sub(*lead.ClaimedAt) > l.staleAfter
}

// available reports whether lead can be claimed right now.
func (l *Ledger) available(lead *Lead) bool {
	return lead.Status == StatusPending && (!lead.Claimed() || l.stale(lead))
}

// checkClaimable returns the failure that prevents lead from being claimed, if any.
func (l *Ledger) checkClaimable(id string, lead *Lead) *Failure {
	switch {
	case lead == nil:
		return &Failure{LeadID: id, Code: CodeNotFound, Msg: fmt.Sprintf("lead %s not found", id)}
	case lead.Status != StatusPending:
		return &Failure{LeadID: id, Code: CodeNotPending, Msg: fmt.Sprintf("lead %s is %s", id, lead.Status)}
	case lead.Claimed() && !l.stale(lead):
		return &Failure{LeadID: id, Code: CodeAlreadyClaimed,
			Msg: fmt.Sprintf("lead %s claimed by %s at %s", id, lead.ClaimedBy, lead.ClaimedAt.Format(time.RFC3339))}
	}
	return nil
}

// Init creates an empty ledger with maxDepth and the given root leads.
// Fails with CodeAlreadyInitialized if a ledger exists.
func (l *Ledger) Init(ctx context.Context, maxDepth int, roots []RootSpec) (Outcome, error) {
	if maxDepth < 0 {
		return Outcome{}, newError(CodeInvalidInput, "max_depth must be >= 0, got %d", maxDepth)
	}
	unlock, err := l.store.Lock(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return Outcome{}, &Error{Code: CodeLockTimeout, Msg: "Could not acquire lock", Cause: err}
		}
		return Outcome{}, fmt.Errorf("init: acquire lock: %w", err)
	}
	defer unlock()

	if _, err := l.store.Load(); err == nil {
		return Outcome{}, newError(CodeAlreadyInitialized, "ledger already exists")
	} else if CodeOf(err) != CodeNotInitialized {
		return Outcome{}, err
	}

	doc := &Document{Version: 1, MaxDepth: maxDepth, Leads: []Lead{}}
	for _, r := range roots {
		lead, err := r.build(doc.nextID(), 0, "")
		if err != nil {
			return Outcome{}, err
		}
		doc.Leads = append(doc.Leads, lead)
	}
	if err := l.store.Save(doc); err != nil {
		return Outcome{}, fmt.Errorf("init: save ledger: %w", err)
	}
	l.log.Info("ledger initialized", "max_depth", maxDepth, "roots", len(doc.Leads))
	return Outcome{Version: doc.Version, Leads: doc.Leads}, nil
}

// RootSpec describes a new lead. Priority defaults to MEDIUM.
type RootSpec struct {
	Lead     string   `json:"lead"`
	Priority string   `json:"priority,omitempty"`
	Sources  []string `json:"sources,omitempty"`
}

// ChildSpec describes a lead spawned from a parent lead.
type ChildSpec = RootSpec

func (r RootSpec) build(id string, depth int, parent string) (Lead, error) {
	text := strings.TrimSpace(r.Lead)
	if text == "" {
		return Lead{}, newError(CodeInvalidInput, "lead text is required")
	}
	prio, err := ParsePriority(r.Priority)
	if err != nil {
		return Lead{}, &Error{Code: CodeInvalidInput, Msg: err.Error()}
	}
	return Lead{
		ID:       id,
		Lead:     text,
		Status:   StatusPending,
		Priority: prio,
		Depth:    depth,
		Parent:   parent,
		Sources:  append([]string(nil), r.Sources...),
	}, nil
}

// AddRoot appends a depth-0 pending lead.
func (l *Ledger) AddRoot(ctx context.Context, spec RootSpec) (Outcome, error) {
	var added Lead
	doc, err := l.mutate(ctx, "add", func(doc *Document) (bool, error) {
		lead, err := spec.build(doc.nextID(), 0, "")
		if err != nil {
			return false, err
		}
		doc.Leads = append(doc.Leads, lead)
		added = lead
		return true, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Version: doc.Version, Leads: []Lead{added}}, nil
}

// Claim stamps a fresh claim on a pending lead. An existing claim is only
// replaced once it is stale.
func (l *Ledger) Claim(ctx context.Context, id string) (Outcome, error) {
	var claimed Lead
	token := l.newToken()
	doc, err := l.mutate(ctx, "claim", func(doc *Document) (bool, error) {
		lead := doc.find(id)
		if f := l.checkClaimable(id, lead); f != nil {
			return false, &Error{Code: f.Code, Msg: f.Msg}
		}
		at := l.now().UTC()
		if lead.Claimed() {
			l.log.Info("taking over stale claim", "lead", id, "previous", lead.ClaimedBy)
		}
		lead.ClaimedBy = token
		lead.ClaimedAt = &at
		claimed = lead.clone()
		return true, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Version: doc.Version, Leads: []Lead{claimed}, Token: token}, nil
}

// BatchClaim claims every lead in ids or none of them. All leads are
// validated under one lock acquisition before any is modified; on rejection
// the returned error lists every failing lead and the document is untouched.
func (l *Ledger) BatchClaim(ctx context.Context, ids []string) (Outcome, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return Outcome{}, newError(CodeInvalidInput, "no lead ids given")
	}
	token := l.newToken()
	var claimed []Lead
	doc, err := l.mutate(ctx, "batch-claim", func(doc *Document) (bool, error) {
		var failures []Failure
		for _, id := range ids {
			if f := l.checkClaimable(id, doc.find(id)); f != nil {
				failures = append(failures, *f)
			}
		}
		if len(failures) > 0 {
			return false, &Error{
				Code:     CodeBatchRejected,
				Msg:      fmt.Sprintf("%d of %d leads cannot be claimed; nothing was claimed", len(failures), len(ids)),
				Failures: failures,
			}
		}
		at := l.now().UTC()
		for _, id := range ids {
			lead := doc.find(id)
			lead.ClaimedBy = token
			stamp := at
			lead.ClaimedAt = &stamp
			claimed = append(claimed, lead.clone())
		}
		return true, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Version: doc.Version, Leads: claimed, Token: token}, nil
}

// Release clears the claim on a lead. Releasing an unclaimed lead is a
// successful no-op that does not write.
func (l *Ledger) Release(ctx context.Context, id string) (Outcome, error) {
	var released Lead
	doc, err := l.mutate(ctx, "release", func(doc *Document) (bool, error) {
		lead := doc.find(id)
		if lead == nil {
			return false, newError(CodeNotFound, "lead %s not found", id)
		}
		changed := lead.Claimed()
		lead.clearClaim()
		released = lead.clone()
		return changed, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Version: doc.Version, Leads: []Lead{released}}, nil
}

// UpdateSpec is the terminal result of investigating a lead.
type UpdateSpec struct {
	Status Status `json:"status"`
	Result string `json:"result,omitempty"`
	// Sources replaces the lead's sources when non-nil.
	Sources []string `json:"sources,omitempty"`
}

// Update moves a lead to a terminal status, records its result and clears
// the claim.
func (l *Ledger) Update(ctx context.Context, id string, spec UpdateSpec) (Outcome, error) {
	if !spec.Status.Terminal() {
		return Outcome{}, newError(CodeInvalidStatus, "status must be %s or %s, got %q", StatusInvestigated, StatusDeadEnd, spec.Status)
	}
	var updated Lead
	doc, err := l.mutate(ctx, "update", func(doc *Document) (bool, error) {
		lead := doc.find(id)
		if lead == nil {
			return false, newError(CodeNotFound, "lead %s not found", id)
		}
		lead.Status = spec.Status
		lead.Result = spec.Result
		if spec.Sources != nil {
			lead.Sources = append([]string(nil), spec.Sources...)
		}
		lead.clearClaim()
		updated = lead.clone()
		return true, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Version: doc.Version, Leads: []Lead{updated}}, nil
}

// AddChild appends a pending lead one level below parentID. A child deeper
// than the ledger's max_depth is rejected with CodeExceedsMaxDepth and
// returned in Error.Rejected; nothing is appended.
func (l *Ledger) AddChild(ctx context.Context, parentID string, spec ChildSpec) (Outcome, error) {
	var added Lead
	doc, err := l.mutate(ctx, "add-child", func(doc *Document) (bool, error) {
		parent := doc.find(parentID)
		if parent == nil {
			return false, newError(CodeNotFound, "parent lead %s not found", parentID)
		}
		depth := parent.Depth + 1
		if depth > doc.MaxDepth {
			rejected, err := spec.build("", depth, parentID)
			if err != nil {
				return false, err
			}
			return false, &Error{
				Code:     CodeExceedsMaxDepth,
				Msg:      fmt.Sprintf("child depth %d exceeds max_depth %d", depth, doc.MaxDepth),
				Rejected: &rejected,
			}
		}
		lead, err := spec.build(doc.nextID(), depth, parentID)
		if err != nil {
			return false, err
		}
		doc.Leads = append(doc.Leads, lead)
		added = lead
		return true, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Version: doc.Version, Leads: []Lead{added}}, nil
}

// CleanupStale clears every claim older than the staleness threshold and
// returns how many were cleared. Nothing is written when none are stale.
func (l *Ledger) CleanupStale(ctx context.Context) (Outcome, error) {
	var cleared []Lead
	doc, err := l.mutate(ctx, "cleanup-stale", func(doc *Document) (bool, error) {
		for i := range doc.Leads {
			lead := &doc.Leads[i]
			if lead.Claimed() && l.stale(lead) {
				lead.clearClaim()
				cleared = append(cleared, lead.clone())
			}
		}
		return len(cleared) > 0, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if len(cleared) > 0 {
		l.log.Info("cleared stale claims", "count", len(cleared))
	}
	return Outcome{Version: doc.Version, Leads: cleared, Cleared: len(cleared)}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
