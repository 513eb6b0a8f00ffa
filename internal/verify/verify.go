// Package verify runs independent verifiers over a case directory and turns
// every outcome, including crashes, into data.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"investigator/internal/config"
	"investigator/internal/gap"
	"investigator/internal/logging"
)

// Options is passed to every verifier.
type Options struct {
	Config *config.Config
	Now    func() time.Time
	Logger *slog.Logger
}

// Result is what a verifier reports. Gaps are raw; the aggregator assigns
// IDs and severities.
type Result struct {
	Passed bool      `json:"passed"`
	Gaps   []gap.Gap `json:"gaps"`
}

// Verifier checks one aspect of a case.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, caseDir string, opts Options) (Result, error)
}

// Scripter is implemented by verifiers that run an external program; the
// script is reported in gaps.json.
type Scripter interface {
	Script() string
}

// Func adapts a function to the Verifier interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, caseDir string, opts Options) (Result, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Verify(ctx context.Context, caseDir string, opts Options) (Result, error) {
	return f.Fn(ctx, caseDir, opts)
}

// Registry holds verifiers in registration order.
type Registry struct {
	order  []Verifier
	byName map[string]Verifier
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Verifier{}}
}

// Register adds v. Names must be unique.
func (r *Registry) Register(v Verifier) error {
	name := v.Name()
	if name == "" {
		return fmt.Errorf("verifier has no name")
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("verifier %q already registered", name)
	}
	r.byName[name] = v
	r.order = append(r.order, v)
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (r *Registry) MustRegister(vs ...Verifier) {
	for _, v := range vs {
		if err := r.Register(v); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(name string) (Verifier, bool) {
	v, ok := r.byName[name]
	return v, ok
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	for i, v := range r.order {
		out[i] = v.Name()
	}
	return out
}

// Select returns the named verifiers in registration order; empty names
// selects all. Unknown names are an error.
func (r *Registry) Select(names []string) ([]Verifier, error) {
	if len(names) == 0 {
		return append([]Verifier(nil), r.order...), nil
	}
	want := map[string]bool{}
	var unknown []string
	for _, n := range names {
		if _, ok := r.byName[n]; !ok {
			unknown = append(unknown, n)
		}
		want[n] = true
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown verifiers: %v (registered: %v)", unknown, r.Names())
	}
	var out []Verifier
	for _, v := range r.order {
		if want[v.Name()] {
			out = append(out, v)
		}
	}
	return out, nil
}

// Outcome is one verifier's entry in gaps.json.
type Outcome struct {
	Name     string    `json:"name"`
	Script   string    `json:"script"`
	OK       bool      `json:"ok"`
	Passed   bool      `json:"passed"`
	GapCount int       `json:"gap_count"`
	Error    string    `json:"error,omitempty"`
	Gaps     []gap.Gap `json:"-"`
}

// Runner executes verifiers. A failing verifier never stops the batch.
type Runner struct {
	Verifiers   []Verifier
	Parallelism int
	Logger      *slog.Logger
}

// Run executes every verifier against caseDir and returns outcomes in
// verifier order. Errors and panics become a STATE_INCONSISTENT gap tagged
// with the verifier's name.
func (r *Runner) Run(ctx context.Context, caseDir string, opts Options) []Outcome {
	log := r.Logger
	if log == nil {
		log = logging.New("verify")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = log
	}
	results := make([]Outcome, len(r.Verifiers))

	runOne := func(ctx context.Context, i int, v Verifier) {
		start := time.Now()
		res, err := safeVerify(ctx, v, caseDir, opts)
		out := Outcome{Name: v.Name(), Script: scriptOf(v)}
		if err != nil {
			log.Warn("verifier failed", "verifier", v.Name(), "error", err)
			out.Error = err.Error()
			out.Gaps = []gap.Gap{gap.Crash(v.Name(), err)}
		} else {
			out.OK = true
			out.Passed = res.Passed
			out.Gaps = make([]gap.Gap, len(res.Gaps))
			for j, g := range res.Gaps {
				if g.Verifier == "" {
					g.Verifier = v.Name()
				}
				out.Gaps[j] = g
			}
		}
		out.GapCount = len(out.Gaps)
		log.Debug("verifier done", "verifier", v.Name(), "passed", out.Passed, "gaps", out.GapCount, "elapsed", time.Since(start))
		results[i] = out
	}

	if r.Parallelism > 1 {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(r.Parallelism)
		for i, v := range r.Verifiers {
			g.Go(func() error {
				runOne(gCtx, i, v)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, v := range r.Verifiers {
			runOne(ctx, i, v)
		}
	}
	return results
}

func safeVerify(ctx context.Context, v Verifier, caseDir string, opts Options) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			opts.Logger.Error("verifier panic", "verifier", v.Name(), "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return v.Verify(ctx, caseDir, opts)
}

func scriptOf(v Verifier) string {
	if s, ok := v.(Scripter); ok {
		return s.Script()
	}
	return "builtin:" + v.Name()
}
