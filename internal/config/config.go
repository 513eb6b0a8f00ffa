// Package config holds the tunables of the coordination core. Every field
// has a default; a config file only needs to name what it changes.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of investigator.yaml.
type Config struct {
	Log          LogConfig          `yaml:"log" json:"log"`
	Ledger       LedgerConfig       `yaml:"ledger" json:"ledger"`
	Gates        GatesConfig        `yaml:"gates" json:"gates"`
	Gaps         GapsConfig         `yaml:"gaps" json:"gaps"`
	Verifiers    VerifiersConfig    `yaml:"verifiers" json:"verifiers"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// LedgerConfig controls claim staleness and the leads.json lock.
type LedgerConfig struct {
	MaxDepth        int      `yaml:"max_depth" json:"max_depth"`
	StaleClaimAfter Duration `yaml:"stale_claim_after" json:"stale_claim_after"`
	LockTimeout     Duration `yaml:"lock_timeout" json:"lock_timeout"`
	LockRetry       Duration `yaml:"lock_retry" json:"lock_retry"`
	LockStaleAfter  Duration `yaml:"lock_stale_after" json:"lock_stale_after"`
}

// GatesConfig lists the files and headings the gates look for.
type GatesConfig struct {
	PlanFiles            []string `yaml:"plan_files" json:"plan_files"`
	QuestionFrameworks   []string `yaml:"question_frameworks" json:"question_frameworks"`
	CounterpointHeadings []string `yaml:"counterpoint_headings" json:"counterpoint_headings"`
	// ScanFiles are case-relative markdown files searched for [S###] citations.
	// The findings/ directory is always scanned in addition.
	ScanFiles   []string `yaml:"scan_files" json:"scan_files"`
	Parallelism int      `yaml:"parallelism" json:"parallelism"`
}

// GapsConfig overrides the built-in gap type severities.
type GapsConfig struct {
	Severity map[string]string `yaml:"severity" json:"severity"`
}

type VerifiersConfig struct {
	// Enabled restricts the verifiers that run, built-in or command, by name.
	// Empty runs all.
	Enabled     []string `yaml:"enabled" json:"enabled"`
	Parallelism int      `yaml:"parallelism" json:"parallelism"`
	// MinSources is the corroboration threshold per claim.
	MinSources int             `yaml:"min_sources" json:"min_sources"`
	Commands   []CommandConfig `yaml:"commands" json:"commands"`
}

// CommandConfig declares an external verifier. The command receives the
// case directory as its last argument and prints {passed, gaps} JSON.
type CommandConfig struct {
	Name    string   `yaml:"name" json:"name"`
	Command []string `yaml:"command" json:"command"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

type OrchestratorConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// PromptDir holds <command>.md templates, relative to the case
	// directory unless absolute. Missing templates fall back to built-ins.
	PromptDir string `yaml:"prompt_dir" json:"prompt_dir"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Ledger: LedgerConfig{
			MaxDepth:        3,
			StaleClaimAfter: Duration(30 * time.Minute),
			LockTimeout:     Duration(5 * time.Second),
			LockRetry:       Duration(50 * time.Millisecond),
			LockStaleAfter:  Duration(30 * time.Second),
		},
		Gates: GatesConfig{
			PlanFiles: []string{"refined_prompt.md", "strategic_context.md", "investigation_plan.md"},
			QuestionFrameworks: []string{
				"core-5w1h", "stakeholders", "money-trail", "timeline",
				"power-structures", "counterfactual", "precedent", "sources-and-methods",
			},
			CounterpointHeadings: []string{"Counterpoints", "Other Perspectives", "Responses", "What Critics Say"},
			ScanFiles:            []string{"article.md", "summary.md"},
			Parallelism:          4,
		},
		Gaps: GapsConfig{Severity: map[string]string{}},
		Verifiers: VerifiersConfig{
			Parallelism: 4,
			MinSources:  2,
		},
		Orchestrator: OrchestratorConfig{BatchSize: 5, PromptDir: "prompts"},
	}
}

// Validate rejects values that would make the core misbehave.
func (c *Config) Validate() error {
	var errs []string
	if c.Ledger.MaxDepth < 0 {
		errs = append(errs, "ledger.max_depth must be >= 0")
	}
	for name, d := range map[string]Duration{
		"ledger.stale_claim_after": c.Ledger.StaleClaimAfter,
		"ledger.lock_timeout":      c.Ledger.LockTimeout,
		"ledger.lock_retry":        c.Ledger.LockRetry,
		"ledger.lock_stale_after":  c.Ledger.LockStaleAfter,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	if c.Orchestrator.BatchSize < 1 {
		errs = append(errs, "orchestrator.batch_size must be >= 1")
	}
	for t, s := range c.Gaps.Severity {
		switch strings.ToUpper(s) {
		case "BLOCKER", "HIGH", "MEDIUM", "LOW":
		default:
			errs = append(errs, fmt.Sprintf("gaps.severity.%s: unknown severity %q", t, s))
		}
	}
	seen := map[string]bool{}
	for i, cmd := range c.Verifiers.Commands {
		if cmd.Name == "" {
			errs = append(errs, fmt.Sprintf("verifiers.commands[%d]: name is required", i))
		} else if seen[cmd.Name] {
			errs = append(errs, fmt.Sprintf("verifiers.commands[%d]: duplicate name %q", i, cmd.Name))
		}
		seen[cmd.Name] = true
		if len(cmd.Command) == 0 {
			errs = append(errs, fmt.Sprintf("verifiers.commands[%d]: command is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Duration is a time.Duration written as "30m", "5s" in config files.
// Bare numbers are read as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var secs float64
	if err := node.Decode(&secs); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs float64
	if err := json.Unmarshal(b, &secs); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds: %w", err)
	}
	return d.set(s)
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }
