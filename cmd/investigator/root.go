package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"investigator/internal/logging"
	"investigator/internal/wiring"
)

// cli holds the persistent flags shared by every subcommand.
type cli struct {
	logLevel   string
	logFormat  string
	configPath string
	now        func() time.Time
}

func newRootCmd() *cobra.Command {
	app := &cli{now: time.Now}
	root := &cobra.Command{
		Use:   "investigator",
		Short: "Coordinate an investigative journalism case",
		Long: "investigator tracks leads, evaluates quality gates, aggregates gaps\n" +
			"and tells agents what to do next for a case directory.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(app.logLevel)
			if err != nil {
				return err
			}
			switch app.logFormat {
			case "text", "json":
			default:
				return fmt.Errorf("--log-format must be text or json, got %q", app.logFormat)
			}
			logging.Init(level, app.logFormat, cmd.ErrOrStderr())
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&app.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	f.StringVar(&app.logFormat, "log-format", "text", "Log format: text or json")
	f.StringVar(&app.configPath, "config", "", "Config file (default: <case>/investigator.yaml, then ./investigator.yaml)")

	root.AddCommand(
		app.initCmd(),
		app.leadsCmd(),
		app.gatesCmd(),
		app.gapsCmd(),
		app.checkContinueCmd(),
		app.statusCmd(),
		app.historyCmd(),
		app.serveCmd(),
	)
	return root
}

func (a *cli) options() wiring.Options {
	return wiring.Options{
		ConfigPath: a.configPath,
		Logger:     logging.New("cli"),
		Now:        a.now,
	}
}

func (a *cli) open(caseDir string) (*wiring.Case, error) {
	abs, err := filepath.Abs(caseDir)
	if err != nil {
		return nil, err
	}
	return wiring.Open(abs, a.options())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
