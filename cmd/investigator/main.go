// investigator drives an investigation case directory: the lead ledger,
// gates, gap aggregation and the phase orchestrator.
//
// Usage:
//
//	investigator init <case> [--topic T]
//	investigator leads <op> <case> [args]
//	investigator gates <case>
//	investigator gaps <case>
//	investigator check-continue [case] [--batch] [--batch-size N]
//	investigator status <case> [--format table|markdown|json]
//	investigator history <case> [--limit N]
//	investigator serve
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	var ee *exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.code
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
}

// exitError ends a command with a specific exit code. Its output has
// already been written, so main prints nothing more.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}
