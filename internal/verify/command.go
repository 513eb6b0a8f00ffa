package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"investigator/internal/config"
)

// DefaultCommandTimeout bounds an external verifier without its own timeout.
const DefaultCommandTimeout = 2 * time.Minute

// Command runs an external program as a verifier. The case directory is
// appended to the argument list; stdout must carry the JSON result. A
// non-zero exit is fine as long as stdout parses.
type Command struct {
	ID      string
	Args    []string
	Timeout time.Duration
}

// NewCommand builds a Command from config.
func NewCommand(c config.CommandConfig) *Command {
	return &Command{ID: c.Name, Args: append([]string(nil), c.Command...), Timeout: c.Timeout.Std()}
}

func (c *Command) Name() string   { return c.ID }
func (c *Command) Script() string { return strings.Join(c.Args, " ") }

func (c *Command) Verify(ctx context.Context, caseDir string, opts Options) (Result, error) {
	if len(c.Args) == 0 {
		return Result{}, fmt.Errorf("no command configured")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), c.Args[1:]...), caseDir)
	cmd := exec.CommandContext(ctx, c.Args[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{}, fmt.Errorf("timed out after %s", timeout)
	}

	res, decErr := Decode(stdout.Bytes(), c.ID)
	if decErr == nil {
		if runErr != nil && opts.Logger != nil {
			opts.Logger.Debug("verifier exited non-zero with valid output", "verifier", c.ID, "error", runErr)
		}
		return res, nil
	}
	if runErr != nil {
		return Result{}, fmt.Errorf("%w: %s", runErr, tail(stderr.String(), 400))
	}
	return Result{}, decErr
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
