// Package runner applies rule change requests by executing the firewall
// management tool as a subprocess.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	ftypes "go.hackfix.me/openme/firewall/types"
)

// Exit statuses of check commands.
const (
	checkPresent = 0
	checkAbsent  = 1
)

// ExitError is returned when a command exits with an unexpected status.
type ExitError struct {
	Command  ftypes.Command
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command '%s' exited with status %d", e.Command, e.ExitCode)
}

// ExitStatus returns the exit code and the output of the command.
func (e *ExitError) ExitStatus() (int, string) {
	return e.ExitCode, e.Output
}

// ExecFunc runs a command and returns its exit status and combined output. A
// non-nil error means the command couldn't be started at all.
type ExecFunc func(ctx context.Context, cmd ftypes.Command) (exitCode int, output []byte, err error)

// Runner executes rule change requests. In dry run mode requests are only
// logged, and always succeed.
type Runner struct {
	dryRun bool
	exec   ExecFunc
	logger *slog.Logger
}

var _ ftypes.Runner = (*Runner)(nil)

// Option is a function that allows configuring the Runner.
type Option func(*Runner)

// WithDryRun enables or disables dry run mode.
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) {
		r.dryRun = dryRun
	}
}

// WithExec sets the function used to execute commands.
func WithExec(fn ExecFunc) Option {
	return func(r *Runner) {
		r.exec = fn
	}
}

// WithLogger sets the logger used by the Runner.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger.With("component", "runner")
	}
}

// New returns a new Runner that executes commands with os/exec by default.
func New(opts ...Option) *Runner {
	r := &Runner{exec: osExec, logger: slog.Default().With("component", "runner")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DryRun returns true if the Runner doesn't modify the firewall.
func (r *Runner) DryRun() bool {
	return r.dryRun
}

// Run applies the request. The check command is executed first, and the change
// command only if the rule isn't already in the requested state, so adding an
// existing rule or removing a missing one succeeds without changes.
func (r *Runner) Run(ctx context.Context, req ftypes.Request) (ftypes.Outcome, error) {
	logger := r.logger.With("rule", req.Rule.String())

	if r.dryRun {
		logger.Info("dry run", "command", req.Change.String())
		return ftypes.OutcomeDryRun, nil
	}

	code, out, err := r.exec(ctx, req.Check)
	if err != nil {
		return ftypes.OutcomeFailed, fmt.Errorf("failed running '%s': %w", req.Check, err)
	}

	switch {
	case code == checkPresent && req.Rule.Direction == ftypes.DirectionAdd,
		code == checkAbsent && req.Rule.Direction == ftypes.DirectionRemove:
		logger.Debug("rule already in requested state")
		return ftypes.OutcomeSkipped, nil
	case code != checkPresent && code != checkAbsent:
		return ftypes.OutcomeFailed, &ExitError{Command: req.Check, ExitCode: code, Output: trimOutput(out)}
	}

	code, out, err = r.exec(ctx, req.Change)
	if err != nil {
		return ftypes.OutcomeFailed, fmt.Errorf("failed running '%s': %w", req.Change, err)
	}
	if code != 0 {
		return ftypes.OutcomeFailed, &ExitError{Command: req.Change, ExitCode: code, Output: trimOutput(out)}
	}

	logger.Debug("applied rule change", "command", req.Change.String())

	return ftypes.OutcomeApplied, nil
}

func osExec(ctx context.Context, cmd ftypes.Command) (int, []byte, error) {
	var out bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Stdout = &out
	c.Stderr = &out

	err := c.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), out.Bytes(), nil
	}
	if err != nil {
		return -1, out.Bytes(), err //nolint:wrapcheck // Wrapped by the caller.
	}

	return 0, out.Bytes(), nil
}

func trimOutput(out []byte) string {
	return strings.TrimSpace(string(out))
}
