// Package gitexec is the single choke point for mutating and history-reading
// git invocations. Every subprocess carries a bounded deadline; expiry kills
// the process and surfaces a timeout error, non-zero exits surface as vcs
// errors carrying stderr.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
)

// DefaultTimeout bounds one git invocation.
const DefaultTimeout = 30 * time.Second

// Result is the raw outcome of one git invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// GitRunner executes git with args in dir. It is the single seam for tests:
// production code uses Runner.Run, tests substitute a scripted function.
type GitRunner func(ctx context.Context, dir string, args ...string) (Result, error)

// Runner executes the real git binary.
type Runner struct {
	timeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout overrides the per-invocation deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// New builds a Runner with the default deadline unless overridden.
func New(opts ...Option) *Runner {
	r := &Runner{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes git and fails on non-zero exit with a vcs error carrying
// stderr. Deadline expiry kills the subprocess and yields a timeout error.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	result, err := r.Try(ctx, dir, args...)
	if err != nil {
		return result, err
	}
	if result.ExitCode != 0 {
		op := "git"
		if len(args) > 0 {
			op = "git " + args[0]
		}
		return result, derrors.Vcs(errors.New(strings.TrimSpace(result.Stderr)), op).
			WithContext("exit_code", result.ExitCode)
	}
	return result, nil
}

// Try executes git and reports the exit code without treating non-zero as an
// error. Callers probing state (diff --quiet, rev-parse --verify) use this.
func (r *Runner) Try(ctx context.Context, dir string, args ...string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if runCtx.Err() == context.DeadlineExceeded {
		op := "git"
		if len(args) > 0 {
			op = "git " + args[0]
		}
		return result, derrors.Timeout(op)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		// git binary missing or unrunnable.
		return result, derrors.Vcs(err, "git")
	}
	return result, nil
}

// RunnerFunc adapts a *Runner to the GitRunner seam.
func (r *Runner) RunnerFunc() GitRunner {
	return func(ctx context.Context, dir string, args ...string) (Result, error) {
		return r.Run(ctx, dir, args...)
	}
}

// Lines splits stdout into trimmed non-empty lines.
func Lines(stdout string) []string {
	raw := strings.Split(stdout, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
