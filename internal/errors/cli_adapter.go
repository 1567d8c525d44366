package errors

import (
	"fmt"
	"log/slog"
	"os"
)

// Exit codes surfaced to external callers. These are part of the hook and
// tool-bridge contract, so they must stay stable.
const (
	ExitSuccess      = 0  // operation succeeded
	ExitUserError    = 1  // user-correctable (dirty worktree, bad input)
	ExitPrecondition = 2  // precondition failed (transition not allowed)
	ExitInternal     = 64 // internal error
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	if se, ok := err.(*StratusError); ok {
		return a.exitCodeFromStratus(se)
	}

	return ExitUserError
}

// exitCodeFromStratus maps StratusError categories to exit codes.
func (a *CLIErrorAdapter) exitCodeFromStratus(err *StratusError) int {
	switch err.Category {
	case CategoryValidation, CategoryNotFound, CategoryVcs, CategoryBackend, CategoryConfig:
		return ExitUserError
	case CategoryState, CategoryConflict:
		return ExitPrecondition
	case CategoryStorage, CategoryTimeout, CategoryDaemon, CategoryInternal:
		return ExitInternal
	default:
		return ExitUserError
	}
}

// HandleError logs the error and exits with the appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	if a.verbose {
		a.logger.Error("command failed", slog.String("error", fmt.Sprintf("%+v", err)))
	} else {
		fmt.Fprintln(os.Stderr, "Error:", err.Error())
	}

	os.Exit(a.ExitCodeFor(err))
}
