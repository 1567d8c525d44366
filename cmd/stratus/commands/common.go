// Package commands holds the kong command tree for the stratus binary.
// `serve` runs the daemon in the foreground; every other command is a thin
// HTTP client that finds the daemon through port.lock.
package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/stratus/internal/config"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition and global flags.
type CLI struct {
	ProjectRoot string           `short:"C" name:"project-root" help:"Project root containing .ai-framework.json" default:"."`
	DataDir     string           `name:"data-dir" help:"Daemon data directory (default: AI_FRAMEWORK_DATA_DIR or ~/.ai-framework/data)"`
	Verbose     bool             `short:"v" help:"Enable verbose logging"`
	Version     kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve  ServeCmd  `cmd:"" help:"Run the stratus daemon in the foreground"`
	Index  IndexCmd  `cmd:"" help:"Reindex the governance corpus and refresh the code backend"`
	Search SearchCmd `cmd:"" help:"Search the code and governance corpora through the daemon"`
	Learn  LearnCmd  `cmd:"" help:"Learning pipeline: analyze history, review and decide proposals"`
	Spec   SpecCmd   `cmd:"" help:"Drive a spec through plan, implement, verify, and learn"`
}

// AfterApply runs after flag parsing; set up logging once and resolve the
// data directory default.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if c.DataDir == "" {
		c.DataDir = config.DataDir()
	}
	return nil
}
