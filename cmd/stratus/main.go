package main

import (
	"log/slog"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/stratus/cmd/stratus/commands"
	"git.home.luguber.info/inful/stratus/internal/daemon"
	derrors "git.home.luguber.info/inful/stratus/internal/errors"
)

func main() {
	// Optional .env next to the binary's working directory; flags and real
	// environment still win.
	_ = godotenv.Load()

	cli := &commands.CLI{}
	ctx := kong.Parse(cli,
		kong.Name("stratus"),
		kong.Description("Local development assistant: persistent memory, unified retrieval, adaptive learning, and spec orchestration."),
		kong.UsageOnError(),
		kong.Vars{"version": daemon.Version},
	)

	err := ctx.Run(&commands.Global{Logger: slog.Default()}, cli)
	derrors.NewCLIErrorAdapter(cli.Verbose, nil).HandleError(err)
}
