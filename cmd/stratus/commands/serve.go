package commands

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/stratus/internal/config"
	"git.home.luguber.info/inful/stratus/internal/daemon"
	"git.home.luguber.info/inful/stratus/internal/metrics"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Port int `short:"p" help:"HTTP listen port (0 picks an ephemeral port, recorded in port.lock)" default:"0"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(filepath.Join(root.ProjectRoot, config.FileName))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prom.NewRegistry()
	d := daemon.New(cfg, root.ProjectRoot, root.DataDir, g.Logger,
		daemon.WithPort(s.Port),
		daemon.WithRecorder(metrics.NewPrometheusRecorder(registry)),
		daemon.WithRegistry(registry),
	)
	if err := d.Open(ctx); err != nil {
		return err
	}
	return d.Run(ctx)
}
