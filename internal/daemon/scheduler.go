package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/stratus/internal/logfields"
	"git.home.luguber.info/inful/stratus/internal/metrics"
)

const (
	governanceReindexInterval = 5 * time.Minute
	learningCheckInterval     = 10 * time.Minute
)

// Scheduler runs the daemon's periodic background work on gocron: keeping
// the governance index fresh and triggering learning analysis once enough
// commits have landed. The jobs themselves execute on the daemon's worker
// group so shutdown can wait for them.
type Scheduler struct {
	scheduler gocron.Scheduler
	daemon    *Daemon
}

// NewScheduler creates the scheduler with both periodic jobs registered.
func NewScheduler(d *Daemon) (*Scheduler, error) {
	inner, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	s := &Scheduler{scheduler: inner, daemon: d}

	if _, err := inner.NewJob(
		gocron.DurationJob(governanceReindexInterval),
		gocron.NewTask(s.runGovernanceReindex),
		gocron.WithName("governance-reindex"),
	); err != nil {
		return nil, fmt.Errorf("failed to register reindex job: %w", err)
	}
	if _, err := inner.NewJob(
		gocron.DurationJob(learningCheckInterval),
		gocron.NewTask(s.runLearningCheck),
		gocron.WithName("learning-trigger"),
	); err != nil {
		return nil, fmt.Errorf("failed to register learning job: %w", err)
	}
	return s, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.daemon.logger.Info("starting scheduler")
	s.scheduler.Start()
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.daemon.logger.Info("stopping scheduler")
	return s.scheduler.Shutdown()
}

func (s *Scheduler) runGovernanceReindex() {
	s.daemon.workers.Go("governance-reindex", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.daemon.reindexGovernance(ctx)
	})
}

// reindexGovernance refreshes the governance index and updates the chunk
// gauge. Shared between the scheduler and the reindex endpoint.
func (d *Daemon) reindexGovernance(ctx context.Context) {
	if !d.Config().Retrieval.GovernanceEnabled || d.governance == nil {
		return
	}
	result, err := d.governance.IndexProject(ctx, d.projectRoot)
	if err != nil {
		d.logger.Warn("governance reindex failed", logfields.Error(err))
		return
	}
	if stats, err := d.governance.GetStats(ctx); err == nil {
		d.recorder.SetIndexedChunks(stats.TotalChunks)
	}
	if result.FilesIndexed > 0 || result.FilesRemoved > 0 {
		d.logger.Info("governance index refreshed",
			slog.Int("indexed", result.FilesIndexed),
			slog.Int("removed", result.FilesRemoved))
	}
}

func (s *Scheduler) runLearningCheck() {
	s.daemon.workers.Go("learning-trigger", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.daemon.maybeRunLearning(ctx)
	})
}

// maybeRunLearning triggers a learning analysis when the commit counter has
// reached the configured trigger threshold.
func (d *Daemon) maybeRunLearning(ctx context.Context) {
	cfg := d.Config().Learning
	if !cfg.GlobalEnabled || d.engine == nil {
		return
	}
	commits, err := d.engine.CommitsSinceLastAnalysis(ctx)
	if err != nil {
		d.logger.Debug("commit count check failed", logfields.Error(err))
		return
	}
	if commits < cfg.CommitsPerTrigger {
		return
	}

	result, err := d.engine.Analyze(ctx, "")
	if err != nil {
		d.recorder.IncLearningRun(metrics.ResultError)
		d.logger.Warn("scheduled learning analysis failed", logfields.Error(err))
		return
	}
	if result.Skipped != "" {
		d.recorder.IncLearningRun(metrics.ResultSkipped)
		return
	}
	d.recorder.IncLearningRun(metrics.ResultSuccess)
	d.logger.Info("scheduled learning analysis complete",
		slog.Int("commits", result.AnalyzedCommits),
		slog.Int("candidates", result.Candidates),
		slog.Int("proposals", result.Proposals))
}
