// Package daemon hosts the long-running stratus service: the four sqlite
// stores, the learning engine, the unified retriever, the orchestration
// coordinator, a gocron scheduler for background work, a config watcher, and
// the HTTP surface the assistant's hooks and tools talk to.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/stratus/internal/config"
	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/gitexec"
	"git.home.luguber.info/inful/stratus/internal/governance"
	"git.home.luguber.info/inful/stratus/internal/learning"
	"git.home.luguber.info/inful/stratus/internal/logfields"
	"git.home.luguber.info/inful/stratus/internal/memory"
	"git.home.luguber.info/inful/stratus/internal/metrics"
	"git.home.luguber.info/inful/stratus/internal/orchestration"
	"git.home.luguber.info/inful/stratus/internal/retrieval"
	"git.home.luguber.info/inful/stratus/internal/worktree"
)

// Daemon is the single stateful process. Stores open in a fixed order
// (memory, governance, embed cache, learning, coordinator) and tear down in
// reverse.
type Daemon struct {
	cfg         *config.Config
	cfgMu       sync.RWMutex
	projectRoot string
	dataDir     string
	port        int
	logger      *slog.Logger
	recorder    metrics.Recorder
	registry    *prom.Registry

	memory     *memory.Store
	governance *governance.Store
	embedCache *retrieval.EmbedCache
	learningDB *learning.DB

	gitRunner   gitexec.GitRunner
	engine      *learning.Engine
	codeClient  *retrieval.CodeClient
	retriever   *retrieval.Retriever
	trees       *worktree.Manager
	coordinator *orchestration.Coordinator

	workers   WorkerGroup
	scheduler *Scheduler
	watcher   *ConfigWatcher
	server    *http.Server

	startedAt time.Time
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithPort sets the HTTP listen port. 0 picks an ephemeral port, recorded in
// port.lock for clients.
func WithPort(port int) Option {
	return func(d *Daemon) { d.port = port }
}

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *Daemon) { d.recorder = r }
}

// WithRegistry injects the Prometheus registry served on /metrics.
func WithRegistry(reg *prom.Registry) Option {
	return func(d *Daemon) { d.registry = reg }
}

// WithGitRunner overrides the git subprocess seam, for tests.
func WithGitRunner(run gitexec.GitRunner) Option {
	return func(d *Daemon) { d.gitRunner = run }
}

// New builds an unstarted daemon. Open must be called before Run.
func New(cfg *config.Config, projectRoot, dataDir string, logger *slog.Logger, opts ...Option) *Daemon {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		cfg:         cfg,
		projectRoot: projectRoot,
		dataDir:     dataDir,
		logger:      logger,
		recorder:    metrics.NoopRecorder{},
	}
	d.workers.logger = logger
	for _, opt := range opts {
		opt(d)
	}
	if d.gitRunner == nil {
		d.gitRunner = gitexec.New().RunnerFunc()
	}
	return d
}

// Config returns the current configuration snapshot.
func (d *Daemon) Config() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// Open opens the stores and wires the subsystems. Order matters: memory
// first, coordinator last, so teardown in reverse never closes a store a
// live component still holds.
func (d *Daemon) Open(ctx context.Context) error {
	if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
		return derrors.StorageUnavailable(err).WithContext("path", d.dataDir)
	}

	var err error
	if d.memory, err = memory.Open(ctx, filepath.Join(d.dataDir, "memory.db")); err != nil {
		return err
	}
	if d.governance, err = governance.Open(ctx, filepath.Join(d.dataDir, "governance.db")); err != nil {
		d.teardownStores()
		return err
	}
	if d.embedCache, err = retrieval.OpenEmbedCache(ctx, filepath.Join(d.dataDir, "embed_cache.db")); err != nil {
		d.teardownStores()
		return err
	}
	if d.learningDB, err = learning.Open(ctx, filepath.Join(d.dataDir, "learning.db")); err != nil {
		d.teardownStores()
		return err
	}

	d.wire()
	return nil
}

// wire builds the store-dependent components. Separated from Open so tests
// can inject in-memory stores first.
func (d *Daemon) wire() {
	cfg := d.Config()

	d.codeClient = retrieval.NewCodeClient(cfg.Retrieval.CodeBinary,
		retrieval.WithProjectRoot(d.projectRoot),
		retrieval.WithEmbedCache(d.embedCache, cfg.Retrieval.EmbedModel))
	d.retriever = retrieval.NewRetriever(d.codeClient, d.governance,
		cfg.Retrieval.CodeEnabled, cfg.Retrieval.GovernanceEnabled, d.logger)

	d.engine = learning.NewEngine(cfg.Learning, d.learningDB, d.gitRunner,
		d.projectRoot, d.memory, d.logger)

	d.trees = worktree.NewManager(d.gitRunner, d.projectRoot)
	d.coordinator = orchestration.NewCoordinator(
		orchestration.NewStore(d.projectRoot), d.trees, d.logger,
		orchestration.WithMemory(d.memory),
		orchestration.WithMaxIterations(cfg.Orchestration.MaxReviewIterations),
		orchestration.WithStaleBusyHorizon(time.Duration(cfg.Orchestration.StaleBusyHours)*time.Hour),
	)
}

// Run serves until ctx is cancelled, then tears everything down in reverse
// start order.
func (d *Daemon) Run(ctx context.Context) error {
	d.startedAt = time.Now().UTC()

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", d.port))
	if err != nil {
		return derrors.Wrap(err, derrors.CategoryDaemon, derrors.SeverityFatal, "http listen failed")
	}
	boundPort := listener.Addr().(*net.TCPAddr).Port
	if err := WritePortLock(d.dataDir, boundPort); err != nil {
		_ = listener.Close()
		return err
	}
	defer RemovePortLock(d.dataDir)

	d.scheduler, err = NewScheduler(d)
	if err != nil {
		_ = listener.Close()
		return err
	}
	d.scheduler.Start()

	if watcher, err := NewConfigWatcher(filepath.Join(d.projectRoot, config.FileName), d); err != nil {
		d.logger.Warn("config watcher unavailable", logfields.Error(err))
	} else {
		d.watcher = watcher
		d.watcher.Start(ctx)
	}

	d.server = &http.Server{
		Handler:           d.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- d.server.Serve(listener) }()

	d.logger.Info("daemon listening",
		slog.Int("port", boundPort),
		logfields.Path(d.dataDir))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			d.logger.Error("http server failed", logfields.Error(err))
		}
	}

	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if d.server != nil {
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("http shutdown incomplete", logfields.Error(err))
		}
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			d.logger.Warn("scheduler shutdown incomplete", logfields.Error(err))
		}
	}
	if err := d.workers.StopAndWait(shutdownCtx); err != nil {
		d.logger.Warn("background workers still running at shutdown", logfields.Error(err))
	}

	d.teardownStores()
	d.logger.Info("daemon stopped")
	return nil
}

// teardownStores closes stores in reverse open order.
func (d *Daemon) teardownStores() {
	if d.learningDB != nil {
		_ = d.learningDB.Close()
		d.learningDB = nil
	}
	if d.embedCache != nil {
		_ = d.embedCache.Close()
		d.embedCache = nil
	}
	if d.governance != nil {
		_ = d.governance.Close()
		d.governance = nil
	}
	if d.memory != nil {
		_ = d.memory.Close()
		d.memory = nil
	}
}

// ReloadConfig applies a changed configuration. Components that captured
// config by value are rebuilt; the stores stay open.
func (d *Daemon) ReloadConfig(cfg *config.Config) {
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
	d.wire()
	d.logger.Info("configuration reloaded")
}
