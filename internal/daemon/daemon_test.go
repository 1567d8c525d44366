package daemon

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/stratus/internal/config"
	"git.home.luguber.info/inful/stratus/internal/gitexec"
	"git.home.luguber.info/inful/stratus/internal/governance"
	"git.home.luguber.info/inful/stratus/internal/learning"
	"git.home.luguber.info/inful/stratus/internal/memory"
	"git.home.luguber.info/inful/stratus/internal/retrieval"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// looseRunner answers every git call with success. Daemon tests exercise the
// HTTP surface, not git parsing.
func looseRunner() gitexec.GitRunner {
	return func(context.Context, string, ...string) (gitexec.Result, error) {
		return gitexec.Result{}, nil
	}
}

// newTestDaemon builds a daemon on in-memory stores with a scripted git
// seam, ready for router tests.
func newTestDaemon(t *testing.T, mutate func(*config.Config)) *Daemon {
	t.Helper()
	cfg := config.Default()
	cfg.Retrieval.GovernanceEnabled = true
	if mutate != nil {
		mutate(cfg)
	}

	d := New(cfg, t.TempDir(), t.TempDir(), quietLogger(), WithGitRunner(looseRunner()))

	ctx := context.Background()
	var err error
	d.memory, err = memory.OpenMemory(ctx)
	require.NoError(t, err)
	d.governance, err = governance.OpenMemory(ctx)
	require.NoError(t, err)
	d.embedCache, err = retrieval.OpenEmbedCacheMemory(ctx)
	require.NoError(t, err)
	d.learningDB, err = learning.OpenMemory(ctx)
	require.NoError(t, err)
	d.wire()

	t.Cleanup(d.teardownStores)
	return d
}

func TestOpenAndTeardownFileStores(t *testing.T) {
	dataDir := t.TempDir()
	d := New(config.Default(), t.TempDir(), dataDir, quietLogger(),
		WithGitRunner(looseRunner()))

	require.NoError(t, d.Open(context.Background()))
	for _, name := range []string{"memory.db", "governance.db", "embed_cache.db", "learning.db"} {
		_, err := os.Stat(dataDir + "/" + name)
		require.NoError(t, err, "store file %s created", name)
	}
	d.teardownStores()
}

func TestPortLockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.Zero(t, ReadPortLock(dir), "no lock file means no port")

	require.NoError(t, WritePortLock(dir, 43123))
	require.Equal(t, 43123, ReadPortLock(dir))

	RemovePortLock(dir)
	require.Zero(t, ReadPortLock(dir))
}

func TestPortLockRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/"+portLockName, []byte("not a port\n"), 0o644))
	require.Zero(t, ReadPortLock(dir))
}

func TestReloadConfigSwapsComponents(t *testing.T) {
	d := newTestDaemon(t, nil)
	before := d.retriever

	cfg := config.Default()
	cfg.Learning.GlobalEnabled = true
	d.ReloadConfig(cfg)

	require.True(t, d.Config().Learning.GlobalEnabled)
	require.NotSame(t, before, d.retriever, "config-bound components rebuilt")
}
