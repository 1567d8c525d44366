package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProjectFile(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

// cacheFile records a file's chunk hashes the way a reindex run would.
func cacheFile(t *testing.T, cache *EmbedCache, root, name, model string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name))
	require.NoError(t, err)
	for i, chunk := range splitChunks(string(data)) {
		require.NoError(t, cache.Put(context.Background(),
			ContentHash(chunk, model), name, i, model))
	}
}

func TestReindexIncrementalSkipsWhenChunksCached(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	cache := newCache(t)
	cacheFile(t, cache, root, "a.go", "m1")

	// The binary does not exist; the skip path must never reach it.
	client := NewCodeClient("no-such-code-binary",
		WithProjectRoot(root), WithEmbedCache(cache, "m1"))

	output, skipped, err := client.ReindexIncremental(context.Background(), []string{"a.go"})
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Empty(t, output)

	stats, err := cache.Stats(context.Background())
	require.NoError(t, err)
	assert.Positive(t, stats.TotalHits, "skip checks count as cache hits")
}

func TestReindexIncrementalRecordsStaleFiles(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "a.go", "package a\n")
	cache := newCache(t)

	// `true` accepts any arguments and exits 0, standing in for the real
	// index binary.
	client := NewCodeClient("true",
		WithProjectRoot(root), WithEmbedCache(cache, "m1"))

	_, skipped, err := client.ReindexIncremental(context.Background(), []string{"a.go"})
	require.NoError(t, err)
	assert.False(t, skipped)

	stats, err := cache.Stats(context.Background())
	require.NoError(t, err)
	assert.Positive(t, stats.TotalEntries)

	// Unchanged content now short-circuits.
	_, skipped, err = client.ReindexIncremental(context.Background(), []string{"a.go"})
	require.NoError(t, err)
	assert.True(t, skipped)

	// Edited content goes stale again.
	writeProjectFile(t, root, "a.go", "package a\n\nfunc Changed() {}\n")
	_, skipped, err = client.ReindexIncremental(context.Background(), []string{"a.go"})
	require.NoError(t, err)
	assert.False(t, skipped)
}

func TestReindexIncrementalDeletedFileInvalidates(t *testing.T) {
	root := t.TempDir()
	cache := newCache(t)
	require.NoError(t, cache.Put(context.Background(), "stale-hash", "gone.go", 0, "m1"))

	client := NewCodeClient("true",
		WithProjectRoot(root), WithEmbedCache(cache, "m1"))

	_, skipped, err := client.ReindexIncremental(context.Background(), []string{"gone.go"})
	require.NoError(t, err)
	assert.False(t, skipped)

	stats, err := cache.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries, "entries for the deleted file removed")
}

func TestFullReindexClearsCache(t *testing.T) {
	cache := newCache(t)
	require.NoError(t, cache.Put(context.Background(), "h1", "a.go", 0, "m1"))

	client := NewCodeClient("true",
		WithProjectRoot(t.TempDir()), WithEmbedCache(cache, "m1"))

	_, err := client.Reindex(context.Background(), true)
	require.NoError(t, err)

	stats, err := cache.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
}

func TestSplitChunks(t *testing.T) {
	assert.Len(t, splitChunks("one line"), 1)

	long := strings.Repeat("x\n", 250)
	chunks := splitChunks(long)
	assert.Len(t, chunks, 3)
	assert.NotEqual(t, chunks[0], chunks[2])
}

func TestChangedFilesWithoutRepo(t *testing.T) {
	assert.Nil(t, ChangedFiles(t.TempDir(), "abc123"))
}
