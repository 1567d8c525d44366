package governance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMarkdownSplitsOnHeadings(t *testing.T) {
	source := []byte(`Intro paragraph.

## Naming

Use kebab-case for slugs.

## Testing

Table tests preferred.

## Empty Section
`)
	chunks := ChunkMarkdown(source, "rules.md")
	require.Len(t, chunks, 3)

	assert.Equal(t, "rules.md", chunks[0].Title)
	assert.Equal(t, "Intro paragraph.", chunks[0].Content)
	assert.Equal(t, "Naming", chunks[1].Title)
	assert.Contains(t, chunks[1].Content, "kebab-case")
	assert.Equal(t, "Testing", chunks[2].Title)
}

func TestChunkMarkdownNoHeadings(t *testing.T) {
	chunks := ChunkMarkdown([]byte("just a note\n"), "note.md")
	require.Len(t, chunks, 1)
	assert.Equal(t, "note.md", chunks[0].Title)

	assert.Empty(t, ChunkMarkdown([]byte("   \n"), "empty.md"))
}

func TestChunkMarkdownIgnoresNestedHeadings(t *testing.T) {
	source := []byte("## Top\n\nbody\n\n### Sub\n\nnested body\n")
	chunks := ChunkMarkdown(source, "doc.md")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Top", chunks[0].Title)
	assert.Contains(t, chunks[0].Content, "nested body")
}

func newGovStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeDoc(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func seedProject(t *testing.T, root string) {
	t.Helper()
	writeDoc(t, root, ".claude/rules/naming.md",
		"Naming conventions.\n\n## Slugs\n\nAlways kebab-case.\n")
	writeDoc(t, root, "docs/decisions/0001-sqlite.md",
		"## Context\n\nWe need an embedded store.\n\n## Decision\n\nUse sqlite with WAL.\n")
	writeDoc(t, root, ".claude/skills/review/prompt.md",
		"## Review checklist\n\nCheck error handling first.\n")
	writeDoc(t, root, "README.md", "Project overview.\n")
	// Noise that must be skipped.
	writeDoc(t, root, "node_modules/pkg/README.md", "vendored\n")
}

func TestIndexProjectCrawlsPatterns(t *testing.T) {
	store := newGovStore(t)
	root := t.TempDir()
	seedProject(t, root)

	result, err := store.IndexProject(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 4, result.FilesIndexed)
	assert.Zero(t, result.FilesSkipped)
	assert.Zero(t, result.FilesRemoved)
	assert.GreaterOrEqual(t, result.ChunksIndexed, 5)

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalFiles)
	assert.Equal(t, 1, stats.ByDocType[DocRule])
	assert.Equal(t, 1, stats.ByDocType[DocADR])
	assert.Equal(t, 1, stats.ByDocType[DocSkill])
	assert.Equal(t, 1, stats.ByDocType[DocProject])
}

func TestIndexProjectSkipsUnchanged(t *testing.T) {
	store := newGovStore(t)
	root := t.TempDir()
	seedProject(t, root)
	ctx := context.Background()

	_, err := store.IndexProject(ctx, root)
	require.NoError(t, err)

	second, err := store.IndexProject(ctx, root)
	require.NoError(t, err)
	assert.Zero(t, second.FilesIndexed)
	assert.Equal(t, 4, second.FilesSkipped)
}

func TestIndexProjectReindexesChangedFile(t *testing.T) {
	store := newGovStore(t)
	root := t.TempDir()
	seedProject(t, root)
	ctx := context.Background()

	_, err := store.IndexProject(ctx, root)
	require.NoError(t, err)

	writeDoc(t, root, ".claude/rules/naming.md",
		"Naming conventions.\n\n## Slugs\n\nAlways kebab-case.\n\n## Branches\n\nPrefix with spec/.\n")
	result, err := store.IndexProject(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesIndexed)
	assert.Equal(t, 3, result.FilesSkipped)

	hits, err := store.Search(ctx, "branches prefix", DocRule, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Branches", hits[0].Title)
}

func TestIndexProjectRemovesStaleFiles(t *testing.T) {
	store := newGovStore(t)
	root := t.TempDir()
	seedProject(t, root)
	ctx := context.Background()

	_, err := store.IndexProject(ctx, root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "README.md")))
	result, err := store.IndexProject(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesRemoved)

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestSearchScoresBoundedAndFiltered(t *testing.T) {
	store := newGovStore(t)
	root := t.TempDir()
	seedProject(t, root)
	ctx := context.Background()

	_, err := store.IndexProject(ctx, root)
	require.NoError(t, err)

	hits, err := store.Search(ctx, "sqlite embedded store", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, hit := range hits {
		assert.Greater(t, hit.Score, 0.0)
		assert.LessOrEqual(t, hit.Score, 1.0)
	}

	adrOnly, err := store.Search(ctx, "sqlite", DocADR, 10)
	require.NoError(t, err)
	for _, hit := range adrOnly {
		assert.Equal(t, DocADR, hit.DocType)
	}

	empty, err := store.Search(ctx, "   ", "", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	// Bare punctuation is treated literally, not as FTS syntax.
	_, err = store.Search(ctx, "::", "", 10)
	assert.NoError(t, err)
}
