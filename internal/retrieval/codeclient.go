package retrieval

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
)

const (
	codeProbeTimeout  = 5 * time.Second
	codeSearchTimeout = 10 * time.Second
)

// CodeClient wraps the external semantic code-search binary. Every failure
// mode (missing binary, non-zero exit, deadline) surfaces as a backend
// category error so callers can degrade instead of crash.
type CodeClient struct {
	binary      string
	projectRoot string
	timeout     time.Duration
	cache       *EmbedCache
	embedModel  string
}

// CodeOption configures a CodeClient.
type CodeOption func(*CodeClient)

// WithSearchTimeout bounds one search or index invocation.
func WithSearchTimeout(d time.Duration) CodeOption {
	return func(c *CodeClient) { c.timeout = d }
}

// WithProjectRoot scopes searches to one project checkout.
func WithProjectRoot(root string) CodeOption {
	return func(c *CodeClient) { c.projectRoot = root }
}

// WithEmbedCache attaches the chunk-hash bookkeeping cache. With a cache in
// place, ReindexIncremental skips the binary entirely when every changed
// file's chunks are already embedded under the current model, and Reindex
// with full=true empties the cache after the rebuild.
func WithEmbedCache(cache *EmbedCache, model string) CodeOption {
	return func(c *CodeClient) {
		c.cache = cache
		c.embedModel = model
	}
}

// NewCodeClient builds a client for the given binary (usually "vexor").
func NewCodeClient(binary string, opts ...CodeOption) *CodeClient {
	c := &CodeClient{binary: binary, timeout: codeSearchTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsAvailable probes the binary with --version under a short deadline.
func (c *CodeClient) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, codeProbeTimeout)
	defer cancel()
	cmd := exec.CommandContext(probeCtx, c.binary, "--version")
	return cmd.Run() == nil
}

// Search queries the code index. Output is the binary's porcelain format:
// tab-separated rank, score, path, chunk, line_start, line_end, then
// "heading :: excerpt".
func (c *CodeClient) Search(ctx context.Context, query string, topK int) (Response, error) {
	if topK <= 0 {
		topK = 10
	}
	args := []string{"search", "--format", "porcelain", "--top", strconv.Itoa(topK), "--mode", "auto"}
	if c.projectRoot != "" {
		args = append(args, "--path", c.projectRoot)
	}
	args = append(args, query)

	start := time.Now()
	stdout, err := c.run(ctx, args...)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return Response{Results: []Result{}, Corpus: CorpusCode, QueryTimeMS: elapsed}, err
	}

	return Response{
		Results:     ParsePorcelain(stdout),
		Corpus:      CorpusCode,
		QueryTimeMS: elapsed,
	}, nil
}

// Reindex triggers indexing; full clears the existing index first.
func (c *CodeClient) Reindex(ctx context.Context, full bool) (string, error) {
	args := []string{"index"}
	if c.projectRoot != "" {
		args = append(args, "--path", c.projectRoot)
	}
	if full {
		args = append(args, "--clear")
	}
	mode := "incremental"
	if full {
		mode = "full"
	}
	args = append(args, "--mode", mode)

	stdout, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	if full && c.cache != nil {
		if err := c.cache.Clear(ctx); err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(stdout), nil
}

// chunkLines is the line window used to fingerprint file content for the
// embed cache. The hashes only need to be stable, not identical to the
// binary's own chunking.
const chunkLines = 100

// ReindexIncremental runs an incremental reindex scoped by cache
// bookkeeping. Changed files whose chunk hashes are all cached are up to
// date; when that covers every changed file the binary is not invoked and
// skipped is true. After a successful run the stale files' fresh chunk
// hashes replace their old entries.
func (c *CodeClient) ReindexIncremental(ctx context.Context, changedFiles []string) (output string, skipped bool, err error) {
	if c.cache == nil || len(changedFiles) == 0 {
		output, err = c.Reindex(ctx, false)
		return output, false, err
	}

	stale := make([]string, 0, len(changedFiles))
	for _, path := range changedFiles {
		cached, err := c.fileCached(ctx, path)
		if err != nil {
			return "", false, err
		}
		if !cached {
			stale = append(stale, path)
		}
	}
	if len(stale) == 0 {
		return "", true, nil
	}

	output, err = c.Reindex(ctx, false)
	if err != nil {
		return "", false, err
	}
	for _, path := range stale {
		if err := c.recordFile(ctx, path); err != nil {
			return output, false, err
		}
	}
	return output, false, nil
}

// fileCached reports whether every chunk of the file is already in the
// cache. A file that cannot be read (deleted or renamed since the last
// index) has its entries invalidated and counts as stale.
func (c *CodeClient) fileCached(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(c.projectRoot, path))
	if err != nil {
		_, invErr := c.cache.Invalidate(ctx, path)
		return false, invErr
	}
	for _, chunk := range splitChunks(string(data)) {
		entry, err := c.cache.Get(ctx, ContentHash(chunk, c.embedModel))
		if err != nil {
			return false, err
		}
		if entry == nil {
			return false, nil
		}
	}
	return true, nil
}

// recordFile replaces the file's cache entries with its current chunk
// hashes. A file gone since the staleness check is simply dropped.
func (c *CodeClient) recordFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(filepath.Join(c.projectRoot, path))
	if err != nil {
		_, invErr := c.cache.Invalidate(ctx, path)
		return invErr
	}
	if _, err := c.cache.Invalidate(ctx, path); err != nil {
		return err
	}
	for i, chunk := range splitChunks(string(data)) {
		if err := c.cache.Put(ctx, ContentHash(chunk, c.embedModel), path, i, c.embedModel); err != nil {
			return err
		}
	}
	return nil
}

// splitChunks slices content into fixed line windows.
func splitChunks(content string) []string {
	lines := strings.Split(content, "\n")
	chunks := make([]string, 0, len(lines)/chunkLines+1)
	for start := 0; start < len(lines); start += chunkLines {
		end := start + chunkLines
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, strings.Join(lines[start:end], "\n"))
	}
	return chunks
}

// Show reads index metadata via `index --show`. Missing fields stay zero.
func (c *CodeClient) Show(ctx context.Context) (Status, error) {
	args := []string{"index", "--show"}
	if c.projectRoot != "" {
		args = append(args, "--path", c.projectRoot)
	}
	stdout, err := c.run(ctx, args...)
	if err != nil {
		return Status{}, err
	}
	return parseShowOutput(stdout), nil
}

func (c *CodeClient) run(ctx context.Context, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", derrors.BackendUnavailable(c.binary, derrors.Timeout(c.binary+" "+args[0]))
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", derrors.BackendUnavailable(c.binary, errors.New(detail))
	}
	return stdout.String(), nil
}

// ParsePorcelain parses porcelain search output. Malformed lines are
// dropped, never fatal.
func ParsePorcelain(output string) []Result {
	results := []Result{}
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 7)
		if len(parts) < 7 {
			continue
		}
		rank, err1 := strconv.Atoi(parts[0])
		score, err2 := strconv.ParseFloat(parts[1], 64)
		chunk, err3 := strconv.Atoi(parts[3])
		lineStart, err4 := strconv.Atoi(parts[4])
		lineEnd, err5 := strconv.Atoi(parts[5])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}

		title := ""
		excerpt := parts[6]
		if idx := strings.Index(excerpt, " :: "); idx >= 0 {
			title = excerpt[:idx]
			excerpt = excerpt[idx+len(" :: "):]
		}

		results = append(results, Result{
			Rank:       rank,
			Score:      score,
			FilePath:   parts[2],
			ChunkIndex: chunk,
			LineStart:  lineStart,
			LineEnd:    lineEnd,
			Title:      title,
			Excerpt:    excerpt,
			Corpus:     CorpusCode,
		})
	}
	return results
}

// parseShowOutput parses `index --show` key: value lines.
func parseShowOutput(output string) Status {
	var status Status
	for _, line := range strings.Split(output, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
		value = strings.TrimSpace(value)
		switch key {
		case "files":
			if n, err := strconv.Atoi(value); err == nil {
				status.TotalFiles = n
			}
		case "model":
			status.Model = value
		case "generated_at":
			status.LastIndexedAt = value
		}
	}
	return status
}
