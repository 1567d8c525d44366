// Package worktree manages the isolated git worktrees that spec work runs
// in. Every spec gets a dedicated branch and checkout keyed by the slug and
// a fingerprint of its plan file, so re-running the same plan lands in the
// same place. All git calls go through the gitexec seam; one scripted runner
// covers every failure mode in tests.
package worktree

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/stratus/internal/gitexec"
)

const stashLabel = "ai-framework: pre-worktree stash"

// Manager owns the worktree area under <root>/.worktrees. No other
// component writes there.
type Manager struct {
	run        gitexec.GitRunner
	root       string
	baseBranch string
	removeDir  func(string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithBaseBranch overrides the branch worktrees fork from and merge back to.
func WithBaseBranch(branch string) Option {
	return func(m *Manager) { m.baseBranch = branch }
}

// NewManager builds a Manager rooted at the main checkout.
func NewManager(run gitexec.GitRunner, gitRoot string, opts ...Option) *Manager {
	m := &Manager{run: run, root: gitRoot, baseBranch: "main", removeDir: os.RemoveAll}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FullFingerprint returns the sha256 hex digest over the plan file contents,
// falling back to the slug when there is no readable plan. Same plan bytes,
// same worktree.
func FullFingerprint(slug, planPath string) string {
	input := []byte(slug)
	if planPath != "" {
		if data, err := os.ReadFile(planPath); err == nil {
			input = data
		}
	}
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// Fingerprint is the first 8 hex characters of FullFingerprint, used in
// worktree directory names.
func Fingerprint(slug, planPath string) string {
	return FullFingerprint(slug, planPath)[:8]
}

var datePrefixRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-`)

// DeriveSlug extracts a slug from a plan filename: basename without
// extension, with any leading YYYY-MM-DD- date prefix stripped.
func DeriveSlug(planPath string) string {
	name := filepath.Base(planPath)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return datePrefixRe.ReplaceAllString(name, "")
}

// Branch returns the spec branch name for a slug.
func Branch(slug string) string {
	return "spec/" + slug
}

// Path computes the worktree checkout directory. It is derivable from the
// slug and fingerprint alone and never stored.
func (m *Manager) Path(slug, sha8 string) string {
	return filepath.Join(m.root, ".worktrees", "spec-"+slug+"-"+sha8)
}

// Info describes whether a spec's worktree exists.
type Info struct {
	Present    bool   `json:"present"`
	Path       string `json:"path,omitempty"`
	Branch     string `json:"branch,omitempty"`
	BaseBranch string `json:"base_branch"`
	SHA8       string `json:"sha8"`
}

// Detect reports whether the worktree for slug is registered with git.
func (m *Manager) Detect(ctx context.Context, slug, sha8 string) (Info, error) {
	info := Info{BaseBranch: m.baseBranch, SHA8: sha8}
	result, err := m.run(ctx, m.root, "worktree", "list", "--porcelain")
	if err != nil {
		return info, err
	}

	target := filepath.Clean(m.Path(slug, sha8))
	var path, branch string
	flush := func() {
		if !info.Present && filepath.Clean(path) == target && path != "" {
			info.Present = true
			info.Path = path
			info.Branch = strings.TrimPrefix(branch, "refs/heads/")
		}
		path, branch = "", ""
	}
	for _, line := range strings.Split(result.Stdout, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			branch = strings.TrimPrefix(line, "branch ")
		}
	}
	flush()
	return info, nil
}

// CreateResult reports the outcome of Create.
type CreateResult struct {
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	BaseBranch string `json:"base_branch"`
	Stashed    bool   `json:"stashed"`
	Existing   bool   `json:"existing,omitempty"`
}

// Create makes the worktree and spec branch. A dirty main checkout is
// stashed first with a labeled message so nothing is lost. The governance
// config (.claude/ and .mcp.json) is copied in so subagents running inside
// the worktree see the same rules. Creating an already-present worktree is
// a no-op returning the existing checkout.
func (m *Manager) Create(ctx context.Context, slug, sha8 string) (CreateResult, error) {
	info, err := m.Detect(ctx, slug, sha8)
	if err != nil {
		return CreateResult{}, err
	}
	branch := Branch(slug)
	if info.Present {
		return CreateResult{
			Path: info.Path, Branch: branch, BaseBranch: m.baseBranch,
			Existing: true,
		}, nil
	}

	stashed, err := m.stashIfDirty(ctx)
	if err != nil {
		return CreateResult{}, err
	}

	path := m.Path(slug, sha8)
	if _, err := m.run(ctx, m.root, "worktree", "add", path, "-b", branch, m.baseBranch); err != nil {
		return CreateResult{}, err
	}

	if src := filepath.Join(m.root, ".claude"); dirExists(src) {
		if err := copyDir(src, filepath.Join(path, ".claude")); err != nil {
			return CreateResult{}, err
		}
	}
	if src := filepath.Join(m.root, ".mcp.json"); fileExists(src) {
		if err := copyFile(src, filepath.Join(path, ".mcp.json")); err != nil {
			return CreateResult{}, err
		}
	}

	return CreateResult{Path: path, Branch: branch, BaseBranch: m.baseBranch, Stashed: stashed}, nil
}

func (m *Manager) stashIfDirty(ctx context.Context) (bool, error) {
	status, err := m.run(ctx, m.root, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(status.Stdout) == "" {
		return false, nil
	}
	if _, err := m.run(ctx, m.root, "stash", "push", "-m", stashLabel); err != nil {
		return false, err
	}
	return true, nil
}

// Diff returns the unified diff of the spec branch against its merge-base
// with the base branch. A missing merge-base (branch gone, unrelated
// history) yields an empty diff rather than an error.
func (m *Manager) Diff(ctx context.Context, slug string) (string, error) {
	branch := Branch(slug)
	base, err := m.run(ctx, m.root, "merge-base", m.baseBranch, branch)
	if err != nil {
		return "", nil
	}
	result, err := m.run(ctx, m.root, "diff", strings.TrimSpace(base.Stdout), branch)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// SyncResult summarizes the staged squash merge.
type SyncResult struct {
	Merged       bool   `json:"merged"`
	Commit       string `json:"commit"`
	FilesChanged int    `json:"files_changed"`
	Insertions   int    `json:"insertions"`
	Deletions    int    `json:"deletions"`
	Stashed      bool   `json:"stashed"`
}

var (
	filesChangedRe = regexp.MustCompile(`(\d+) files? changed`)
	insertionsRe   = regexp.MustCompile(`(\d+) insertions?\(\+\)`)
	deletionsRe    = regexp.MustCompile(`(\d+) deletions?\(-\)`)
)

// Sync squash-merges the spec branch onto the base checkout, staging but
// not committing. A dirty base checkout is stashed first.
func (m *Manager) Sync(ctx context.Context, slug string) (SyncResult, error) {
	stashed, err := m.stashIfDirty(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	merge, err := m.run(ctx, m.root, "merge", "--squash", "--stat", Branch(slug))
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{Merged: true, Stashed: stashed}
	for _, line := range strings.Split(merge.Stdout, "\n") {
		if match := filesChangedRe.FindStringSubmatch(line); match != nil {
			result.FilesChanged, _ = strconv.Atoi(match[1])
		}
		if match := insertionsRe.FindStringSubmatch(line); match != nil {
			result.Insertions, _ = strconv.Atoi(match[1])
		}
		if match := deletionsRe.FindStringSubmatch(line); match != nil {
			result.Deletions, _ = strconv.Atoi(match[1])
		}
	}
	if head, err := m.run(ctx, m.root, "rev-parse", "HEAD"); err == nil {
		result.Commit = strings.TrimSpace(head.Stdout)
	}
	return result, nil
}

// CleanupResult reports what Cleanup managed to remove.
type CleanupResult struct {
	Removed       bool   `json:"removed"`
	Path          string `json:"path"`
	BranchDeleted bool   `json:"branch_deleted"`
}

// Cleanup removes the worktree and deletes the spec branch. If git cannot
// remove the directory, removal is retried once directly on the filesystem
// followed by a prune; if that also fails, both errors are returned. A
// branch that is already gone is not an error.
func (m *Manager) Cleanup(ctx context.Context, slug, sha8 string) (CleanupResult, error) {
	path := m.Path(slug, sha8)
	result := CleanupResult{Path: path}

	if _, err := m.run(ctx, m.root, "worktree", "remove", "--force", path); err != nil {
		if rmErr := m.removeDir(path); rmErr != nil {
			return result, errors.Join(err, rmErr)
		}
		_, _ = m.run(ctx, m.root, "worktree", "prune")
		result.Removed = true
	} else {
		result.Removed = true
	}

	if result.Removed {
		if _, err := m.run(ctx, m.root, "branch", "-D", Branch(slug)); err == nil {
			result.BranchDeleted = true
		}
	}
	return result, nil
}

// Status describes the live state of a spec's worktree.
type Status struct {
	Present    bool   `json:"present"`
	Dirty      bool   `json:"dirty"`
	Ahead      int    `json:"ahead"`
	Behind     int    `json:"behind"`
	Branch     string `json:"branch,omitempty"`
	BaseBranch string `json:"base_branch"`
	Path       string `json:"path,omitempty"`
}

// WorktreeStatus reports presence, dirtiness, and commit counts relative to
// the base branch.
func (m *Manager) WorktreeStatus(ctx context.Context, slug, sha8 string) (Status, error) {
	info, err := m.Detect(ctx, slug, sha8)
	if err != nil {
		return Status{}, err
	}
	status := Status{BaseBranch: m.baseBranch}
	if !info.Present {
		return status, nil
	}
	status.Present = true
	status.Path = info.Path
	status.Branch = info.Branch

	if porcelain, err := m.run(ctx, info.Path, "status", "--porcelain"); err == nil {
		status.Dirty = strings.TrimSpace(porcelain.Stdout) != ""
	}
	branch := Branch(slug)
	status.Ahead = m.revCount(ctx, m.baseBranch+".."+branch)
	status.Behind = m.revCount(ctx, branch+".."+m.baseBranch)
	return status, nil
}

func (m *Manager) revCount(ctx context.Context, spec string) int {
	result, err := m.run(ctx, m.root, "rev-list", "--count", spec)
	if err != nil {
		return 0
	}
	count, _ := strconv.Atoi(strings.TrimSpace(result.Stdout))
	return count
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
