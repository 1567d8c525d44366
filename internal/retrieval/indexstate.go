package retrieval

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
)

// IndexStateFileName lives in the daemon data directory.
const IndexStateFileName = "index-state.json"

// IndexState records what the code index last saw.
type IndexState struct {
	LastIndexedCommit string `json:"last_indexed_commit,omitempty"`
	LastIndexedAt     string `json:"last_indexed_at,omitempty"`
	TotalFiles        int    `json:"total_files,omitempty"`
	Model             string `json:"model,omitempty"`
}

// ReadIndexState loads index-state.json. Missing or corrupt files yield the
// zero state, matching "never indexed".
func ReadIndexState(dataDir string) IndexState {
	data, err := os.ReadFile(filepath.Join(dataDir, IndexStateFileName))
	if err != nil {
		return IndexState{}
	}
	var state IndexState
	if err := json.Unmarshal(data, &state); err != nil {
		return IndexState{}
	}
	return state
}

// WriteIndexState persists the state, creating the data dir if needed.
func WriteIndexState(dataDir string, state IndexState) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return derrors.StorageUnavailable(err).WithContext("path", dataDir)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return derrors.Internal(err, "encode index state")
	}
	path := filepath.Join(dataDir, IndexStateFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}
	return nil
}

// CurrentHead reads HEAD of the repository at projectRoot, or "" when the
// path is not a repository.
func CurrentHead(projectRoot string) string {
	repo, err := git.PlainOpenWithOptions(projectRoot,
		&git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// ChangedFiles lists tracked paths that differ from what the index last
// saw: files touched by commits past sinceCommit plus tracked files with
// uncommitted changes. A missing repository or unknown commit yields nil,
// which callers treat as "scope unknown, reindex everything".
func ChangedFiles(projectRoot, sinceCommit string) []string {
	repo, err := git.PlainOpenWithOptions(projectRoot,
		&git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil
	}

	seen := map[string]struct{}{}
	var files []string
	add := func(path string) {
		if _, ok := seen[path]; !ok {
			seen[path] = struct{}{}
			files = append(files, path)
		}
	}

	if sinceCommit != "" {
		head, err := repo.Head()
		if err != nil {
			return nil
		}
		from, err := repo.CommitObject(plumbing.NewHash(sinceCommit))
		if err != nil {
			return nil
		}
		to, err := repo.CommitObject(head.Hash())
		if err != nil {
			return nil
		}
		patch, err := from.Patch(to)
		if err != nil {
			return nil
		}
		for _, filePatch := range patch.FilePatches() {
			fromFile, toFile := filePatch.Files()
			switch {
			case toFile != nil:
				add(toFile.Path())
			case fromFile != nil:
				add(fromFile.Path())
			}
		}
	}

	if worktree, err := repo.Worktree(); err == nil {
		if status, err := worktree.Status(); err == nil {
			for path, fileStatus := range status {
				if fileStatus.Worktree == git.Untracked {
					continue
				}
				if fileStatus.Worktree != git.Unmodified || fileStatus.Staging != git.Unmodified {
					add(path)
				}
			}
		}
	}

	sort.Strings(files)
	return files
}

// CheckStaleness reports whether the code index lags the working tree:
// HEAD moved past the last indexed commit, or any tracked file has
// uncommitted changes.
func CheckStaleness(dataDir, projectRoot string) bool {
	state := ReadIndexState(dataDir)
	if state.LastIndexedCommit == "" {
		return true
	}

	repo, err := git.PlainOpenWithOptions(projectRoot,
		&git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return true
	}
	head, err := repo.Head()
	if err != nil {
		return true
	}
	if head.Hash().String() != state.LastIndexedCommit {
		return true
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return true
	}
	status, err := worktree.Status()
	if err != nil {
		return true
	}
	for _, fileStatus := range status {
		// Untracked files do not invalidate the index; tracked diffs do.
		if fileStatus.Worktree == git.Untracked {
			continue
		}
		if fileStatus.Worktree != git.Unmodified || fileStatus.Staging != git.Unmodified {
			return true
		}
	}
	return false
}
