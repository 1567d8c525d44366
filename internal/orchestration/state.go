package orchestration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
)

// SpecState is the persisted state of one in-flight spec. One file per slug
// per git root, rewritten atomically on every transition.
type SpecState struct {
	Slug            string `json:"slug"`
	Phase           Phase  `json:"phase"`
	TotalTasks      int    `json:"total_tasks"`
	CompletedTasks  int    `json:"completed_tasks"`
	CurrentTask     int    `json:"current_task"`
	ReviewIteration int    `json:"review_iteration"`
	PlanFingerprint string `json:"plan_fingerprint,omitempty"`
	WorktreeSHA8    string `json:"worktree_sha8,omitempty"`
	StartedAt       string `json:"started_at"`
	UpdatedAt       string `json:"updated_at"`
	AbortReason     string `json:"abort_reason,omitempty"`
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Store reads and writes spec-state files under
// <root>/.ai-framework/specs/<slug>.json.
type Store struct {
	root string
}

// NewStore builds a Store rooted at the project checkout.
func NewStore(projectRoot string) *Store {
	return &Store{root: projectRoot}
}

func (s *Store) path(slug string) string {
	return filepath.Join(s.root, ".ai-framework", "specs", slug+".json")
}

// Read loads the state for slug. Missing or corrupt files are NotFound: a
// corrupt state file cannot be trusted to resume from, so the caller treats
// it as no active spec.
func (s *Store) Read(slug string) (SpecState, error) {
	data, err := os.ReadFile(s.path(slug))
	if err != nil {
		return SpecState{}, derrors.NotFound("spec", slug)
	}
	var state SpecState
	if err := json.Unmarshal(data, &state); err != nil {
		return SpecState{}, derrors.NotFound("spec", slug).WithContext("corrupt", true)
	}
	return state, nil
}

// Write persists the state atomically: temp file in the same directory, then
// rename. UpdatedAt is stamped on every write.
func (s *Store) Write(state SpecState) error {
	state.UpdatedAt = nowISO()
	path := s.path(state.Slug)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return derrors.Internal(err, "encode spec state")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".spec-*")
	if err != nil {
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}
	return nil
}

// Delete removes the state file for slug. Missing files are fine.
func (s *Store) Delete(slug string) error {
	err := os.Remove(s.path(slug))
	if err != nil && !os.IsNotExist(err) {
		return derrors.StorageUnavailable(err).WithContext("slug", slug)
	}
	return nil
}

// List returns the slugs with a persisted state file.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, ".ai-framework", "specs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, derrors.StorageUnavailable(err)
	}
	slugs := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		slugs = append(slugs, strings.TrimSuffix(name, ".json"))
	}
	return slugs, nil
}

// Transition validates and applies a phase change, returning the updated
// state. The caller persists it.
func Transition(state SpecState, to Phase) (SpecState, error) {
	if !CanTransition(state.Phase, to) {
		return state, derrors.Conflict(
			"invalid phase transition: " + string(state.Phase) + " -> " + string(to)).
			WithContext("slug", state.Slug)
	}
	state.Phase = to
	return state, nil
}
