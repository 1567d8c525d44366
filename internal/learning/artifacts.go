package learning

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/frontmatter"
)

var (
	slugDropRe     = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaceRe    = regexp.MustCompile(`\s+`)
	slugCollapseRe = regexp.MustCompile(`-{2,}`)
)

// SlugFromTitle converts a proposal title into a filesystem-safe slug of at
// most 60 characters.
func SlugFromTitle(title string) string {
	slug := strings.ToLower(title)
	slug = slugDropRe.ReplaceAllString(slug, "")
	slug = slugSpaceRe.ReplaceAllString(strings.TrimSpace(slug), "-")
	slug = slugCollapseRe.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	return slug
}

// ArtifactPath computes the canonical destination for a proposal's artifact.
func ArtifactPath(proposal Proposal, projectRoot string) string {
	slug := SlugFromTitle(proposal.Title)
	switch proposal.Type {
	case ProposalRule:
		return filepath.Join(projectRoot, ".claude", "rules", "learning-"+slug+".md")
	case ProposalADR:
		return filepath.Join(projectRoot, "docs", "decisions", slug+".md")
	case ProposalTemplate:
		return filepath.Join(projectRoot, ".claude", "templates", slug+".md")
	case ProposalProjectGraph:
		return filepath.Join(projectRoot, ".ai-framework", "project-graph.json")
	case ProposalSkill:
		return filepath.Join(projectRoot, ".claude", "skills", slug, "prompt.md")
	default:
		return filepath.Join(projectRoot, ".claude", "rules", "learning-"+slug+".md")
	}
}

// ArtifactContent renders the final file body for an accepted proposal. An
// edit supplied at decision time wins over the generated content. Generated
// content that carries a frontmatter block keeps it at the top of the file,
// where fingerprint scans of written rules look for it; the section layout
// follows after.
func ArtifactContent(proposal Proposal, editedContent string) string {
	if editedContent != "" {
		return editedContent
	}

	prefix := ""
	inner := proposal.ProposedContent
	if head, body, had, err := frontmatter.Split([]byte(proposal.ProposedContent)); err == nil && had {
		prefix = "---\n" + string(head) + "---\n\n"
		inner = strings.Trim(string(body), "\n")
	}

	switch proposal.Type {
	case ProposalRule:
		return prefix + "# " + proposal.Title + "\n\n## Rule\n\n" + inner + "\n"
	case ProposalADR:
		return prefix + "# " + proposal.Title + "\n\n## Status\n\nAccepted (auto-generated from learning)\n\n" +
			"## Context\n\n" + proposal.Description + "\n\n## Decision\n\n" +
			inner + "\n\n## Consequences\n\n" +
			"This rule was detected from repeated patterns in the codebase.\n"
	case ProposalTemplate:
		return prefix + "# " + proposal.Title + "\n\n" + inner + "\n"
	case ProposalSkill:
		return prefix + "# " + proposal.Title + "\n\n## Instructions\n\n" + inner + "\n"
	default:
		return proposal.ProposedContent
	}
}

// CreateArtifact writes the artifact for an accepted proposal and returns
// its path. Writes are atomic: temp file in the destination directory, then
// rename. Project-graph proposals merge into the existing document instead
// of replacing it.
func CreateArtifact(proposal Proposal, projectRoot, editedContent string) (string, error) {
	path := ArtifactPath(proposal, projectRoot)
	if proposal.Type == ProposalProjectGraph {
		if err := mergeProjectGraph(proposal, path, editedContent); err != nil {
			return "", err
		}
		return path, nil
	}

	content := ArtifactContent(proposal, editedContent)
	if err := writeAtomic(path, []byte(content)); err != nil {
		return "", err
	}
	return path, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return derrors.StorageUnavailable(err).WithContext("path", dir)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return derrors.StorageUnavailable(err).WithContext("path", dir)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
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

// mergeProjectGraph performs a read-merge-write of project-graph.json. New
// top-level keys shallow-merge over existing ones. A sibling .lock file
// serializes concurrent accepters.
func mergeProjectGraph(proposal Proposal, path, editedContent string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return derrors.StorageUnavailable(err).WithContext("path", path)
	}

	unlock, err := acquireLock(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	existing := map[string]json.RawMessage{}
	if data, err := os.ReadFile(path); err == nil {
		// A corrupt graph is replaced rather than failing the accept.
		_ = json.Unmarshal(data, &existing)
	}

	source := proposal.ProposedContent
	if editedContent != "" {
		source = editedContent
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(source), &incoming); err != nil {
		return derrors.Validation("project graph content is not a json object")
	}
	for key, value := range incoming {
		existing[key] = value
	}

	merged, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return derrors.Internal(err, "encode project graph")
	}
	return writeAtomic(path, append(merged, '\n'))
}

// acquireLock takes an exclusive lock file, waiting briefly for a holder to
// release. A stale lock older than a minute is broken.
func acquireLock(lockPath string) (func(), error) {
	for attempt := 0; attempt < 20; attempt++ {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = file.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > time.Minute {
				_ = os.Remove(lockPath)
				continue
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, derrors.Conflict("project graph is locked by another writer")
}
