package learning

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/stratus/internal/gitexec"
)

// Commit is one history entry from the analysis window.
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// GitAnalyzer derives detections from repository history. All subprocess
// traffic flows through the injected GitRunner seam.
type GitAnalyzer struct {
	run  gitexec.GitRunner
	root string
}

// NewGitAnalyzer builds an analyzer for the repository at root.
func NewGitAnalyzer(run gitexec.GitRunner, root string) *GitAnalyzer {
	return &GitAnalyzer{run: run, root: root}
}

// AnalyzeChanges runs the git detectors over the window since sinceCommit
// (or the last commit when empty) and returns raw detections.
func (a *GitAnalyzer) AnalyzeChanges(ctx context.Context, sinceCommit string) []Detection {
	added := a.changedFiles(ctx, sinceCommit, "A")
	modified := a.changedFiles(ctx, sinceCommit, "M")
	if len(added) == 0 && len(modified) == 0 {
		return nil
	}

	detections := []Detection{}
	detections = append(detections, detectStructuralChanges(added)...)
	detections = append(detections, a.detectImportPatterns(ctx, modified)...)
	detections = append(detections, detectTestGaps(added)...)
	detections = append(detections, detectDocGaps(added)...)
	return detections
}

// changedFiles lists files matching a diff filter since a commit.
func (a *GitAnalyzer) changedFiles(ctx context.Context, sinceCommit, filter string) []string {
	ref := sinceCommit
	if ref == "" {
		ref = "HEAD~1"
	}
	result, err := a.run(ctx, a.root, "diff", "--name-only", "--diff-filter="+filter, ref)
	if err != nil {
		return nil
	}
	return gitexec.Lines(result.Stdout)
}

// CommitMessages returns up to limit commits since sinceCommit, newest first.
func (a *GitAnalyzer) CommitMessages(ctx context.Context, sinceCommit string, limit int) []Commit {
	if limit <= 0 {
		limit = 50
	}
	args := []string{"log", "-" + strconv.Itoa(limit), "--pretty=format:%H|%s"}
	if sinceCommit != "" {
		args = append(args, sinceCommit+"..HEAD")
	}
	result, err := a.run(ctx, a.root, args...)
	if err != nil {
		return nil
	}
	commits := []Commit{}
	for _, line := range gitexec.Lines(result.Stdout) {
		hash, message, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		commits = append(commits, Commit{Hash: hash, Message: message})
	}
	return commits
}

// CommitsSince counts commits after sinceCommit; this drives the periodic
// analysis trigger.
func (a *GitAnalyzer) CommitsSince(ctx context.Context, sinceCommit string) int {
	ref := "HEAD"
	if sinceCommit != "" {
		ref = sinceCommit + "..HEAD"
	}
	result, err := a.run(ctx, a.root, "rev-list", "--count", ref)
	if err != nil {
		return 0
	}
	count, err := strconv.Atoi(strings.TrimSpace(result.Stdout))
	if err != nil {
		return 0
	}
	return count
}

// Head returns the current HEAD hash, or "" outside a repository.
func (a *GitAnalyzer) Head(ctx context.Context) string {
	result, err := a.run(ctx, a.root, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(result.Stdout)
}

// ShowFile returns a file's content at HEAD.
func (a *GitAnalyzer) ShowFile(ctx context.Context, filePath string) (string, error) {
	result, err := a.run(ctx, a.root, "show", "HEAD:"+filePath)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// detectStructuralChanges flags parent directories that gained two or more
// new subdirectories, a common sign of an emerging layout convention.
func detectStructuralChanges(addedFiles []string) []Detection {
	if len(addedFiles) == 0 {
		return nil
	}
	subdirsByParent := map[string]map[string]bool{}
	for _, file := range addedFiles {
		parts := strings.Split(file, "/")
		if len(parts) < 2 {
			continue
		}
		parent := parts[0]
		if subdirsByParent[parent] == nil {
			subdirsByParent[parent] = map[string]bool{}
		}
		subdirsByParent[parent][parts[0]+"/"+parts[1]] = true
	}

	parents := make([]string, 0, len(subdirsByParent))
	for parent := range subdirsByParent {
		parents = append(parents, parent)
	}
	sort.Strings(parents)

	detections := []Detection{}
	for _, parent := range parents {
		count := len(subdirsByParent[parent])
		if count < 2 {
			continue
		}
		matching := []string{}
		for _, file := range addedFiles {
			if strings.HasPrefix(file, parent+"/") {
				matching = append(matching, file)
			}
		}
		detections = append(detections, Detection{
			Type:          DetectionStructuralChange,
			Heuristic:     HeuristicMissingStandard,
			Count:         count,
			ConfidenceRaw: clampMax(0.4+float64(count)*0.1, 0.9),
			Files:         matching,
			Description:   "New directory structure under " + parent + "/",
			Instances: []map[string]any{
				{"directory": parent, "subdirs": count},
			},
		})
	}
	return detections
}

// detectImportPatterns finds import statements shared by three or more
// modified files, reading each file's HEAD revision.
func (a *GitAnalyzer) detectImportPatterns(ctx context.Context, modifiedFiles []string) []Detection {
	if len(modifiedFiles) == 0 {
		return nil
	}
	importCounts := map[string]int{}
	importFiles := map[string][]string{}
	for _, file := range modifiedFiles {
		content, err := a.ShowFile(ctx, file)
		if err != nil {
			continue
		}
		seen := map[string]bool{}
		for _, line := range strings.Split(content, "\n") {
			stripped := strings.TrimSpace(line)
			if !strings.HasPrefix(stripped, "import ") && !strings.HasPrefix(stripped, "from ") {
				continue
			}
			importCounts[stripped]++
			if !seen[stripped] {
				seen[stripped] = true
				importFiles[stripped] = append(importFiles[stripped], file)
			}
		}
	}

	imports := make([]string, 0, len(importCounts))
	for imp := range importCounts {
		imports = append(imports, imp)
	}
	sort.Strings(imports)

	detections := []Detection{}
	for _, imp := range imports {
		count := importCounts[imp]
		if count < 3 {
			continue
		}
		detections = append(detections, Detection{
			Type:          DetectionImportPattern,
			Heuristic:     HeuristicInconsistent,
			Count:         count,
			ConfidenceRaw: clampMax(0.3+float64(count)*0.1, 0.8),
			Files:         importFiles[imp],
			Description:   "Common import: " + imp,
			Instances: []map[string]any{
				{"import": imp, "count": count},
			},
		})
	}
	return detections
}

var testableExtensions = map[string]bool{
	".go": true, ".py": true, ".ts": true, ".tsx": true, ".js": true,
}

// detectTestGaps flags new source files that arrived without a sibling test.
func detectTestGaps(addedFiles []string) []Detection {
	added := map[string]bool{}
	for _, file := range addedFiles {
		added[file] = true
	}

	gaps := []string{}
	for _, file := range addedFiles {
		ext := path.Ext(file)
		if !testableExtensions[ext] || isTestFile(file) {
			continue
		}
		if !hasSiblingTest(file, added) {
			gaps = append(gaps, file)
		}
	}
	if len(gaps) == 0 {
		return nil
	}
	sort.Strings(gaps)

	detections := make([]Detection, 0, len(gaps))
	for _, file := range gaps {
		detections = append(detections, Detection{
			Type:          DetectionTestGap,
			Heuristic:     HeuristicTestGap,
			Count:         1,
			ConfidenceRaw: 0.6,
			Files:         []string{file},
			Description:   "New file without a test: " + file,
			Instances: []map[string]any{
				{"file": file},
			},
		})
	}
	return detections
}

func isTestFile(file string) bool {
	base := path.Base(file)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasPrefix(base, "test_") ||
		strings.HasSuffix(base, "_test.py") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.")
}

func hasSiblingTest(file string, added map[string]bool) bool {
	dir := path.Dir(file)
	base := path.Base(file)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	candidates := []string{
		path.Join(dir, stem+"_test"+ext),
		path.Join(dir, "test_"+base),
		path.Join(dir, stem+".test"+ext),
		path.Join(dir, stem+".spec"+ext),
	}
	for _, candidate := range candidates {
		if added[candidate] {
			return true
		}
	}
	return false
}

// detectDocGaps flags new top-level directories that arrived without a
// descriptor file (README.md or CLAUDE.md).
func detectDocGaps(addedFiles []string) []Detection {
	filesByDir := map[string][]string{}
	documented := map[string]bool{}
	for _, file := range addedFiles {
		parts := strings.Split(file, "/")
		if len(parts) < 2 {
			continue
		}
		top := parts[0]
		filesByDir[top] = append(filesByDir[top], file)
		if len(parts) == 2 && (parts[1] == "README.md" || parts[1] == "CLAUDE.md") {
			documented[top] = true
		}
	}

	dirs := make([]string, 0, len(filesByDir))
	for dir := range filesByDir {
		if !documented[dir] {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)

	detections := []Detection{}
	for _, dir := range dirs {
		detections = append(detections, Detection{
			Type:          DetectionDocGap,
			Heuristic:     HeuristicDocGap,
			Count:         1,
			ConfidenceRaw: 0.5,
			Files:         filesByDir[dir],
			Description:   "New top-level directory without a descriptor: " + dir + "/",
			Instances: []map[string]any{
				{"directory": dir},
			},
		})
	}
	return detections
}

func clampMax(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}
