package learning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/stratus/internal/gitexec"
)

// scriptedGit answers git invocations from a canned table keyed on the
// joined argument list.
func scriptedGit(responses map[string]string) gitexec.GitRunner {
	return func(_ context.Context, _ string, args ...string) (gitexec.Result, error) {
		key := strings.Join(args, " ")
		if out, ok := responses[key]; ok {
			return gitexec.Result{Stdout: out}, nil
		}
		return gitexec.Result{}, errors.New("no scripted response")
	}
}

func TestDetectStructuralChanges(t *testing.T) {
	added := []string{
		"services/auth/main.py",
		"services/billing/main.py",
		"services/billing/models.py",
		"docs/readme.md",
	}
	detections := detectStructuralChanges(added)

	require.Len(t, detections, 1)
	assert.Equal(t, DetectionStructuralChange, detections[0].Type)
	assert.Equal(t, HeuristicMissingStandard, detections[0].Heuristic)
	assert.Equal(t, 2, detections[0].Count, "two new subdirs under services/")
	assert.InDelta(t, 0.6, detections[0].ConfidenceRaw, 1e-9)
	assert.Len(t, detections[0].Files, 3)
	assert.Contains(t, detections[0].Description, "services/")
}

func TestDetectStructuralChangesNeedsTwoSubdirs(t *testing.T) {
	assert.Empty(t, detectStructuralChanges([]string{
		"services/auth/main.py", "services/auth/models.py",
	}))
	assert.Empty(t, detectStructuralChanges(nil))
}

func TestDetectImportPatterns(t *testing.T) {
	content := "from app import db\nimport os\n"
	analyzer := NewGitAnalyzer(scriptedGit(map[string]string{
		"show HEAD:a/one.py":   content,
		"show HEAD:b/two.py":   content,
		"show HEAD:c/three.py": content,
	}), "/repo")

	detections := analyzer.detectImportPatterns(context.Background(),
		[]string{"a/one.py", "b/two.py", "c/three.py"})

	require.Len(t, detections, 2)
	byDesc := map[string]Detection{}
	for _, d := range detections {
		byDesc[d.Description] = d
	}
	imp := byDesc["Common import: from app import db"]
	assert.Equal(t, DetectionImportPattern, imp.Type)
	assert.Equal(t, 3, imp.Count)
	assert.InDelta(t, 0.6, imp.ConfidenceRaw, 1e-9)
	assert.Len(t, imp.Files, 3)
}

func TestDetectImportPatternsBelowThreshold(t *testing.T) {
	analyzer := NewGitAnalyzer(scriptedGit(map[string]string{
		"show HEAD:a/one.py": "import os\n",
		"show HEAD:b/two.py": "import sys\n",
	}), "/repo")
	detections := analyzer.detectImportPatterns(context.Background(),
		[]string{"a/one.py", "b/two.py"})
	assert.Empty(t, detections)
}

func TestDetectTestGaps(t *testing.T) {
	detections := detectTestGaps([]string{
		"src/api/handlers.py",
		"src/api/test_handlers.py",
		"src/db/queries.py",
		"internal/store/store.go",
		"internal/store/store_test.go",
		"assets/logo.png",
	})

	require.Len(t, detections, 1, "sibling tests satisfy the other new files")
	assert.Equal(t, "New file without a test: src/db/queries.py", detections[0].Description)
	assert.Equal(t, HeuristicTestGap, detections[0].Heuristic)
	assert.Equal(t, []string{"src/db/queries.py"}, detections[0].Files)
}

func TestDetectDocGaps(t *testing.T) {
	detections := detectDocGaps([]string{
		"payments/charge.py",
		"payments/refund.py",
		"billing/README.md",
		"billing/invoice.py",
	})

	require.Len(t, detections, 1)
	assert.Equal(t, DetectionDocGap, detections[0].Type)
	assert.Contains(t, detections[0].Description, "payments/")
}

func TestCommitsSince(t *testing.T) {
	analyzer := NewGitAnalyzer(scriptedGit(map[string]string{
		"rev-list --count abc..HEAD": "7\n",
		"rev-list --count HEAD":      "42\n",
	}), "/repo")
	ctx := context.Background()

	assert.Equal(t, 7, analyzer.CommitsSince(ctx, "abc"))
	assert.Equal(t, 42, analyzer.CommitsSince(ctx, ""))
}

func TestCommitMessages(t *testing.T) {
	analyzer := NewGitAnalyzer(scriptedGit(map[string]string{
		"log -50 --pretty=format:%H|%s abc..HEAD": "sha1|fix: retry on busy\nsha2|feat: add search\nnot-a-commit-line\n",
	}), "/repo")

	commits := analyzer.CommitMessages(context.Background(), "abc", 0)
	require.Len(t, commits, 2)
	assert.Equal(t, "sha1", commits[0].Hash)
	assert.Equal(t, "fix: retry on busy", commits[0].Message)
}

func TestAnalyzeChangesCombinesDetectors(t *testing.T) {
	content := "from app import db\n"
	analyzer := NewGitAnalyzer(scriptedGit(map[string]string{
		"diff --name-only --diff-filter=A HEAD~1": "services/auth/main.py\nservices/billing/main.py\n",
		"diff --name-only --diff-filter=M HEAD~1": "a/one.py\nb/two.py\nc/three.py\n",
		"show HEAD:a/one.py":                      content,
		"show HEAD:b/two.py":                      content,
		"show HEAD:c/three.py":                    content,
	}), "/repo")

	detections := analyzer.AnalyzeChanges(context.Background(), "")
	types := map[DetectionType]bool{}
	for _, d := range detections {
		types[d.Type] = true
	}
	assert.True(t, types[DetectionStructuralChange])
	assert.True(t, types[DetectionImportPattern])
	assert.True(t, types[DetectionTestGap])
}

func TestAnalyzeChangesEmptyOnGitFailure(t *testing.T) {
	analyzer := NewGitAnalyzer(scriptedGit(nil), "/repo")
	assert.Empty(t, analyzer.AnalyzeChanges(context.Background(), ""))
}
