package learning

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCandidate(detectionType DetectionType, description string, confidence float64) PatternCandidate {
	return PatternCandidate{
		ID:              "cand-" + string(detectionType),
		DetectionType:   detectionType,
		Count:           4,
		ConfidenceRaw:   0.6,
		ConfidenceFinal: confidence,
		Files:           []string{"a/one.py", "b/two.py"},
		Description:     description,
		DescriptionHash: DescriptionHash(description),
	}
}

func TestGenerateTitleTruncates(t *testing.T) {
	long := makeCandidate(DetectionCodePattern,
		strings.Repeat("very long description ", 5), 0.7)
	title := GenerateTitle(long)
	assert.True(t, strings.HasPrefix(title, "Add rule: "))
	assert.Contains(t, title, "...")
	assert.LessOrEqual(t, len(title), len("Add rule: ")+50)

	short := makeCandidate(DetectionImportPattern, "Common import: import os", 0.7)
	assert.Equal(t, "Standardize imports: Common import: import os", GenerateTitle(short))
}

func TestProposalTypeMapping(t *testing.T) {
	cases := map[DetectionType]ProposalType{
		DetectionCodePattern:      ProposalRule,
		DetectionFixPattern:       ProposalRule,
		DetectionImportPattern:    ProposalRule,
		DetectionConfigPattern:    ProposalRule,
		DetectionStructuralChange: ProposalADR,
		DetectionTestGap:          ProposalSkill,
		DetectionDocGap:           ProposalTemplate,
		DetectionServiceDetected:  ProposalProjectGraph,
		DetectionType("mystery"):  ProposalRule,
	}
	for detection, want := range cases {
		assert.Equal(t, want, proposalTypeFor(detection), string(detection))
	}
}

func TestGenerateProposalContentCarriesFrontmatter(t *testing.T) {
	db := newDB(t)
	generator := NewGenerator(db, 3)
	candidate := makeCandidate(DetectionCodePattern, "Repeated function signature: handle(ctx)", 0.8)

	proposals, err := generator.Generate(context.Background(),
		[]PatternCandidate{candidate}, t.TempDir(), "")
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	content := proposals[0].ProposedContent
	assert.True(t, strings.HasPrefix(content, "---\n"))
	assert.Contains(t, content, "source: learning")
	assert.Contains(t, content, "proposal_id: "+proposals[0].ID)
	assert.Contains(t, content, "fingerprint: "+candidate.DescriptionHash)
	assert.Contains(t, content, "Observed 4 times across 2 files.")
	assert.NotEmpty(t, proposals[0].ProposedPath)
}

func TestGenerateDeduplicatesByFingerprint(t *testing.T) {
	db := newDB(t)
	generator := NewGenerator(db, 5)
	first := makeCandidate(DetectionCodePattern, "Repeated function signature: handle(ctx)", 0.8)
	duplicate := first
	duplicate.ID = "cand-dup"

	proposals, err := generator.Generate(context.Background(),
		[]PatternCandidate{first, duplicate}, t.TempDir(), "")
	require.NoError(t, err)
	assert.Len(t, proposals, 1)
}

func TestGenerateRespectsQuota(t *testing.T) {
	db := newDB(t)
	generator := NewGenerator(db, 2)
	candidates := []PatternCandidate{
		makeCandidate(DetectionCodePattern, "pattern one", 0.9),
		makeCandidate(DetectionImportPattern, "pattern two", 0.8),
		makeCandidate(DetectionConfigPattern, "pattern three", 0.7),
	}
	proposals, err := generator.Generate(context.Background(), candidates, t.TempDir(), "")
	require.NoError(t, err)
	assert.Len(t, proposals, 2)
}

func TestGenerateQuotaCountsSessionHistory(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, db.SaveProposal(ctx, Proposal{
			ID: id, CandidateID: "c", Type: ProposalRule, Title: "t",
			Description: "d", ProposedContent: "c", Confidence: 0.5,
			SessionID: "sess-1",
		}))
	}
	generator := NewGenerator(db, 3)
	proposals, err := generator.Generate(ctx,
		[]PatternCandidate{makeCandidate(DetectionCodePattern, "fresh pattern", 0.9)},
		t.TempDir(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, proposals, "session quota exhausted")
}

func TestGenerateSkipsExistingRuleByFingerprint(t *testing.T) {
	db := newDB(t)
	root := t.TempDir()
	rulesDir := filepath.Join(root, ".claude", "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))

	candidate := makeCandidate(DetectionCodePattern, "Repeated function signature: handle(ctx)", 0.8)
	existing := "---\nfingerprint: " + candidate.DescriptionHash + "\nsource: learning\n---\n\nBody.\n"
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "learning-old.md"), []byte(existing), 0o644))

	proposals, err := NewGenerator(db, 3).Generate(context.Background(),
		[]PatternCandidate{candidate}, root, "")
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestGenerateSkipsExistingRuleByKeywordOverlap(t *testing.T) {
	db := newDB(t)
	root := t.TempDir()
	rulesDir := filepath.Join(root, ".claude", "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "imports.md"),
		[]byte("# Imports\n\nAlways use the common import from app import db everywhere.\n"), 0o644))

	candidate := makeCandidate(DetectionImportPattern, "Common import: from app import db", 0.8)
	proposals, err := NewGenerator(db, 3).Generate(context.Background(),
		[]PatternCandidate{candidate}, root, "")
	require.NoError(t, err)
	assert.Empty(t, proposals)
}
