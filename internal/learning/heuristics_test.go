package learning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBaseScoreBelowThresholdStaysInNoiseBand(t *testing.T) {
	assert.InDelta(t, 0.1*2.0/3.0, baseScore(DetectionCodePattern, 2), 1e-9)
	assert.Less(t, baseScore(DetectionFixPattern, 4), 0.1)
}

func TestBaseScoreGrowsWithCount(t *testing.T) {
	atThreshold := baseScore(DetectionCodePattern, 3)
	assert.InDelta(t, 0.55, atThreshold, 1e-9)

	saturated := baseScore(DetectionCodePattern, 12)
	assert.InDelta(t, 0.8, saturated, 1e-9)
	assert.Greater(t, saturated, atThreshold)
}

func TestConsistencyFactor(t *testing.T) {
	identical := []map[string]any{
		{"signature": "handler(ctx)"},
		{"signature": "handler(ctx)"},
		{"signature": "handler(ctx)"},
	}
	assert.InDelta(t, 1.0, consistencyFactor(identical), 1e-9)

	allDistinct := []map[string]any{
		{"signature": "a"},
		{"signature": "b"},
		{"signature": "c"},
	}
	assert.InDelta(t, 1.0-2.0/3.0*0.5, consistencyFactor(allDistinct), 1e-9)

	assert.InDelta(t, 1.0, consistencyFactor(nil), 1e-9)
}

func TestRecencyFactorTiers(t *testing.T) {
	now := time.Now().UTC()
	stamp := func(age time.Duration) []map[string]any {
		return []map[string]any{
			{"detected_at": now.Add(-age).Format(time.RFC3339Nano)},
		}
	}

	assert.InDelta(t, 1.0, recencyFactor(stamp(time.Hour), now), 1e-9)
	assert.InDelta(t, 0.9, recencyFactor(stamp(48*time.Hour), now), 1e-9)
	assert.InDelta(t, 0.7, recencyFactor(stamp(300*time.Hour), now), 1e-9)
	assert.InDelta(t, 0.5, recencyFactor(stamp(1000*time.Hour), now), 1e-9)

	// No timestamps means no decay.
	assert.InDelta(t, 1.0, recencyFactor([]map[string]any{{"other": "x"}}, now), 1e-9)
}

func TestScopeFactor(t *testing.T) {
	assert.InDelta(t, 0.8, scopeFactor([]string{"src/api/a.py", "src/api/b.py"}), 1e-9)
	assert.InDelta(t, 1.0, scopeFactor([]string{"src/api/a.py", "src/db/b.py"}), 1e-9)
	assert.InDelta(t, 1.2, scopeFactor([]string{
		"src/api/a.py", "src/db/b.py", "src/web/c.py", "src/cli/d.py",
	}), 1e-9)
	assert.InDelta(t, 1.0, scopeFactor(nil), 1e-9)
}

func TestComputeConfidenceClamped(t *testing.T) {
	detection := Detection{
		Type:  DetectionCodePattern,
		Count: 12,
		Files: []string{
			"a/x/1.py", "b/y/2.py", "c/z/3.py", "d/w/4.py",
			"e/v/5.py", "f/u/6.py", "g/t/7.py", "h/s/8.py",
		},
	}
	confidence := ComputeConfidence(detection, 1.5, time.Now().UTC())
	assert.LessOrEqual(t, confidence, 1.0)
	assert.Greater(t, confidence, 0.8)
}

func TestRunHeuristicsDiscardsBelowMinCount(t *testing.T) {
	db := newDB(t)
	detections := []Detection{
		{Type: DetectionCodePattern, Count: 2, Files: []string{"a/1.py", "b/2.py"},
			Description: "Repeated function signature: handle(ctx)"},
	}
	candidates, err := RunHeuristics(context.Background(), detections, db, 7)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestRunHeuristicsDiscardsSingleFilePatterns(t *testing.T) {
	db := newDB(t)
	detections := []Detection{
		{Type: DetectionCodePattern, Count: 5, Files: []string{"a/1.py", "a/1.py"},
			Description: "Repeated function signature: handle(ctx)"},
	}
	candidates, err := RunHeuristics(context.Background(), detections, db, 7)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestRunHeuristicsSingleFileExemptions(t *testing.T) {
	db := newDB(t)
	detections := []Detection{
		{Type: DetectionTestGap, Heuristic: HeuristicTestGap, Count: 1,
			Files: []string{"src/api/handlers.py"},
			Description: "New file without a test: src/api/handlers.py"},
		{Type: DetectionCodePattern, Heuristic: HeuristicSecurityShape, Count: 5,
			Files: []string{"src/api/handlers.py"},
			Description: "Broad exception handlers swallow errors"},
	}
	candidates, err := RunHeuristics(context.Background(), detections, db, 7)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestRunHeuristicsHonorsCooldown(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	description := "Common import: from app import db"
	hash := DescriptionHash(description)

	require.NoError(t, db.SaveCandidate(ctx, PatternCandidate{
		ID: "cand-1", DetectionType: DetectionImportPattern, Count: 4,
		ConfidenceRaw: 0.6, ConfidenceFinal: 0.6,
		Files:       []string{"a/1.py", "b/2.py"},
		Description: description, DescriptionHash: hash,
	}))
	require.NoError(t, db.SaveProposal(ctx, Proposal{
		ID: "prop-1", CandidateID: "cand-1", Type: ProposalRule,
		Title: "t", Description: description, ProposedContent: "c",
		Confidence: 0.6,
	}))
	_, applied, err := db.DecideProposal(ctx, "prop-1", DecisionReject, "")
	require.NoError(t, err)
	require.True(t, applied)

	detections := []Detection{
		{Type: DetectionImportPattern, Count: 4,
			Files: []string{"a/1.py", "b/2.py"}, Description: description},
	}
	candidates, err := RunHeuristics(ctx, detections, db, 7)
	require.NoError(t, err)
	assert.Empty(t, candidates, "rejected fingerprint is in cooldown")
}

func TestDescriptionHashNormalizes(t *testing.T) {
	a := DescriptionHash("Repeated  Function signature")
	b := DescriptionHash("repeated function SIGNATURE")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, DescriptionHash("something else"))
}
