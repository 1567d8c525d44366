package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDecidedProposal(t *testing.T, db *DB, id, candidateID, description string, decision Decision) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.SaveCandidate(ctx, PatternCandidate{
		ID: candidateID, DetectionType: DetectionCodePattern, Count: 3,
		ConfidenceRaw: 0.5, ConfidenceFinal: 0.5,
		Files:       []string{"a/1.py", "b/2.py"},
		Description: description,
	}))
	require.NoError(t, db.SaveProposal(ctx, Proposal{
		ID: id, CandidateID: candidateID, Type: ProposalRule,
		Title: "t", Description: description, ProposedContent: "c",
		Confidence: 0.5,
	}))
	_, applied, err := db.DecideProposal(ctx, id, decision, "")
	require.NoError(t, err)
	require.True(t, applied)
}

func TestCandidateRoundTrip(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	saved := PatternCandidate{
		ID: "cand-1", DetectionType: DetectionImportPattern, Count: 4,
		ConfidenceRaw: 0.6, ConfidenceFinal: 0.42,
		Files:       []string{"a/1.py", "b/2.py"},
		Description: "Common import: from app import db",
		Instances:   []map[string]any{{"import": "from app import db"}},
	}
	require.NoError(t, db.SaveCandidate(ctx, saved))

	got, err := db.GetCandidate(ctx, "cand-1")
	require.NoError(t, err)
	assert.Equal(t, DetectionImportPattern, got.DetectionType)
	assert.Equal(t, saved.Files, got.Files)
	assert.Equal(t, CandidatePending, got.Status)
	assert.Equal(t, DescriptionHash(saved.Description), got.DescriptionHash)
	assert.NotEmpty(t, got.DetectedAt)

	_, err = db.GetCandidate(ctx, "missing")
	require.Error(t, err)
}

func TestListCandidatesOrdersByConfidence(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	for _, c := range []struct {
		id         string
		confidence float64
	}{{"low", 0.2}, {"high", 0.9}, {"mid", 0.5}} {
		require.NoError(t, db.SaveCandidate(ctx, PatternCandidate{
			ID: c.id, DetectionType: DetectionCodePattern, Count: 3,
			ConfidenceRaw: 0.5, ConfidenceFinal: c.confidence,
			Files: []string{"a/1.py"}, Description: c.id,
		}))
	}

	all, err := db.ListCandidates(ctx, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "high", all[0].ID)

	filtered, err := db.ListCandidates(ctx, "", 0.4, 10)
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestDecideProposalIsIdempotent(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	seedDecidedProposal(t, db, "prop-1", "cand-1", "desc one", DecisionAccept)

	// A second, different decision leaves the first outcome in place.
	prior, applied, err := db.DecideProposal(ctx, "prop-1", DecisionReject, "")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, DecisionAccept, prior.Decision)
	assert.Equal(t, ProposalAccepted, prior.Status)
}

func TestDecideProposalRejectsUnknownDecision(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	require.NoError(t, db.SaveProposal(ctx, Proposal{
		ID: "prop-1", CandidateID: "cand-1", Type: ProposalRule,
		Title: "t", Description: "d", ProposedContent: "c", Confidence: 0.5,
	}))
	_, _, err := db.DecideProposal(ctx, "prop-1", Decision("maybe"), "")
	require.Error(t, err)
}

func TestPriorDecisionFactor(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	description := "Repeated function signature: handle(ctx)"
	hash := DescriptionHash(description)

	factor, err := db.PriorDecisionFactor(ctx, hash)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, factor, 1e-9, "no history starts neutral")

	seedDecidedProposal(t, db, "prop-a", "cand-a", description, DecisionAccept)
	factor, err = db.PriorDecisionFactor(ctx, hash)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, factor, 1e-9, "all accepts reach the ceiling")

	seedDecidedProposal(t, db, "prop-b", "cand-b", description, DecisionReject)
	factor, err = db.PriorDecisionFactor(ctx, hash)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, factor, 1e-9)

	// An unrelated fingerprint is unaffected.
	factor, err = db.PriorDecisionFactor(ctx, DescriptionHash("other"))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, factor, 1e-9)
}

func TestPriorDecisionFactorIgnoresPullHalf(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	description := "Common import: import os"
	hash := DescriptionHash(description)

	seedDecidedProposal(t, db, "prop-a", "cand-a", description, DecisionAccept)
	seedDecidedProposal(t, db, "prop-b", "cand-b", description, DecisionIgnore)
	withIgnore, err := db.PriorDecisionFactor(ctx, hash)
	require.NoError(t, err)
	assert.InDelta(t, 0.5+1.0/1.5, withIgnore, 1e-9)

	db2 := newDB(t)
	seedDecidedProposal(t, db2, "prop-c", "cand-c", description, DecisionAccept)
	seedDecidedProposal(t, db2, "prop-d", "cand-d", description, DecisionReject)
	withReject, err := db2.PriorDecisionFactor(ctx, hash)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, withReject, 1e-9)

	assert.Greater(t, withIgnore, withReject)
}

func TestIsInCooldown(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	description := "Common import: from x import y"
	hash := DescriptionHash(description)

	inCooldown, err := db.IsInCooldown(ctx, hash, 7)
	require.NoError(t, err)
	assert.False(t, inCooldown)

	seedDecidedProposal(t, db, "prop-1", "cand-1", description, DecisionReject)
	inCooldown, err = db.IsInCooldown(ctx, hash, 7)
	require.NoError(t, err)
	assert.True(t, inCooldown)

	// Accepted proposals never trigger cooldown.
	db2 := newDB(t)
	seedDecidedProposal(t, db2, "prop-2", "cand-2", description, DecisionAccept)
	inCooldown, err = db2.IsInCooldown(ctx, hash, 7)
	require.NoError(t, err)
	assert.False(t, inCooldown)
}

func TestAnalysisStateRoundTrip(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	state, err := db.GetAnalysisState(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.LastCommit)

	require.NoError(t, db.UpdateAnalysisState(ctx, "abc123", 7))
	require.NoError(t, db.UpdateAnalysisState(ctx, "def456", 12))

	state, err = db.GetAnalysisState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "def456", state.LastCommit)
	assert.Equal(t, 12, state.TotalCommitsAnalyzed)
	assert.NotEmpty(t, state.LastAnalyzedAt)
}

func TestCountSessionProposals(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, db.SaveProposal(ctx, Proposal{
			ID: id, CandidateID: "c", Type: ProposalRule, Title: "t",
			Description: "d", ProposedContent: "c", Confidence: 0.5,
			SessionID: "sess-1",
		}))
	}
	count, err := db.CountSessionProposals(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = db.CountSessionProposals(ctx, "sess-2")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStatsGroupsByStatus(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	seedDecidedProposal(t, db, "prop-1", "cand-1", "desc one", DecisionAccept)
	require.NoError(t, db.SaveProposal(ctx, Proposal{
		ID: "prop-2", CandidateID: "cand-1", Type: ProposalRule, Title: "t",
		Description: "d", ProposedContent: "c", Confidence: 0.5,
	}))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CandidatesTotal)
	assert.Equal(t, 2, stats.ProposalsTotal)
	assert.Equal(t, 1, stats.ProposalsByStatus["accepted"])
	assert.Equal(t, 1, stats.ProposalsByStatus["pending"])
}

func TestSchemaCreatedAtIsSet(t *testing.T) {
	db := newDB(t)
	created, err := db.CreatedAt(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, created)
}
