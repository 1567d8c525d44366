package learning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordFailure(t *testing.T, db *DB, category FailureCategory, file, detail, recordedAt string) {
	t.Helper()
	_, err := db.RecordFailure(context.Background(), FailureEvent{
		Category:   category,
		FilePath:   file,
		Detail:     detail,
		RecordedAt: recordedAt,
	})
	require.NoError(t, err)
}

func TestRecordFailureDeduplicatesBySignature(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	for range 3 {
		recordFailure(t, db, FailureLintError, "a/one.py", "unused import", "")
	}
	count, err := db.CountFailures(ctx, FailureFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "same failure, same day, one row")

	// A different detail is a different signature.
	recordFailure(t, db, FailureLintError, "a/one.py", "line too long", "")
	count, err = db.CountFailures(ctx, FailureFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestComputeFailureSummary(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	recordFailure(t, db, FailureLintError, "a.py", "d1", "")
	recordFailure(t, db, FailureLintError, "b.py", "d2", "")
	recordFailure(t, db, FailureMissingTest, "c.py", "d3", "")

	summary, err := db.ComputeFailureSummary(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalFailures)
	assert.Equal(t, 10, summary.PeriodDays)
	assert.Equal(t, 2, summary.ByCategory[FailureLintError])
	assert.Equal(t, 1, summary.ByCategory[FailureMissingTest])
	assert.NotContains(t, summary.ByCategory, FailureContextOverflow)
	assert.InDelta(t, 0.3, summary.DailyRate, 1e-9)
}

func TestComputeFailureSummaryEmpty(t *testing.T) {
	db := newDB(t)
	summary, err := db.ComputeFailureSummary(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, summary.TotalFailures)
	assert.Zero(t, summary.DailyRate)
	assert.Equal(t, 30, summary.PeriodDays, "default window")
}

func TestComputeFailureTrends(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(time.RFC3339Nano)

	recordFailure(t, db, FailureLintError, "a.py", "d1", yesterday)
	recordFailure(t, db, FailureLintError, "b.py", "d2", "")
	recordFailure(t, db, FailureMissingTest, "c.py", "d3", "")

	trends, err := db.ComputeFailureTrends(ctx, 7, "")
	require.NoError(t, err)
	require.Len(t, trends, 3, "one bucket per date+category pair")
	assert.Equal(t, FailureLintError, trends[0].Category)

	lintOnly, err := db.ComputeFailureTrends(ctx, 7, FailureLintError)
	require.NoError(t, err)
	assert.Len(t, lintOnly, 2)
}

func TestComputeFileHotspots(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	recordFailure(t, db, FailureLintError, "hot.py", "d1", "")
	recordFailure(t, db, FailureMissingTest, "hot.py", "d2", "")
	recordFailure(t, db, FailureLintError, "cold.py", "d3", "")

	hotspots, err := db.ComputeFileHotspots(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, hotspots, 2)
	assert.Equal(t, "hot.py", hotspots[0].FilePath)
	assert.Equal(t, 2, hotspots[0].TotalFailures)
	assert.Equal(t, 1, hotspots[0].ByCategory["lint_error"])
	assert.Equal(t, 1, hotspots[0].ByCategory["missing_test"])
}

func TestIdentifySystematicProblems(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	// 6 lint failures over a 5-day window: rate 1.2 is systematic.
	for i := range 6 {
		recordFailure(t, db, FailureLintError, "", "lint "+string(rune('a'+i)), "")
	}
	// 5 review failures over 5 days: rate 1.0 is only recurring.
	for i := range 5 {
		recordFailure(t, db, FailureReviewFailure, "", "review "+string(rune('a'+i)), "")
	}
	// Below minCount stays invisible.
	recordFailure(t, db, FailureContextOverflow, "", "overflow", "")

	problems, err := db.IdentifySystematicProblems(ctx, 5, 5)
	require.NoError(t, err)
	require.Len(t, problems, 2)

	byCategory := map[FailureCategory]SystematicProblem{}
	for _, p := range problems {
		byCategory[p.Category] = p
	}
	assert.Equal(t, "systematic_problem", byCategory[FailureLintError].Assessment)
	assert.Equal(t, "recurring_issue", byCategory[FailureReviewFailure].Assessment)
}

func TestSnapshotBaseline(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	recordFailure(t, db, FailureLintError, "a.py", "d1", "")
	recordFailure(t, db, FailureLintError, "b.py", "d2", "")

	baseline, err := db.SnapshotBaseline(ctx, "prop-1", ".claude/rules/r.md", FailureLintError, 30)
	require.NoError(t, err)
	assert.NotEmpty(t, baseline.ID)
	assert.Equal(t, 2, baseline.BaselineCount)
	assert.Equal(t, 30, baseline.BaselineWindowDays)
	assert.Equal(t, "heuristic", baseline.CategorySource)

	saved, err := db.ListBaselines(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, baseline.ID, saved[0].ID)
}

func TestComputeRuleEffectiveness(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	baseline := RuleBaseline{
		ID: "b1", ProposalID: "prop-1", RulePath: "r.md",
		Category: FailureLintError, BaselineCount: 30, BaselineWindowDays: 30,
		CreatedAt:      NowISO(),
		CategorySource: "heuristic",
	}

	// No failures since the rule landed: rate dropped from 1.0 to 0.
	result, err := db.ComputeRuleEffectiveness(ctx, baseline)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.BaselineRate, 1e-9)
	assert.Zero(t, result.CurrentRate)
	assert.InDelta(t, 1.0, result.EffectivenessScore, 1e-9)
	assert.Equal(t, "effective", result.Verdict)
	assert.Equal(t, 1, result.SampleDays, "fresh baselines sample at least one day")

	// One failure in the one-day sample matches the baseline rate exactly:
	// ratio 1.0, score 0.5, neutral.
	recordFailure(t, db, FailureLintError, "a.py", "d1", "")
	result, err = db.ComputeRuleEffectiveness(ctx, baseline)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.CurrentRate, 1e-9)
	assert.InDelta(t, 0.5, result.EffectivenessScore, 1e-9)
	assert.Equal(t, "neutral", result.Verdict)

	// Two failures double the rate: score bottoms out at 0.
	recordFailure(t, db, FailureLintError, "b.py", "d2", "")
	result, err = db.ComputeRuleEffectiveness(ctx, baseline)
	require.NoError(t, err)
	assert.Zero(t, result.EffectivenessScore)
	assert.Equal(t, "ineffective", result.Verdict)
}

func TestComputeRuleEffectivenessZeroBaseline(t *testing.T) {
	db := newDB(t)
	baseline := RuleBaseline{
		ID: "b1", ProposalID: "prop-1", RulePath: "r.md",
		Category: FailureLintError, BaselineCount: 0, BaselineWindowDays: 30,
		CreatedAt: NowISO(),
	}
	result, err := db.ComputeRuleEffectiveness(context.Background(), baseline)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.EffectivenessScore, 1e-9,
		"still clean after a clean baseline")
}

func TestComputeAllRuleEffectiveness(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	for _, id := range []string{"b1", "b2"} {
		require.NoError(t, db.SaveBaseline(ctx, RuleBaseline{
			ID: id, ProposalID: "prop-" + id, RulePath: "r.md",
			Category: FailureLintError, BaselineCount: 10, BaselineWindowDays: 10,
			CreatedAt: NowISO(), CategorySource: "heuristic",
		}))
	}
	results, err := db.ComputeAllRuleEffectiveness(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestListFailuresNewestFirst(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	older := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339Nano)

	recordFailure(t, db, FailureLintError, "a.py", "old", older)
	recordFailure(t, db, FailureLintError, "b.py", "new", "")

	events, err := db.ListFailures(ctx, FailureFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "new", events[0].Detail)

	filtered, err := db.ListFailures(ctx, FailureFilter{FilePath: "a.py"}, 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "old", filtered[0].Detail)
}
