package learning

// Failure analytics: summaries, trends, hotspots, and rule effectiveness.
// Pure computations over the analytics tables; the only write is the
// baseline snapshot taken when a proposal is accepted.

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func sinceDays(days int) string {
	return time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
}

// ComputeFailureSummary returns totals, per-category counts, and daily rate
// over the window.
func (d *DB) ComputeFailureSummary(ctx context.Context, days int) (FailureSummary, error) {
	if days <= 0 {
		days = 30
	}
	since := sinceDays(days)
	total, err := d.CountFailures(ctx, FailureFilter{Since: since})
	if err != nil {
		return FailureSummary{}, err
	}
	summary := FailureSummary{
		TotalFailures: total,
		ByCategory:    map[FailureCategory]int{},
		PeriodDays:    days,
	}
	for _, category := range FailureCategories {
		count, err := d.CountFailures(ctx, FailureFilter{Category: category, Since: since})
		if err != nil {
			return FailureSummary{}, err
		}
		if count > 0 {
			summary.ByCategory[category] = count
		}
	}
	if total > 0 {
		summary.DailyRate = float64(total) / float64(days)
	}
	return summary, nil
}

// ComputeFailureTrends buckets failures by UTC date over the window.
func (d *DB) ComputeFailureTrends(ctx context.Context, days int, category FailureCategory) ([]FailureTrend, error) {
	if days <= 0 {
		days = 30
	}
	return d.FailureTrendsSince(ctx, sinceDays(days), category)
}

// ComputeFileHotspots ranks failing files over the window.
func (d *DB) ComputeFileHotspots(ctx context.Context, days, limit int) ([]FileHotspot, error) {
	if days <= 0 {
		days = 30
	}
	return d.FileHotspots(ctx, sinceDays(days), limit)
}

// IdentifySystematicProblems flags categories with at least minCount
// failures in the window. Daily rate above 1.0 is a systematic problem,
// above 0.3 a recurring issue, anything else occasional.
func (d *DB) IdentifySystematicProblems(ctx context.Context, days, minCount int) ([]SystematicProblem, error) {
	if days <= 0 {
		days = 30
	}
	if minCount <= 0 {
		minCount = 5
	}
	since := sinceDays(days)
	problems := []SystematicProblem{}
	for _, category := range FailureCategories {
		count, err := d.CountFailures(ctx, FailureFilter{Category: category, Since: since})
		if err != nil {
			return nil, err
		}
		if count < minCount {
			continue
		}
		dailyRate := float64(count) / float64(days)
		assessment := "occasional"
		switch {
		case dailyRate > 1.0:
			assessment = "systematic_problem"
		case dailyRate > 0.3:
			assessment = "recurring_issue"
		}
		problems = append(problems, SystematicProblem{
			Category:   category,
			Count:      count,
			DailyRate:  dailyRate,
			Assessment: assessment,
		})
	}
	return problems, nil
}

// SnapshotBaseline records the current failure rate for a category at the
// moment a rule lands, so its effect can be measured later.
func (d *DB) SnapshotBaseline(ctx context.Context, proposalID, rulePath string, category FailureCategory, windowDays int) (RuleBaseline, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	count, err := d.CountFailures(ctx, FailureFilter{Category: category, Since: sinceDays(windowDays)})
	if err != nil {
		return RuleBaseline{}, err
	}
	baseline := RuleBaseline{
		ID:                 uuid.NewString(),
		ProposalID:         proposalID,
		RulePath:           rulePath,
		Category:           category,
		BaselineCount:      count,
		BaselineWindowDays: windowDays,
		CreatedAt:          NowISO(),
		CategorySource:     "heuristic",
	}
	if err := d.SaveBaseline(ctx, baseline); err != nil {
		return RuleBaseline{}, err
	}
	return baseline, nil
}

// ComputeRuleEffectiveness compares the failure rate since the baseline was
// taken against the baseline rate. The score is monotonic: 1.0 when failures
// vanished, 0.5 when unchanged, 0.0 when they doubled or worse.
func (d *DB) ComputeRuleEffectiveness(ctx context.Context, baseline RuleBaseline) (RuleEffectiveness, error) {
	const eps = 0.01
	baselineRate := float64(baseline.BaselineCount) / float64(baseline.BaselineWindowDays)

	sampleDays := 1
	if created, err := time.Parse(time.RFC3339Nano, baseline.CreatedAt); err == nil {
		if days := int(time.Since(created).Hours() / 24); days > 1 {
			sampleDays = days
		}
	}

	countSince, err := d.CountFailures(ctx, FailureFilter{
		Category: baseline.Category,
		Since:    baseline.CreatedAt,
	})
	if err != nil {
		return RuleEffectiveness{}, err
	}
	currentRate := float64(countSince) / float64(sampleDays)

	denominator := baselineRate
	if denominator < eps {
		denominator = eps
	}
	ratio := currentRate / denominator
	score := 1.0 - ratio/2.0
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	verdict := "ineffective"
	switch {
	case score > 0.6:
		verdict = "effective"
	case score >= 0.4:
		verdict = "neutral"
	}

	return RuleEffectiveness{
		ProposalID:         baseline.ProposalID,
		RulePath:           baseline.RulePath,
		Category:           baseline.Category,
		BaselineRate:       baselineRate,
		CurrentRate:        currentRate,
		EffectivenessScore: score,
		SampleDays:         sampleDays,
		Verdict:            verdict,
	}, nil
}

// ComputeAllRuleEffectiveness evaluates every saved baseline.
func (d *DB) ComputeAllRuleEffectiveness(ctx context.Context) ([]RuleEffectiveness, error) {
	baselines, err := d.ListBaselines(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]RuleEffectiveness, 0, len(baselines))
	for _, baseline := range baselines {
		effectiveness, err := d.ComputeRuleEffectiveness(ctx, baseline)
		if err != nil {
			return nil, err
		}
		results = append(results, effectiveness)
	}
	return results, nil
}
