package learning

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// minCounts is the occurrence floor per detection type. Below it the base
// score stays in the noise band and the decision tree discards the detection.
var minCounts = map[DetectionType]int{
	DetectionCodePattern:      3,
	DetectionStructuralChange: 2,
	DetectionFixPattern:       5,
	DetectionImportPattern:    3,
	DetectionConfigPattern:    2,
	DetectionServiceDetected:  1,
	DetectionTestGap:          1,
	DetectionDocGap:           1,
}

// singleFileExempt lists detections that are meaningful in one file.
func singleFileExempt(d Detection) bool {
	switch d.Type {
	case DetectionServiceDetected, DetectionTestGap, DetectionDocGap:
		return true
	}
	return d.Heuristic == HeuristicSecurityShape
}

func minCountFor(t DetectionType) int {
	if threshold, ok := minCounts[t]; ok {
		return threshold
	}
	return 3
}

// baseScore maps an occurrence count onto [0, 0.8]. Below the type's
// threshold it stays under 0.1; above it, it grows toward 0.8 as the count
// approaches twice the threshold.
func baseScore(detectionType DetectionType, count int) float64 {
	threshold := minCountFor(detectionType)
	if count < threshold {
		return 0.1 * float64(count) / float64(threshold)
	}
	ratio := float64(count) / float64(threshold*2)
	if ratio > 1.0 {
		ratio = 1.0
	}
	return 0.3 + 0.5*ratio
}

// consistencyFactor rewards instances that look alike. All-identical
// instances score 1.0; all-distinct instances drop toward 0.5.
func consistencyFactor(instances []map[string]any) float64 {
	if len(instances) == 0 {
		return 1.0
	}
	unique := map[string]bool{}
	for _, inst := range instances {
		encoded, err := json.Marshal(sortedInstance(inst))
		if err != nil {
			continue
		}
		unique[string(encoded)] = true
	}
	if len(unique) == 0 {
		return 1.0
	}
	return 1.0 - float64(len(unique)-1)/float64(len(instances))*0.5
}

// sortedInstance renders an instance with deterministic key order so two
// equal maps always serialize identically.
func sortedInstance(inst map[string]any) []any {
	keys := make([]string, 0, len(inst))
	for key := range inst {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	flat := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		flat = append(flat, key, inst[key])
	}
	return flat
}

// recencyFactor decays with the age of the most recent instance: same-day
// 1.0, within a week 0.9, within a month 0.7, older 0.5.
func recencyFactor(instances []map[string]any, now time.Time) float64 {
	var mostRecent time.Time
	for _, inst := range instances {
		raw, ok := inst["detected_at"].(string)
		if !ok || raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			if ts, err = time.Parse(time.RFC3339, raw); err != nil {
				continue
			}
		}
		if ts.After(mostRecent) {
			mostRecent = ts
		}
	}
	if mostRecent.IsZero() {
		return 1.0
	}
	age := now.Sub(mostRecent).Hours()
	switch {
	case age < 24:
		return 1.0
	case age < 168:
		return 0.9
	case age < 720:
		return 0.7
	default:
		return 0.5
	}
}

// scopeFactor rewards cross-directory spread. Single-directory patterns are
// damped, two directories are neutral, wider spread adds 0.1 per directory.
func scopeFactor(files []string) float64 {
	if len(files) == 0 {
		return 1.0
	}
	directories := map[string]bool{}
	for _, file := range files {
		parts := strings.Split(file, "/")
		switch {
		case len(parts) > 2:
			directories[parts[0]+"/"+parts[1]] = true
		case len(parts) == 2:
			directories[parts[0]] = true
		default:
			directories[file] = true
		}
	}
	switch n := len(directories); {
	case n <= 1:
		return 0.8
	case n == 2:
		return 1.0
	default:
		return 1.0 + float64(n-2)*0.1
	}
}

// ComputeConfidence multiplies the scoring factors and clamps to [0, 1].
func ComputeConfidence(detection Detection, priorFactor float64, now time.Time) float64 {
	confidence := baseScore(detection.Type, detection.Count) *
		consistencyFactor(detection.Instances) *
		recencyFactor(detection.Instances, now) *
		scopeFactor(detection.Files) *
		priorFactor
	if confidence > 1.0 {
		return 1.0
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}

// RunHeuristics applies the decision tree to raw detections: minimum count,
// single-file discard, cooldown, then confidence scoring. Survivors become
// pattern candidates.
func RunHeuristics(ctx context.Context, detections []Detection, db *DB, cooldownDays int) ([]PatternCandidate, error) {
	if len(detections) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	candidates := []PatternCandidate{}
	for _, detection := range detections {
		if detection.Count < minCountFor(detection.Type) {
			continue
		}
		if !singleFileExempt(detection) {
			unique := map[string]bool{}
			for _, file := range detection.Files {
				unique[file] = true
			}
			if len(unique) <= 1 {
				continue
			}
		}

		hash := DescriptionHash(detection.Description)
		inCooldown, err := db.IsInCooldown(ctx, hash, cooldownDays)
		if err != nil {
			return nil, err
		}
		if inCooldown {
			continue
		}

		priorFactor, err := db.PriorDecisionFactor(ctx, hash)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, PatternCandidate{
			ID:              uuid.NewString(),
			DetectionType:   detection.Type,
			Count:           detection.Count,
			ConfidenceRaw:   detection.ConfidenceRaw,
			ConfidenceFinal: ComputeConfidence(detection, priorFactor, now),
			Files:           detection.Files,
			Description:     detection.Description,
			Instances:       detection.Instances,
			DetectedAt:      NowISO(),
			Status:          CandidatePending,
			DescriptionHash: hash,
		})
	}
	return candidates, nil
}
