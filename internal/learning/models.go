// Package learning mines git history for recurring patterns and turns them
// into reviewable governance proposals. The pipeline runs git analysis, then
// syntactic analysis, then the heuristic engine, and finally proposal
// generation; every human decision feeds back into future confidence scores.
package learning

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// DetectionType identifies what kind of recurring structure was observed.
type DetectionType string

const (
	DetectionCodePattern      DetectionType = "code_pattern"
	DetectionStructuralChange DetectionType = "structural_change"
	DetectionFixPattern       DetectionType = "fix_pattern"
	DetectionImportPattern    DetectionType = "import_pattern"
	DetectionConfigPattern    DetectionType = "config_pattern"
	DetectionServiceDetected  DetectionType = "service_detected"
	DetectionTestGap          DetectionType = "test_gap"
	DetectionDocGap           DetectionType = "doc_gap"
)

// Heuristic labels which of the seven scoring rules produced a detection.
type Heuristic string

const (
	HeuristicRepeatedBlock   Heuristic = "H1"
	HeuristicMissingStandard Heuristic = "H2"
	HeuristicInconsistent    Heuristic = "H3"
	HeuristicSecurityShape   Heuristic = "H4"
	HeuristicPerformance     Heuristic = "H5"
	HeuristicTestGap         Heuristic = "H6"
	HeuristicDocGap          Heuristic = "H7"
)

// CandidateStatus tracks a pattern candidate through the pipeline.
type CandidateStatus string

const (
	CandidatePending     CandidateStatus = "pending"
	CandidateInterpreted CandidateStatus = "interpreted"
	CandidateProposed    CandidateStatus = "proposed"
	CandidateDecided     CandidateStatus = "decided"
)

// ProposalType selects the artifact kind an accepted proposal produces.
type ProposalType string

const (
	ProposalRule         ProposalType = "rule"
	ProposalSkill        ProposalType = "skill"
	ProposalADR          ProposalType = "adr"
	ProposalProjectGraph ProposalType = "project_graph"
	ProposalTemplate     ProposalType = "template"
)

// ProposalStatus is the lifecycle of a proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalPresented ProposalStatus = "presented"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalIgnored   ProposalStatus = "ignored"
	ProposalSnoozed   ProposalStatus = "snoozed"
)

// Decision is a human verdict on a proposal.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
	DecisionIgnore Decision = "ignore"
	DecisionSnooze Decision = "snooze"
)

// decisionToStatus maps a verdict onto the resulting proposal status.
var decisionToStatus = map[Decision]ProposalStatus{
	DecisionAccept: ProposalAccepted,
	DecisionReject: ProposalRejected,
	DecisionIgnore: ProposalIgnored,
	DecisionSnooze: ProposalSnoozed,
}

// ValidDecision reports whether raw names a known decision.
func ValidDecision(raw string) bool {
	_, ok := decisionToStatus[Decision(raw)]
	return ok
}

// NowISO is the timestamp format used across the learning tables.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// DescriptionHash fingerprints a detection for cross-run identity: blake3
// over the normalized description, truncated to 16 hex characters. The same
// pattern observed in two separate analysis runs hashes identically.
func DescriptionHash(description string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(description)), " ")
	sum := blake3.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// Detection is a raw structural observation from one analysis pass.
type Detection struct {
	Type          DetectionType    `json:"type"`
	Heuristic     Heuristic        `json:"heuristic,omitempty"`
	Count         int              `json:"count"`
	ConfidenceRaw float64          `json:"confidence_raw"`
	Files         []string         `json:"files"`
	Description   string           `json:"description"`
	Instances     []map[string]any `json:"instances,omitempty"`
}

// PatternCandidate is a detection that survived the decision-tree filters,
// carrying its final heuristic confidence.
type PatternCandidate struct {
	ID              string           `json:"id"`
	DetectionType   DetectionType    `json:"detection_type"`
	Count           int              `json:"count"`
	ConfidenceRaw   float64          `json:"confidence_raw"`
	ConfidenceFinal float64          `json:"confidence_final"`
	Files           []string         `json:"files"`
	Description     string           `json:"description"`
	Instances       []map[string]any `json:"instances,omitempty"`
	DetectedAt      string           `json:"detected_at"`
	Status          CandidateStatus  `json:"status"`
	DescriptionHash string           `json:"description_hash"`
}

// Proposal is an actionable artifact suggestion awaiting a decision.
type Proposal struct {
	ID              string         `json:"id"`
	CandidateID     string         `json:"candidate_id"`
	Type            ProposalType   `json:"type"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	ProposedContent string         `json:"proposed_content"`
	ProposedPath    string         `json:"proposed_path,omitempty"`
	Confidence      float64        `json:"confidence"`
	Status          ProposalStatus `json:"status"`
	PresentedAt     string         `json:"presented_at,omitempty"`
	DecidedAt       string         `json:"decided_at,omitempty"`
	Decision        Decision       `json:"decision,omitempty"`
	EditedContent   string         `json:"edited_content,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
}

// AnalysisResult summarizes one full pipeline run.
type AnalysisResult struct {
	Detections      []Detection `json:"detections"`
	Candidates      int         `json:"candidates"`
	Proposals       int         `json:"proposals"`
	AnalyzedCommits int         `json:"analyzed_commits"`
	AnalysisTimeMS  int64       `json:"analysis_time_ms"`
	Skipped         string      `json:"skipped,omitempty"`
}

// FailureCategory buckets recorded failure events.
type FailureCategory string

const (
	FailureLintError       FailureCategory = "lint_error"
	FailureMissingTest     FailureCategory = "missing_test"
	FailureContextOverflow FailureCategory = "context_overflow"
	FailureReviewFailure   FailureCategory = "review_failure"
)

// FailureCategories lists every category in a stable order.
var FailureCategories = []FailureCategory{
	FailureLintError,
	FailureMissingTest,
	FailureContextOverflow,
	FailureReviewFailure,
}

// ValidFailureCategory reports whether raw names a known category.
func ValidFailureCategory(raw string) bool {
	for _, cat := range FailureCategories {
		if string(cat) == raw {
			return true
		}
	}
	return false
}

// FailureSignature builds the per-day dedup key for a failure event:
// sha-256 over category, file, the first 200 bytes of detail, and the UTC
// day, truncated to 16 hex characters. Identical failures within one day
// collapse into a single row.
func FailureSignature(category FailureCategory, filePath, detail string) string {
	if len(detail) > 200 {
		detail = detail[:200]
	}
	day := time.Now().UTC().Format("2006-01-02")
	raw := string(category) + "|" + filePath + "|" + detail + "|" + day
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// FailureEvent is one recorded verification or tooling failure.
type FailureEvent struct {
	ID         string          `json:"id"`
	Category   FailureCategory `json:"category"`
	FilePath   string          `json:"file_path,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	RecordedAt string          `json:"recorded_at"`
	Signature  string          `json:"signature"`
}

// NewFailureEvent fills id, timestamp, and signature.
func NewFailureEvent(category FailureCategory, filePath, detail string) FailureEvent {
	return FailureEvent{
		ID:         uuid.NewString(),
		Category:   category,
		FilePath:   filePath,
		Detail:     detail,
		RecordedAt: NowISO(),
		Signature:  FailureSignature(category, filePath, detail),
	}
}

// RuleBaseline snapshots the failure rate in a category at the moment a
// proposal was accepted, so later effectiveness checks have a reference.
type RuleBaseline struct {
	ID                 string          `json:"id"`
	ProposalID         string          `json:"proposal_id"`
	RulePath           string          `json:"rule_path"`
	Category           FailureCategory `json:"category"`
	BaselineCount      int             `json:"baseline_count"`
	BaselineWindowDays int             `json:"baseline_window_days"`
	CreatedAt          string          `json:"created_at"`
	CategorySource     string          `json:"category_source"`
}

// RuleEffectiveness compares failure rates before and after a rule landed.
type RuleEffectiveness struct {
	ProposalID         string          `json:"proposal_id"`
	RulePath           string          `json:"rule_path"`
	Category           FailureCategory `json:"category"`
	BaselineRate       float64         `json:"baseline_rate"`
	CurrentRate        float64         `json:"current_rate"`
	EffectivenessScore float64         `json:"effectiveness_score"`
	SampleDays         int             `json:"sample_days"`
	Verdict            string          `json:"verdict"`
}

// FailureTrend is one (day, category) bucket.
type FailureTrend struct {
	Category FailureCategory `json:"category"`
	Period   string          `json:"period"`
	Count    int             `json:"count"`
}

// FileHotspot aggregates failures per file.
type FileHotspot struct {
	FilePath      string         `json:"file_path"`
	TotalFailures int            `json:"total_failures"`
	ByCategory    map[string]int `json:"by_category"`
}

// FailureSummary is the headline analytics view.
type FailureSummary struct {
	TotalFailures int                     `json:"total_failures"`
	ByCategory    map[FailureCategory]int `json:"by_category"`
	PeriodDays    int                     `json:"period_days"`
	DailyRate     float64                 `json:"daily_rate"`
}

// SystematicProblem flags a category whose failure rate warrants attention.
type SystematicProblem struct {
	Category   FailureCategory `json:"category"`
	Count      int             `json:"count"`
	DailyRate  float64         `json:"daily_rate"`
	Assessment string          `json:"assessment"`
}

// AnalysisState is the singleton cursor for incremental analysis.
type AnalysisState struct {
	LastCommit           string `json:"last_commit,omitempty"`
	LastAnalyzedAt       string `json:"last_analyzed_at,omitempty"`
	TotalCommitsAnalyzed int    `json:"total_commits_analyzed"`
}

// Stats summarizes the learning database.
type Stats struct {
	CandidatesTotal    int            `json:"candidates_total"`
	ProposalsTotal     int            `json:"proposals_total"`
	CandidatesByStatus map[string]int `json:"candidates_by_status"`
	ProposalsByStatus  map[string]int `json:"proposals_by_status"`
}
