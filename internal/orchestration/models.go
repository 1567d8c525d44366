// Package orchestration drives the spec lifecycle: a deterministic state
// machine over planning → implementing → verifying → (fixing) → learning →
// done, persisted to a per-slug json file. The coordinator owns every
// SpecState mutation and delegates physical isolation to the worktree
// manager. It never generates prompts or calls a model.
package orchestration

import "strings"

// Phase is one stage of the spec lifecycle.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseImplementing Phase = "implementing"
	PhaseVerifying    Phase = "verifying"
	PhaseFixing       Phase = "fixing"
	PhaseLearning     Phase = "learning"
	PhaseDone         Phase = "done"
	PhaseAborted      Phase = "aborted"
)

// validTransitions is the full edge set. Abort is allowed from any phase and
// handled separately.
var validTransitions = map[Phase][]Phase{
	PhasePlanning:     {PhaseImplementing},
	PhaseImplementing: {PhaseVerifying},
	PhaseVerifying:    {PhaseLearning, PhaseFixing},
	PhaseFixing:       {PhaseImplementing},
	PhaseLearning:     {PhaseDone},
	PhaseDone:         {},
	PhaseAborted:      {},
}

// CanTransition reports whether the edge from → to exists.
func CanTransition(from, to Phase) bool {
	if to == PhaseAborted {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// busyPhases are the phases during which a session-exit probe should hold.
var busyPhases = map[Phase]bool{
	PhaseImplementing: true,
	PhaseVerifying:    true,
	PhaseFixing:       true,
}

// Complexity classifies how heavyweight a spec's workflow should be.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

var complexityKeywords = map[string][]string{
	"security": {"auth", "authentication", "authorization", "security",
		"password", "token", "jwt", "oauth", "encrypt"},
	"data": {"database", "migration", "schema", "sql", "orm", "table",
		"query", "data"},
	"api": {"api", "endpoint", "route", "handler", "controller", "rest",
		"graphql"},
	"integration": {"integration", "external", "third-party", "webhook",
		"callback", "sync"},
	"infra": {"deploy", "docker", "kubernetes", "infrastructure", "ci",
		"cd", "pipeline"},
}

func mentionsAny(text string, category string) bool {
	for _, keyword := range complexityKeywords[category] {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// AssessComplexity classifies a spec description. Security, data,
// integration, or infra concerns make it complex, as does touching more than
// three files. API work only tips a spec over when the description is
// substantial. Pure function, no side effects.
func AssessComplexity(spec string, affectedFiles []string) Complexity {
	lower := strings.ToLower(spec)

	if len(affectedFiles) > 3 {
		return ComplexityComplex
	}
	if mentionsAny(lower, "security") || mentionsAny(lower, "data") ||
		mentionsAny(lower, "integration") || mentionsAny(lower, "infra") {
		return ComplexityComplex
	}
	if mentionsAny(lower, "api") && len(lower) > 200 {
		return ComplexityComplex
	}
	return ComplexitySimple
}

// Verdict is a reviewer's overall judgement.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// FindingSeverity ranks a review finding.
type FindingSeverity string

const (
	SeverityMustFix    FindingSeverity = "must_fix"
	SeverityShouldFix  FindingSeverity = "should_fix"
	SeveritySuggestion FindingSeverity = "suggestion"
)

// ReviewFinding is one issue a reviewer raised.
type ReviewFinding struct {
	FilePath    string          `json:"file_path"`
	Line        int             `json:"line,omitempty"`
	Severity    FindingSeverity `json:"severity"`
	Description string          `json:"description"`
}

// ReviewVerdict is one reviewer's output for one iteration.
type ReviewVerdict struct {
	Reviewer  string          `json:"reviewer"`
	Verdict   Verdict         `json:"verdict"`
	Findings  []ReviewFinding `json:"findings,omitempty"`
	Iteration int             `json:"iteration"`
	RawOutput string          `json:"-"`
}
