package orchestration

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	verdictRe = regexp.MustCompile(`(?i)verdict\s*:\s*(pass|fail)`)
	findingRe = regexp.MustCompile(`(?im)^\s*-\s*(must_fix|should_fix|suggestion)\s*:\s*(.+)$`)
	// A finding body may lead with "path/to/file.ext:42 — description".
	fileRe = regexp.MustCompile(`^([\w./\\-]+\.\w+)(?::(\d+))?\s*(?:—|--)?\s*(.*)`)
)

// MalformedFinding is the synthetic must_fix description attached when a
// reviewer's output carries no verdict line at all.
const MalformedFinding = "reviewer_output_malformed"

// ParseVerdict extracts a ReviewVerdict from free-form reviewer output. The
// contract is strict: a line matching `Verdict: PASS|FAIL` (case-insensitive)
// plus `- severity: body` finding lines; everything else is ignored. Output
// with no verdict line fails with a synthetic must_fix finding so a broken
// reviewer can never wave a spec through.
func ParseVerdict(output, reviewer string, iteration int) ReviewVerdict {
	result := ReviewVerdict{
		Reviewer:  reviewer,
		Iteration: iteration,
		RawOutput: output,
	}

	if match := verdictRe.FindStringSubmatch(output); match != nil {
		result.Verdict = VerdictFail
		if strings.EqualFold(match[1], "pass") {
			result.Verdict = VerdictPass
		}
	} else {
		result.Verdict = VerdictFail
		result.Findings = append(result.Findings, ReviewFinding{
			Severity:    SeverityMustFix,
			Description: MalformedFinding,
		})
	}

	for _, match := range findingRe.FindAllStringSubmatch(output, -1) {
		result.Findings = append(result.Findings,
			parseFinding(FindingSeverity(strings.ToLower(match[1])), match[2]))
	}
	return result
}

func parseFinding(severity FindingSeverity, body string) ReviewFinding {
	body = strings.TrimSpace(body)
	finding := ReviewFinding{Severity: severity, Description: body}

	if match := fileRe.FindStringSubmatch(body); match != nil && match[1] != "" {
		finding.FilePath = match[1]
		if match[2] != "" {
			finding.Line, _ = strconv.Atoi(match[2])
		}
		if description := strings.TrimSpace(match[3]); description != "" {
			finding.Description = description
		}
	}
	return finding
}

// AggregateResult summarizes one iteration's verdicts.
type AggregateResult struct {
	AllPassed       bool     `json:"all_passed"`
	FailedReviewers []string `json:"failed_reviewers,omitempty"`
	TotalFindings   int      `json:"total_findings"`
	MustFixCount    int      `json:"must_fix_count"`
	ShouldFixCount  int      `json:"should_fix_count"`
}

// Aggregate combines verdicts: passed iff every reviewer passed and nobody
// raised a must_fix.
func Aggregate(verdicts []ReviewVerdict) AggregateResult {
	result := AggregateResult{}
	for _, verdict := range verdicts {
		if verdict.Verdict == VerdictFail {
			result.FailedReviewers = append(result.FailedReviewers, verdict.Reviewer)
		}
		for _, finding := range verdict.Findings {
			result.TotalFindings++
			switch finding.Severity {
			case SeverityMustFix:
				result.MustFixCount++
			case SeverityShouldFix:
				result.ShouldFixCount++
			}
		}
	}
	result.AllPassed = len(result.FailedReviewers) == 0 && result.MustFixCount == 0
	return result
}

// NeedsFixLoop reports whether another fix iteration should run: the
// aggregate failed and the iteration budget is not exhausted.
func NeedsFixLoop(verdicts []ReviewVerdict, iteration, maxIterations int) bool {
	if len(verdicts) == 0 {
		return false
	}
	return !Aggregate(verdicts).AllPassed && iteration < maxIterations
}

// BuildFixInstructions renders findings as markdown grouped by file, for the
// fix iteration's working instructions. Findings with no file path group
// under "general". Empty when there is nothing to fix.
func BuildFixInstructions(verdicts []ReviewVerdict) string {
	grouped := map[string][]ReviewFinding{}
	for _, verdict := range verdicts {
		for _, finding := range verdict.Findings {
			key := finding.FilePath
			if key == "" {
				key = "general"
			}
			grouped[key] = append(grouped[key], finding)
		}
	}
	if len(grouped) == 0 {
		return ""
	}

	paths := make([]string, 0, len(grouped))
	for path := range grouped {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var builder strings.Builder
	for _, path := range paths {
		builder.WriteString("## " + path + "\n")
		for _, finding := range grouped[path] {
			builder.WriteString("- [" + string(finding.Severity) + "]")
			if finding.Line > 0 {
				builder.WriteString(" line " + strconv.Itoa(finding.Line) + ":")
			}
			builder.WriteString(" " + finding.Description + "\n")
		}
		builder.WriteString("\n")
	}
	return strings.TrimRight(builder.String(), "\n")
}
