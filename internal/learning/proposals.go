package learning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/stratus/internal/frontmatter"
)

// detectionToProposal selects the artifact kind per detection type: repeated
// code and import/config/fix patterns become rules, structural shifts become
// decision records, test gaps become skills, doc gaps become templates, and
// detected services update the project graph.
var detectionToProposal = map[DetectionType]ProposalType{
	DetectionCodePattern:      ProposalRule,
	DetectionFixPattern:       ProposalRule,
	DetectionImportPattern:    ProposalRule,
	DetectionConfigPattern:    ProposalRule,
	DetectionStructuralChange: ProposalADR,
	DetectionTestGap:          ProposalSkill,
	DetectionDocGap:           ProposalTemplate,
	DetectionServiceDetected:  ProposalProjectGraph,
}

var titlePrefixes = map[DetectionType]string{
	DetectionCodePattern:      "Add rule",
	DetectionStructuralChange: "Record decision",
	DetectionFixPattern:       "Add guideline",
	DetectionImportPattern:    "Standardize imports",
	DetectionConfigPattern:    "Add config rule",
	DetectionServiceDetected:  "Update project graph",
	DetectionTestGap:          "Add test skill",
	DetectionDocGap:           "Add template",
}

func proposalTypeFor(detectionType DetectionType) ProposalType {
	if t, ok := detectionToProposal[detectionType]; ok {
		return t
	}
	return ProposalRule
}

// GenerateTitle builds a deterministic title from the candidate.
func GenerateTitle(candidate PatternCandidate) string {
	prefix, ok := titlePrefixes[candidate.DetectionType]
	if !ok {
		prefix = "Add rule"
	}
	desc := candidate.Description
	if len(desc) > 50 {
		desc = desc[:47] + "..."
	}
	return prefix + ": " + desc
}

// buildProposedContent renders the full artifact body: yaml frontmatter
// identifying the proposal, followed by the pattern evidence.
func buildProposedContent(candidate PatternCandidate, proposalID string) string {
	fields := frontmatter.Fields{
		"name":        GenerateTitle(candidate),
		"description": candidate.Description,
		"tags":        []any{"learning", string(candidate.DetectionType)},
		"source":      "learning",
		"proposal_id": proposalID,
		"fingerprint": candidate.DescriptionHash,
	}

	var body strings.Builder
	fmt.Fprintf(&body, "\n%s\n\n", candidate.Description)
	fmt.Fprintf(&body, "Observed %d times across %d files.\n\n",
		candidate.Count, len(candidate.Files))
	if len(candidate.Files) > 0 {
		body.WriteString("Files involved:\n")
		limit := len(candidate.Files)
		if limit > 10 {
			limit = 10
		}
		for _, file := range candidate.Files[:limit] {
			fmt.Fprintf(&body, "- %s\n", file)
		}
		body.WriteString("\n")
	}
	if len(candidate.Instances) > 0 {
		body.WriteString("Example instances:\n")
		limit := len(candidate.Instances)
		if limit > 5 {
			limit = 5
		}
		for _, inst := range candidate.Instances[:limit] {
			fmt.Fprintf(&body, "- %s\n", formatInstance(inst))
		}
	}

	out, err := frontmatter.Compose(fields, []byte(body.String()))
	if err != nil {
		return body.String()
	}
	return string(out)
}

func formatInstance(inst map[string]any) string {
	keys := make([]string, 0, len(inst))
	for key := range inst {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", key, inst[key]))
	}
	return strings.Join(pairs, " ")
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "in": true, "of": true,
	"and": true, "or": true, "is": true, "to": true, "for": true,
	"pattern": true, "repeated": true,
}

// ruleAlreadyCovers reports whether an existing rule file matches the
// candidate, either by an identical frontmatter fingerprint or by keyword
// overlap above one half.
func ruleAlreadyCovers(candidate PatternCandidate, rulesDir string) bool {
	entries, err := os.ReadDir(rulesDir)
	if err != nil {
		return false
	}

	keywords := map[string]bool{}
	for _, word := range strings.Fields(strings.ToLower(candidate.Description)) {
		if !stopWords[word] {
			keywords[word] = true
		}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(rulesDir, entry.Name()))
		if err != nil {
			continue
		}
		if fp := frontmatter.Fingerprint(content); fp != "" && fp == candidate.DescriptionHash {
			return true
		}
		if len(keywords) == 0 {
			continue
		}
		lower := strings.ToLower(string(content))
		matches := 0
		for word := range keywords {
			if strings.Contains(lower, word) {
				matches++
			}
		}
		if float64(matches)/float64(len(keywords)) > 0.5 {
			return true
		}
	}
	return false
}

// Generator turns scored candidates into proposals under the per-session
// quota.
type Generator struct {
	db           *DB
	maxProposals int
}

// NewGenerator builds a proposal generator. maxProposals caps one session.
func NewGenerator(db *DB, maxProposals int) *Generator {
	if maxProposals <= 0 {
		maxProposals = 3
	}
	return &Generator{db: db, maxProposals: maxProposals}
}

// Generate produces at most maxProposals proposals, deduplicating by
// fingerprint within the batch and against existing rule files.
func (g *Generator) Generate(ctx context.Context, candidates []PatternCandidate, projectRoot, sessionID string) ([]Proposal, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	rulesDir := filepath.Join(projectRoot, ".claude", "rules")

	quota := g.maxProposals
	if sessionID != "" {
		used, err := g.db.CountSessionProposals(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		quota -= used
		if quota <= 0 {
			return nil, nil
		}
	}

	proposals := []Proposal{}
	seen := map[string]bool{}
	for _, candidate := range candidates {
		hash := candidate.DescriptionHash
		if hash == "" {
			hash = DescriptionHash(candidate.Description)
		}
		if seen[hash] {
			continue
		}
		seen[hash] = true

		if ruleAlreadyCovers(candidate, rulesDir) {
			continue
		}

		proposalType := proposalTypeFor(candidate.DetectionType)
		id := uuid.NewString()
		proposal := Proposal{
			ID:              id,
			CandidateID:     candidate.ID,
			Type:            proposalType,
			Title:           GenerateTitle(candidate),
			Description:     candidate.Description,
			ProposedContent: buildProposedContent(candidate, id),
			Confidence:      candidate.ConfidenceFinal,
			Status:          ProposalPending,
			SessionID:       sessionID,
		}
		if projectRoot != "" {
			proposal.ProposedPath = ArtifactPath(proposal, projectRoot)
		}
		proposals = append(proposals, proposal)

		if len(proposals) >= quota {
			break
		}
	}
	return proposals, nil
}
