package learning

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/stratus/internal/config"
	"git.home.luguber.info/inful/stratus/internal/gitexec"
	"git.home.luguber.info/inful/stratus/internal/logfields"
	"git.home.luguber.info/inful/stratus/internal/memory"
)

// MemoryRecorder is the seam into the memory store for decision events.
type MemoryRecorder interface {
	SaveEvent(ctx context.Context, event memory.Event) (int64, error)
}

// proposalTypeToCategory picks the failure category whose rate a new
// artifact is expected to move.
var proposalTypeToCategory = map[ProposalType]FailureCategory{
	ProposalRule:         FailureLintError,
	ProposalADR:          FailureReviewFailure,
	ProposalTemplate:     FailureLintError,
	ProposalSkill:        FailureMissingTest,
	ProposalProjectGraph: FailureLintError,
}

// Engine runs the full learning pipeline: git analysis, syntactic analysis,
// heuristics, proposal generation, and decision handling.
type Engine struct {
	cfg    config.LearningConfig
	db     *DB
	git    *GitAnalyzer
	root   string
	memory MemoryRecorder
	logger *slog.Logger
}

// NewEngine wires the pipeline. memory may be nil; decision events are then
// skipped.
func NewEngine(cfg config.LearningConfig, db *DB, run gitexec.GitRunner, projectRoot string, recorder MemoryRecorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		db:     db,
		git:    NewGitAnalyzer(run, projectRoot),
		root:   projectRoot,
		memory: recorder,
		logger: logger,
	}
}

// CommitsSinceLastAnalysis reports how far HEAD has moved past the cursor,
// driving the periodic trigger.
func (e *Engine) CommitsSinceLastAnalysis(ctx context.Context) (int, error) {
	state, err := e.db.GetAnalysisState(ctx)
	if err != nil {
		return 0, err
	}
	return e.git.CommitsSince(ctx, state.LastCommit), nil
}

// Analyze runs one full pipeline pass over the window since sinceCommit
// (or the stored cursor when empty). A database younger than warmup_hours
// skips analysis so a fresh install does not fire proposals on day one.
func (e *Engine) Analyze(ctx context.Context, sinceCommit string) (AnalysisResult, error) {
	if skipped, err := e.inWarmup(ctx); err != nil {
		return AnalysisResult{}, err
	} else if skipped {
		return AnalysisResult{Skipped: "warmup"}, nil
	}

	start := time.Now()
	if sinceCommit == "" {
		state, err := e.db.GetAnalysisState(ctx)
		if err != nil {
			return AnalysisResult{}, err
		}
		sinceCommit = state.LastCommit
	}

	detections := e.git.AnalyzeChanges(ctx, sinceCommit)
	detections = append(detections, e.syntacticDetections(ctx, detections)...)
	commitCount := e.git.CommitsSince(ctx, sinceCommit)

	candidates, err := RunHeuristics(ctx, detections, e.db, e.cfg.CooldownDays)
	if err != nil {
		return AnalysisResult{}, err
	}
	for _, candidate := range candidates {
		if err := e.db.SaveCandidate(ctx, candidate); err != nil {
			return AnalysisResult{}, err
		}
	}

	generator := NewGenerator(e.db, e.cfg.MaxProposalsPerSession)
	proposals, err := generator.Generate(ctx, candidates, e.root, "")
	if err != nil {
		return AnalysisResult{}, err
	}
	for _, proposal := range proposals {
		if err := e.db.SaveProposal(ctx, proposal); err != nil {
			return AnalysisResult{}, err
		}
		if err := e.db.UpdateCandidateStatus(ctx, proposal.CandidateID, CandidateProposed); err != nil {
			return AnalysisResult{}, err
		}
	}

	// The cursor advances to the analyzed head so the next trigger counts
	// commits from here.
	if head := e.git.Head(ctx); head != "" {
		if err := e.db.UpdateAnalysisState(ctx, head, commitCount); err != nil {
			return AnalysisResult{}, err
		}
	}

	e.logger.Info("learning analysis complete",
		logfields.Count(len(detections)),
		slog.Int("candidates", len(candidates)),
		slog.Int("proposals", len(proposals)),
		logfields.DurationMS(float64(time.Since(start).Microseconds())/1000.0))

	return AnalysisResult{
		Detections:      detections,
		Candidates:      len(candidates),
		Proposals:       len(proposals),
		AnalyzedCommits: commitCount,
		AnalysisTimeMS:  time.Since(start).Milliseconds(),
	}, nil
}

func (e *Engine) inWarmup(ctx context.Context) (bool, error) {
	if e.cfg.WarmupHours <= 0 {
		return false, nil
	}
	created, err := e.db.CreatedAt(ctx)
	if err != nil || created == "" {
		return false, err
	}
	createdAt, parseErr := time.Parse(time.RFC3339Nano, created)
	if parseErr != nil {
		if createdAt, parseErr = time.Parse("2006-01-02T15:04:05.000Z", created); parseErr != nil {
			return false, nil
		}
	}
	return time.Since(createdAt) < time.Duration(e.cfg.WarmupHours)*time.Hour, nil
}

// syntacticDetections reads source files named by the git detections and
// aggregates repeated shapes across them.
func (e *Engine) syntacticDetections(ctx context.Context, gitDetections []Detection) []Detection {
	files := map[string]bool{}
	for _, detection := range gitDetections {
		for _, file := range detection.Files {
			if parsableSource(file) {
				files[file] = true
			}
		}
	}
	if len(files) == 0 {
		return nil
	}

	shapesByFile := map[string]FileShapes{}
	for file := range files {
		source, err := os.ReadFile(filepath.Join(e.root, file))
		if err != nil {
			continue
		}
		if len(source) > maxSourceBytes {
			e.logger.Debug("skipping oversized source file", logfields.Path(file))
			continue
		}
		shapesByFile[file] = ExtractShapes(ctx, file, source)
	}
	return FindRepeatedPatterns(shapesByFile)
}

func parsableSource(file string) bool {
	switch {
	case strings.HasSuffix(file, ".py"),
		strings.HasSuffix(file, ".ts"), strings.HasSuffix(file, ".tsx"),
		strings.HasSuffix(file, ".js"), strings.HasSuffix(file, ".jsx"):
		return true
	}
	return false
}

// Proposals returns pending proposals above the confidence floor.
func (e *Engine) Proposals(ctx context.Context, maxCount int, minConfidence float64) ([]Proposal, error) {
	if maxCount <= 0 {
		maxCount = e.cfg.MaxProposalsPerSession
	}
	return e.db.ListProposals(ctx, ProposalPending, minConfidence, maxCount)
}

// DecisionResult reports the outcome of Decide.
type DecisionResult struct {
	ProposalID     string   `json:"proposal_id"`
	Decision       Decision `json:"decision"`
	ArtifactPath   string   `json:"artifact_path,omitempty"`
	AlreadyDecided bool     `json:"already_decided,omitempty"`
}

// Decide records a verdict on a proposal. Accepting writes the artifact and
// snapshots a rule baseline. Deciding an already-decided proposal returns
// the prior outcome without side effects.
func (e *Engine) Decide(ctx context.Context, proposalID string, decision Decision, editedContent string) (DecisionResult, error) {
	proposal, applied, err := e.db.DecideProposal(ctx, proposalID, decision, editedContent)
	if err != nil {
		return DecisionResult{}, err
	}
	if !applied {
		return DecisionResult{
			ProposalID:     proposalID,
			Decision:       proposal.Decision,
			ArtifactPath:   proposal.ProposedPath,
			AlreadyDecided: true,
		}, nil
	}

	result := DecisionResult{ProposalID: proposalID, Decision: decision}
	if decision == DecisionAccept {
		artifactPath, err := CreateArtifact(proposal, e.root, editedContent)
		if err != nil {
			return DecisionResult{}, err
		}
		result.ArtifactPath = artifactPath

		category, ok := proposalTypeToCategory[proposal.Type]
		if !ok {
			category = FailureLintError
		}
		if _, err := e.db.SnapshotBaseline(ctx, proposalID, artifactPath, category, 30); err != nil {
			e.logger.Warn("baseline snapshot failed",
				logfields.ProposalID(proposalID), logfields.Error(err))
		}
	}

	if err := e.db.UpdateCandidateStatus(ctx, proposal.CandidateID, CandidateDecided); err != nil {
		e.logger.Warn("candidate status update failed",
			logfields.ProposalID(proposalID), logfields.Error(err))
	}

	e.recordDecisionEvent(ctx, proposal, decision, result.ArtifactPath)
	return result, nil
}

// recordDecisionEvent writes a memory event for the decision, best-effort.
func (e *Engine) recordDecisionEvent(ctx context.Context, proposal Proposal, decision Decision, artifactPath string) {
	if e.memory == nil {
		return
	}
	eventType := memory.EventRejectedPattern
	importance := 0.5
	if decision == DecisionAccept {
		eventType = memory.EventLearningDecision
		importance = 0.7
	}
	event := memory.NewEvent(eventType,
		"Learning decision: "+string(decision)+" — "+proposal.Title)
	event.Actor = memory.ActorHook
	event.Importance = importance
	event.Tags = []string{"learning", string(decision), string(proposal.Type)}
	event.Refs = map[string]string{"proposal_id": proposal.ID}
	if artifactPath != "" {
		event.Refs["artifact_path"] = artifactPath
	}
	if _, err := e.memory.SaveEvent(ctx, event); err != nil {
		e.logger.Warn("decision memory event failed",
			logfields.ProposalID(proposal.ID), logfields.Error(err))
	}
}

// Stats exposes database counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.db.GetStats(ctx)
}

// DB exposes the underlying database for analytics endpoints.
func (e *Engine) DB() *DB { return e.db }
