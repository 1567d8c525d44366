package daemon

import (
	"net/http"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/learning"
	"git.home.luguber.info/inful/stratus/internal/logfields"
	"git.home.luguber.info/inful/stratus/internal/metrics"
)

func (d *Daemon) handleLearningAnalyze(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		SinceCommit string `json:"since_commit"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			return err
		}
	}
	if !d.Config().Learning.GlobalEnabled {
		return derrors.State("learning is disabled; enable learning.global_enabled")
	}

	result, err := d.engine.Analyze(r.Context(), req.SinceCommit)
	if err != nil {
		d.recorder.IncLearningRun(metrics.ResultError)
		return err
	}
	if result.Skipped != "" {
		d.recorder.IncLearningRun(metrics.ResultSkipped)
	} else {
		d.recorder.IncLearningRun(metrics.ResultSuccess)
	}
	return writeJSON(w, http.StatusOK, result)
}

func (d *Daemon) handleLearningProposals(w http.ResponseWriter, r *http.Request) error {
	cfg := d.Config().Learning
	proposals, err := d.engine.Proposals(r.Context(),
		queryInt(r, "max_count", cfg.MaxProposalsPerSession),
		queryFloat(r, "min_confidence", cfg.MinConfidence()))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"proposals": proposals,
		"count":     len(proposals),
	})
}

func (d *Daemon) handleLearningDecide(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		ProposalID    string `json:"proposal_id"`
		Decision      string `json:"decision"`
		EditedContent string `json:"edited_content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.ProposalID == "" {
		return derrors.Validation("proposal_id required")
	}
	if !learning.ValidDecision(req.Decision) {
		return derrors.Validation("unknown decision: " + req.Decision)
	}

	result, err := d.engine.Decide(r.Context(), req.ProposalID,
		learning.Decision(req.Decision), req.EditedContent)
	if err != nil {
		return err
	}
	if !result.AlreadyDecided {
		d.recorder.IncProposalDecision(req.Decision)
	}
	return writeJSON(w, http.StatusOK, result)
}

func (d *Daemon) handleLearningStats(w http.ResponseWriter, r *http.Request) error {
	stats, err := d.engine.Stats(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, stats)
}

func (d *Daemon) handleLearningConfig(w http.ResponseWriter, r *http.Request) error {
	cfg := d.Config().Learning
	return writeJSON(w, http.StatusOK, map[string]any{
		"global_enabled":            cfg.GlobalEnabled,
		"sensitivity":               cfg.Sensitivity,
		"min_confidence":            cfg.MinConfidence(),
		"max_proposals_per_session": cfg.MaxProposalsPerSession,
		"cooldown_days":             cfg.CooldownDays,
		"warmup_hours":              cfg.WarmupHours,
		"commits_per_trigger":       cfg.CommitsPerTrigger,
	})
}

// handleFailureRecord ingests a hook-observed failure event. Best-effort
// like memory saves: malformed or failing writes answer ok=false, never an
// error status.
func (d *Daemon) handleFailureRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
		FilePath string `json:"file_path"`
		Detail   string `json:"detail"`
	}
	if err := decodeJSON(r, &req); err != nil || !learning.ValidFailureCategory(req.Category) {
		_ = writeJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}

	event := learning.NewFailureEvent(learning.FailureCategory(req.Category),
		req.FilePath, req.Detail)
	signature, err := d.engine.DB().RecordFailure(r.Context(), event)
	if err != nil {
		d.logger.Warn("failure record failed", logfields.Error(err))
		_ = writeJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{"ok": true, "signature": signature})
}

func (d *Daemon) handleAnalyticsFailures(w http.ResponseWriter, r *http.Request) error {
	summary, err := d.engine.DB().ComputeFailureSummary(r.Context(), queryInt(r, "days", 7))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, summary)
}

func (d *Daemon) handleAnalyticsHotspots(w http.ResponseWriter, r *http.Request) error {
	hotspots, err := d.engine.DB().ComputeFileHotspots(r.Context(),
		queryInt(r, "days", 7), queryInt(r, "limit", 10))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"hotspots": hotspots})
}

func (d *Daemon) handleAnalyticsTrend(w http.ResponseWriter, r *http.Request) error {
	trend, err := d.engine.DB().ComputeFailureTrends(r.Context(),
		queryInt(r, "days", 14),
		learning.FailureCategory(r.URL.Query().Get("category")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"trend": trend})
}

func (d *Daemon) handleAnalyticsRules(w http.ResponseWriter, r *http.Request) error {
	effectiveness, err := d.engine.DB().ComputeAllRuleEffectiveness(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"rules": effectiveness})
}
