package daemon

import (
	"net/http"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/orchestration"
)

func (d *Daemon) handleSpecState(w http.ResponseWriter, r *http.Request) error {
	if slug := r.URL.Query().Get("slug"); slug != "" {
		state, err := d.coordinator.State(slug)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, state)
	}
	states, err := d.coordinator.ActiveStates()
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"specs": states, "count": len(states)})
}

func (d *Daemon) handleSpecBusy(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, d.coordinator.IsBusy())
}

type specRequest struct {
	Slug     string   `json:"slug"`
	PlanPath string   `json:"plan_path,omitempty"`
	TaskNum  int      `json:"task_num,omitempty"`
	Total    int      `json:"total_tasks,omitempty"`
	Reviewer string   `json:"reviewer,omitempty"`
	Output   string   `json:"output,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Spec     string   `json:"spec,omitempty"`
	Files    []string `json:"affected_files,omitempty"`
}

func decodeSpecRequest(r *http.Request) (specRequest, error) {
	var req specRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if req.Slug == "" {
		return req, derrors.Validation("slug required")
	}
	return req, nil
}

func (d *Daemon) handleSpecStart(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeSpecRequest(r)
	if err != nil {
		return err
	}
	state, err := d.coordinator.Start(r.Context(), req.Slug, req.PlanPath)
	if err != nil {
		return err
	}
	d.recorder.IncSpecTransition(string(state.Phase))

	// Complexity assessment is advisory and pure: it classifies the spec
	// text without touching state.
	complexity := orchestration.AssessComplexity(req.Spec, req.Files)
	return writeJSON(w, http.StatusOK, map[string]any{
		"state":      state,
		"complexity": complexity,
	})
}

func (d *Daemon) handleSpecApprovePlan(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeSpecRequest(r)
	if err != nil {
		return err
	}
	state, err := d.coordinator.ApprovePlan(r.Context(), req.Slug, req.Total)
	if err != nil {
		return err
	}
	d.recorder.IncSpecTransition(string(state.Phase))
	return writeJSON(w, http.StatusOK, state)
}

func (d *Daemon) handleSpecStartTask(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeSpecRequest(r)
	if err != nil {
		return err
	}
	state, err := d.coordinator.StartTask(r.Context(), req.Slug, req.TaskNum)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, state)
}

func (d *Daemon) handleSpecCompleteTask(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeSpecRequest(r)
	if err != nil {
		return err
	}
	state, err := d.coordinator.CompleteTask(r.Context(), req.Slug, req.TaskNum)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, state)
}

func (d *Daemon) handleSpecStartVerify(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeSpecRequest(r)
	if err != nil {
		return err
	}
	state, err := d.coordinator.StartVerify(r.Context(), req.Slug)
	if err != nil {
		return err
	}
	d.recorder.IncSpecTransition(string(state.Phase))
	return writeJSON(w, http.StatusOK, state)
}

// handleSpecSubmitVerdict parses a reviewer's raw output into a structured
// verdict and appends it to the current iteration.
func (d *Daemon) handleSpecSubmitVerdict(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeSpecRequest(r)
	if err != nil {
		return err
	}
	if req.Reviewer == "" {
		return derrors.Validation("reviewer required")
	}
	verdict := orchestration.ParseVerdict(req.Output, req.Reviewer, 0)
	state, err := d.coordinator.SubmitVerdict(r.Context(), req.Slug, verdict)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"state":   state,
		"verdict": verdict,
	})
}

func (d *Daemon) handleSpecResolveVerify(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeSpecRequest(r)
	if err != nil {
		return err
	}
	outcome, err := d.coordinator.ResolveVerify(r.Context(), req.Slug)
	if err != nil {
		return err
	}
	d.recorder.IncSpecTransition(string(outcome.State.Phase))
	return writeJSON(w, http.StatusOK, outcome)
}

func (d *Daemon) handleSpecStartLearn(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeSpecRequest(r)
	if err != nil {
		return err
	}
	state, err := d.coordinator.StartLearn(r.Context(), req.Slug)
	if err != nil {
		return err
	}
	d.recorder.IncSpecTransition(string(state.Phase))
	return writeJSON(w, http.StatusOK, state)
}

func (d *Daemon) handleSpecComplete(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeSpecRequest(r)
	if err != nil {
		return err
	}
	state, err := d.coordinator.Complete(r.Context(), req.Slug)
	if err != nil {
		return err
	}
	d.recorder.IncSpecTransition(string(state.Phase))
	return writeJSON(w, http.StatusOK, state)
}

func (d *Daemon) handleSpecAbort(w http.ResponseWriter, r *http.Request) error {
	req, err := decodeSpecRequest(r)
	if err != nil {
		return err
	}
	state, err := d.coordinator.Abort(r.Context(), req.Slug, req.Reason)
	if err != nil {
		return err
	}
	d.recorder.IncSpecTransition(string(state.Phase))
	return writeJSON(w, http.StatusOK, state)
}
