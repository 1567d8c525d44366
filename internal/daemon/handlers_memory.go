package daemon

import (
	"net/http"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/logfields"
	"git.home.luguber.info/inful/stratus/internal/memory"
)

// handleMemorySave ingests one observation. Hook-origin writes are
// best-effort: failures are logged and answered with ok=false so the
// assistant's workflow never blocks on the daemon.
func (d *Daemon) handleMemorySave(w http.ResponseWriter, r *http.Request) {
	var event memory.Event
	if err := decodeJSON(r, &event); err != nil {
		d.logger.Warn("memory save rejected", logfields.Error(err))
		_ = writeJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}
	if event.Text == "" {
		_ = writeJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}

	id, err := d.memory.SaveEvent(r.Context(), event)
	if err != nil {
		d.logger.Warn("memory save failed", logfields.Error(err))
		_ = writeJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}
	d.recorder.IncMemoryEvent(string(event.Type))
	_ = writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (d *Daemon) handleMemorySearch(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query().Get("query")
	if query == "" {
		return derrors.Validation("query parameter required")
	}
	filter := memory.SearchFilter{
		Type:    memory.EventType(r.URL.Query().Get("type")),
		Project: r.URL.Query().Get("project"),
		Limit:   queryInt(r, "limit", 20),
	}
	events, err := d.memory.Search(r.Context(), query, filter)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (d *Daemon) handleMemoryTimeline(w http.ResponseWriter, r *http.Request) error {
	anchor := int64(queryInt(r, "anchor", 0))
	if anchor <= 0 {
		return derrors.Validation("anchor parameter required")
	}
	events, err := d.memory.Timeline(r.Context(), anchor,
		queryInt(r, "before", 5), queryInt(r, "after", 5),
		r.URL.Query().Get("project"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (d *Daemon) handleMemoryObservations(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if len(req.IDs) == 0 {
		return derrors.Validation("ids required")
	}
	events, err := d.memory.GetEvents(r.Context(), req.IDs)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (d *Daemon) handleSessionInit(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		SessionID     string `json:"session_id"`
		Project       string `json:"project"`
		InitialPrompt string `json:"initial_prompt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	session, err := d.memory.InitSession(r.Context(), req.SessionID, req.Project, req.InitialPrompt)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, session)
}

func (d *Daemon) handleSessionList(w http.ResponseWriter, r *http.Request) error {
	sessions, err := d.memory.ListSessions(r.Context(),
		queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}
