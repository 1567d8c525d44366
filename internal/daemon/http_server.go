package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/metrics"
)

// router builds the daemon's HTTP surface. All endpoints are JSON; hooks
// call the memory and analytics write endpoints best-effort, everything else
// returns typed errors through the adapter.
func (d *Daemon) router() http.Handler {
	adapter := derrors.NewHTTPErrorAdapter(d.logger)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.Handle("GET /metrics", metrics.HTTPHandler(d.registry))

	mux.HandleFunc("POST /api/memory/save", d.handleMemorySave)
	mux.HandleFunc("GET /api/memory/search", d.withError(adapter, d.handleMemorySearch))
	mux.HandleFunc("GET /api/memory/timeline", d.withError(adapter, d.handleMemoryTimeline))
	mux.HandleFunc("POST /api/memory/observations", d.withError(adapter, d.handleMemoryObservations))
	mux.HandleFunc("POST /api/sessions/init", d.withError(adapter, d.handleSessionInit))
	mux.HandleFunc("GET /api/sessions/list", d.withError(adapter, d.handleSessionList))

	mux.HandleFunc("GET /api/retrieval/status", d.withError(adapter, d.handleRetrievalStatus))
	mux.HandleFunc("POST /api/retrieval/search", d.withError(adapter, d.handleRetrievalSearch))
	mux.HandleFunc("POST /api/retrieval/index", d.withError(adapter, d.handleRetrievalIndex))
	mux.HandleFunc("GET /api/retrieval/embed-cache/stats", d.withError(adapter, d.handleEmbedCacheStats))

	mux.HandleFunc("POST /api/learning/analyze", d.withError(adapter, d.handleLearningAnalyze))
	mux.HandleFunc("GET /api/learning/proposals", d.withError(adapter, d.handleLearningProposals))
	mux.HandleFunc("POST /api/learning/decide", d.withError(adapter, d.handleLearningDecide))
	mux.HandleFunc("GET /api/learning/stats", d.withError(adapter, d.handleLearningStats))
	mux.HandleFunc("GET /api/learning/config", d.withError(adapter, d.handleLearningConfig))
	mux.HandleFunc("POST /api/learning/failures", d.handleFailureRecord)
	mux.HandleFunc("GET /api/learning/analytics/failures", d.withError(adapter, d.handleAnalyticsFailures))
	mux.HandleFunc("GET /api/learning/analytics/hotspots", d.withError(adapter, d.handleAnalyticsHotspots))
	mux.HandleFunc("GET /api/learning/analytics/trend", d.withError(adapter, d.handleAnalyticsTrend))
	mux.HandleFunc("GET /api/learning/analytics/rules", d.withError(adapter, d.handleAnalyticsRules))

	mux.HandleFunc("GET /api/orchestration/state", d.withError(adapter, d.handleSpecState))
	mux.HandleFunc("GET /api/orchestration/busy", d.withError(adapter, d.handleSpecBusy))
	mux.HandleFunc("POST /api/orchestration/start", d.withError(adapter, d.handleSpecStart))
	mux.HandleFunc("POST /api/orchestration/approve_plan", d.withError(adapter, d.handleSpecApprovePlan))
	mux.HandleFunc("POST /api/orchestration/start_task", d.withError(adapter, d.handleSpecStartTask))
	mux.HandleFunc("POST /api/orchestration/complete_task", d.withError(adapter, d.handleSpecCompleteTask))
	mux.HandleFunc("POST /api/orchestration/start_verify", d.withError(adapter, d.handleSpecStartVerify))
	mux.HandleFunc("POST /api/orchestration/submit_verdict", d.withError(adapter, d.handleSpecSubmitVerdict))
	mux.HandleFunc("POST /api/orchestration/resolve_verify", d.withError(adapter, d.handleSpecResolveVerify))
	mux.HandleFunc("POST /api/orchestration/start_learn", d.withError(adapter, d.handleSpecStartLearn))
	mux.HandleFunc("POST /api/orchestration/complete", d.withError(adapter, d.handleSpecComplete))
	mux.HandleFunc("POST /api/orchestration/abort", d.withError(adapter, d.handleSpecAbort))

	return chain(d.logger, adapter, d.recorder, mux)
}

// errorHandler is a handler that may fail with a typed error.
type errorHandler func(w http.ResponseWriter, r *http.Request) error

// withError adapts an errorHandler into a plain HandlerFunc via the error
// adapter.
func (d *Daemon) withError(adapter *derrors.HTTPErrorAdapter, fn errorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			adapter.WriteError(w, err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// decodeJSON parses a request body into target, mapping malformed bodies to
// a validation error.
func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return derrors.Validation("malformed request body").WithContext("cause", err.Error())
	}
	return nil
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// queryFloat parses a float query parameter with a default.
func queryFloat(r *http.Request, key string, fallback float64) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
