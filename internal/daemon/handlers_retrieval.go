package daemon

import (
	"net/http"
	"time"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/logfields"
	"git.home.luguber.info/inful/stratus/internal/metrics"
	"git.home.luguber.info/inful/stratus/internal/retrieval"
)

// retrievalStatus is the /api/retrieval/status payload.
type retrievalStatus struct {
	Code       retrieval.Status     `json:"code"`
	EmbedCache retrieval.CacheStats `json:"embed_cache"`
	Governance struct {
		Enabled     bool `json:"enabled"`
		TotalFiles  int  `json:"total_files"`
		TotalChunks int  `json:"total_chunks"`
	} `json:"governance"`
}

func (d *Daemon) handleRetrievalStatus(w http.ResponseWriter, r *http.Request) error {
	cfg := d.Config().Retrieval
	status := retrievalStatus{}

	if cfg.CodeEnabled {
		code, err := d.codeClient.Show(r.Context())
		if err != nil {
			// An unreachable binary is a degraded status, not a failure.
			d.logger.Debug("code backend status unavailable", logfields.Error(err))
		} else {
			code.Stale = retrieval.CheckStaleness(d.dataDir, d.projectRoot)
			status.Code = code
		}
	}

	if stats, err := d.embedCache.Stats(r.Context()); err == nil {
		status.EmbedCache = stats
	}

	status.Governance.Enabled = cfg.GovernanceEnabled
	if cfg.GovernanceEnabled {
		if stats, err := d.governance.GetStats(r.Context()); err == nil {
			status.Governance.TotalFiles = stats.TotalFiles
			status.Governance.TotalChunks = stats.TotalChunks
		}
	}
	return writeJSON(w, http.StatusOK, status)
}

func (d *Daemon) handleRetrievalSearch(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Query  string `json:"query"`
		Corpus string `json:"corpus"`
		TopK   int    `json:"top_k"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Query == "" {
		return derrors.Validation("query required")
	}

	start := time.Now()
	response, err := d.retriever.Retrieve(r.Context(), req.Query,
		retrieval.Corpus(req.Corpus), req.TopK)
	d.recorder.ObserveSearchDuration(string(response.Corpus), time.Since(start))
	if err != nil {
		d.recorder.IncSearch(string(response.Corpus), metrics.ResultError)
		if derrors.IsCategory(err, derrors.CategoryBackend) {
			d.recorder.IncBackendUnavailable("code")
			// Single-corpus search against a missing backend yields an
			// empty result set rather than an error.
			d.logger.Warn("search backend unavailable",
				logfields.Corpus(string(response.Corpus)), logfields.Error(err))
			return writeJSON(w, http.StatusOK, response)
		}
		return err
	}
	d.recorder.IncSearch(string(response.Corpus), metrics.ResultSuccess)
	return writeJSON(w, http.StatusOK, response)
}

func (d *Daemon) handleRetrievalIndex(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Full bool `json:"full"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			return err
		}
	}

	result := map[string]any{}
	cfg := d.Config().Retrieval

	if cfg.GovernanceEnabled {
		indexResult, err := d.governance.IndexProject(r.Context(), d.projectRoot)
		if err != nil {
			return err
		}
		if stats, err := d.governance.GetStats(r.Context()); err == nil {
			d.recorder.SetIndexedChunks(stats.TotalChunks)
		}
		result["governance"] = indexResult
	}
	if cfg.CodeEnabled {
		var (
			output  string
			skipped bool
			err     error
		)
		if req.Full {
			output, err = d.codeClient.Reindex(r.Context(), true)
		} else {
			changed := retrieval.ChangedFiles(d.projectRoot,
				retrieval.ReadIndexState(d.dataDir).LastIndexedCommit)
			output, skipped, err = d.codeClient.ReindexIncremental(r.Context(), changed)
		}
		if err != nil {
			d.recorder.IncBackendUnavailable("code")
			d.logger.Warn("code reindex failed", logfields.Error(err))
			result["code_error"] = err.Error()
		} else {
			if skipped {
				output = "index up to date"
			}
			result["code"] = output
			result["code_skipped"] = skipped
			state := retrieval.ReadIndexState(d.dataDir)
			state.LastIndexedCommit = retrieval.CurrentHead(d.projectRoot)
			state.LastIndexedAt = time.Now().UTC().Format(time.RFC3339)
			if err := retrieval.WriteIndexState(d.dataDir, state); err != nil {
				d.logger.Warn("index state write failed", logfields.Error(err))
			}
		}
	}
	return writeJSON(w, http.StatusOK, result)
}

func (d *Daemon) handleEmbedCacheStats(w http.ResponseWriter, r *http.Request) error {
	stats, err := d.embedCache.Stats(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, stats)
}
