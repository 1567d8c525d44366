package daemon

import (
	"net/http"
	"time"
)

// healthStatus is the /healthz payload.
type healthStatus struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Project       string `json:"project,omitempty"`
	Version       string `json:"version,omitempty"`
}

// Version is stamped at build time via -ldflags.
var Version = "dev"

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, healthStatus{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(d.startedAt).Seconds()),
		Project:       d.Config().Project.Name,
		Version:       Version,
	})
}
