package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveRequestDuration("/api/memory/save", 200, time.Millisecond)
	r.IncSearch("hybrid", ResultSuccess)
	r.IncBackendUnavailable("vexor")
	r.SetIndexedChunks(42)
}

func TestPrometheusRecorderRegisters(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.ObserveRequestDuration("/api/retrieval/search", 200, 5*time.Millisecond)
	r.ObserveSearchDuration("governance", 2*time.Millisecond)
	r.IncSearch("governance", ResultSuccess)
	r.IncBackendUnavailable("vexor")
	r.IncMemoryEvent("decision")
	r.IncSpecTransition("implementing")
	r.IncLearningRun(ResultSuccess)
	r.IncProposalDecision("accept")
	r.SetIndexedChunks(7)

	families, err := reg.Gather()
	assert.NoError(t, err)
	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["stratus_http_request_duration_seconds"])
	assert.True(t, names["stratus_searches_total"])
	assert.True(t, names["stratus_governance_indexed_chunks"])
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var r *PrometheusRecorder
	r.ObserveRequestDuration("x", 500, time.Second)
	r.IncLearningRun(ResultError)
	r.SetIndexedChunks(0)
}
