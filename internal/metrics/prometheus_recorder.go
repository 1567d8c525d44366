package metrics

import (
	"strconv"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once               sync.Once
	requestDuration    *prom.HistogramVec
	searchDuration     *prom.HistogramVec
	searches           *prom.CounterVec
	backendUnavailable *prom.CounterVec
	memoryEvents       *prom.CounterVec
	specTransitions    *prom.CounterVec
	learningRuns       *prom.CounterVec
	proposalDecisions  *prom.CounterVec
	indexedChunks      prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.requestDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "stratus",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route and status",
			Buckets:   prom.DefBuckets,
		}, []string{"route", "status"})
		pr.searchDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "stratus",
			Name:      "search_duration_seconds",
			Help:      "Retrieval search duration by corpus",
			Buckets:   prom.DefBuckets,
		}, []string{"corpus"})
		pr.searches = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stratus",
			Name:      "searches_total",
			Help:      "Retrieval searches by corpus and result",
		}, []string{"corpus", "result"})
		pr.backendUnavailable = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stratus",
			Name:      "backend_unavailable_total",
			Help:      "Degraded-backend occurrences by backend",
		}, []string{"backend"})
		pr.memoryEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stratus",
			Name:      "memory_events_total",
			Help:      "Memory events saved by type",
		}, []string{"type"})
		pr.specTransitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stratus",
			Name:      "spec_transitions_total",
			Help:      "Spec phase transitions by target phase",
		}, []string{"phase"})
		pr.learningRuns = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stratus",
			Name:      "learning_runs_total",
			Help:      "Learning analysis runs by result",
		}, []string{"result"})
		pr.proposalDecisions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stratus",
			Name:      "proposal_decisions_total",
			Help:      "Proposal decisions by outcome",
		}, []string{"decision"})
		pr.indexedChunks = prom.NewGauge(prom.GaugeOpts{
			Namespace: "stratus",
			Name:      "governance_indexed_chunks",
			Help:      "Chunks currently in the governance index",
		})
		reg.MustRegister(pr.requestDuration, pr.searchDuration, pr.searches,
			pr.backendUnavailable, pr.memoryEvents, pr.specTransitions,
			pr.learningRuns, pr.proposalDecisions, pr.indexedChunks)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveRequestDuration(route string, status int, d time.Duration) {
	if p == nil || p.requestDuration == nil {
		return
	}
	p.requestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveSearchDuration(corpus string, d time.Duration) {
	if p == nil || p.searchDuration == nil {
		return
	}
	p.searchDuration.WithLabelValues(corpus).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncSearch(corpus string, result ResultLabel) {
	if p == nil || p.searches == nil {
		return
	}
	p.searches.WithLabelValues(corpus, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBackendUnavailable(backend string) {
	if p == nil || p.backendUnavailable == nil {
		return
	}
	p.backendUnavailable.WithLabelValues(backend).Inc()
}

func (p *PrometheusRecorder) IncMemoryEvent(eventType string) {
	if p == nil || p.memoryEvents == nil {
		return
	}
	p.memoryEvents.WithLabelValues(eventType).Inc()
}

func (p *PrometheusRecorder) IncSpecTransition(phase string) {
	if p == nil || p.specTransitions == nil {
		return
	}
	p.specTransitions.WithLabelValues(phase).Inc()
}

func (p *PrometheusRecorder) IncLearningRun(result ResultLabel) {
	if p == nil || p.learningRuns == nil {
		return
	}
	p.learningRuns.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncProposalDecision(decision string) {
	if p == nil || p.proposalDecisions == nil {
		return
	}
	p.proposalDecisions.WithLabelValues(decision).Inc()
}

func (p *PrometheusRecorder) SetIndexedChunks(n int) {
	if p == nil || p.indexedChunks == nil {
		return
	}
	p.indexedChunks.Set(float64(n))
}
