package metrics

import "time"

// ResultLabel enumerates operation result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultError   ResultLabel = "error"
	ResultSkipped ResultLabel = "skipped"
)

// Recorder defines observability hooks for daemon operations. Implementations
// may forward to Prometheus or anything else; all methods must be safe on the
// zero value so injection stays optional.
type Recorder interface {
	ObserveRequestDuration(route string, status int, d time.Duration)
	ObserveSearchDuration(corpus string, d time.Duration)
	IncSearch(corpus string, result ResultLabel)
	IncBackendUnavailable(backend string)
	IncMemoryEvent(eventType string)
	IncSpecTransition(phase string)
	IncLearningRun(result ResultLabel)
	IncProposalDecision(decision string)
	SetIndexedChunks(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRequestDuration(string, int, time.Duration) {}
func (NoopRecorder) ObserveSearchDuration(string, time.Duration)       {}
func (NoopRecorder) IncSearch(string, ResultLabel)                     {}
func (NoopRecorder) IncBackendUnavailable(string)                      {}
func (NoopRecorder) IncMemoryEvent(string)                             {}
func (NoopRecorder) IncSpecTransition(string)                          {}
func (NoopRecorder) IncLearningRun(ResultLabel)                        {}
func (NoopRecorder) IncProposalDecision(string)                        {}
func (NoopRecorder) SetIndexedChunks(int)                              {}
