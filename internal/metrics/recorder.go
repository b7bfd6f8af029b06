package metrics

import "time"

// ResultLabel enumerates command result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultRejected ResultLabel = "rejected"
)

// ResultFor maps a success flag to a result label.
func ResultFor(ok bool) ResultLabel {
	if ok {
		return ResultSuccess
	}
	return ResultFailed
}

// Recorder defines observability hooks for the command lifecycle and the
// forward proxy. Implementations may forward to Prometheus, OpenTelemetry,
// etc. All methods must be safe for nil receivers when using the
// NoopRecorder (allowing optional injection).
type Recorder interface {
	IncCommand(verb string, result ResultLabel)
	ObserveCommandDuration(verb string, d time.Duration)
	IncCapabilityCall(op string, ok bool)
	SetManagerState(rank int)
	IncStatusEvent(kind string)
	IncForward(verb, delivery string, result ResultLabel)
	IncDispatchError(delivery string)
	SetRunningSeconds(s float64)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncCommand(string, ResultLabel)              {}
func (NoopRecorder) ObserveCommandDuration(string, time.Duration) {}
func (NoopRecorder) IncCapabilityCall(string, bool)              {}
func (NoopRecorder) SetManagerState(int)                         {}
func (NoopRecorder) IncStatusEvent(string)                       {}
func (NoopRecorder) IncForward(string, string, ResultLabel)      {}
func (NoopRecorder) IncDispatchError(string)                     {}
func (NoopRecorder) SetRunningSeconds(float64)                   {}
