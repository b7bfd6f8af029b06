// Package metrics provides the observability hooks for meterd.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no call site needs a nil check:
//
//	ctrl := lifecycle.New(mgr, lifecycle.WithRecorder(metrics.NoopRecorder{}))
//
// The daemon swaps in a PrometheusRecorder backed by its own registry and
// serves it on /metrics through HTTPHandler.
package metrics
