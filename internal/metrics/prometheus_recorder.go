package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "meterd"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	commands        *prom.CounterVec
	commandDuration *prom.HistogramVec
	capabilityCalls *prom.CounterVec
	managerState    prom.Gauge
	statusEvents    *prom.CounterVec
	forwards        *prom.CounterVec
	dispatchErrors  *prom.CounterVec
	runningSeconds  prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.commands = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Lifecycle commands handled, by verb and result",
		}, []string{"verb", "result"})
		pr.commandDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent handling a lifecycle command, capability calls included",
			Buckets:   prom.DefBuckets,
		}, []string{"verb"})
		pr.capabilityCalls = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "capability_calls_total",
			Help:      "Manager capability calls by operation and result",
		}, []string{"op", "result"})
		pr.managerState = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "manager_state",
			Help:      "Derived manager state (0=missing 1=created 2=initialised 3=running)",
		})
		pr.statusEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "status_events_total",
			Help:      "Status channel events published, by kind",
		}, []string{"kind"})
		pr.forwards = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "forwards_total",
			Help:      "Forward requests by inbound verb, delivery mode and result",
		}, []string{"verb", "delivery", "result"})
		pr.dispatchErrors = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Outbound message dispatch failures by delivery mode",
		}, []string{"delivery"})
		pr.runningSeconds = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "running_seconds",
			Help:      "Running time of the manager at the last indicator refresh",
		})
		reg.MustRegister(pr.commands, pr.commandDuration, pr.capabilityCalls, pr.managerState,
			pr.statusEvents, pr.forwards, pr.dispatchErrors, pr.runningSeconds)
	})
	return pr
}

func (p *PrometheusRecorder) IncCommand(verb string, result ResultLabel) {
	if p == nil || p.commands == nil {
		return
	}
	p.commands.WithLabelValues(verb, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveCommandDuration(verb string, d time.Duration) {
	if p == nil || p.commandDuration == nil {
		return
	}
	p.commandDuration.WithLabelValues(verb).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCapabilityCall(op string, ok bool) {
	if p == nil || p.capabilityCalls == nil {
		return
	}
	p.capabilityCalls.WithLabelValues(op, string(ResultFor(ok))).Inc()
}

func (p *PrometheusRecorder) SetManagerState(rank int) {
	if p == nil || p.managerState == nil {
		return
	}
	p.managerState.Set(float64(rank))
}

func (p *PrometheusRecorder) IncStatusEvent(kind string) {
	if p == nil || p.statusEvents == nil {
		return
	}
	p.statusEvents.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncForward(verb, delivery string, result ResultLabel) {
	if p == nil || p.forwards == nil {
		return
	}
	p.forwards.WithLabelValues(verb, delivery, string(result)).Inc()
}

func (p *PrometheusRecorder) IncDispatchError(delivery string) {
	if p == nil || p.dispatchErrors == nil {
		return
	}
	p.dispatchErrors.WithLabelValues(delivery).Inc()
}

func (p *PrometheusRecorder) SetRunningSeconds(s float64) {
	if p == nil || p.runningSeconds == nil {
		return
	}
	p.runningSeconds.Set(s)
}

var _ Recorder = (*PrometheusRecorder)(nil)
