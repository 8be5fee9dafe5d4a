package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/orchestra/core"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Options configures a Collector.
type Options struct {
	// Namespace prefixes every metric name.
	Namespace string
	// Registerer receives the metrics. Defaults to a private registry.
	Registerer prometheus.Registerer
	// ConstLabels are attached to every metric.
	ConstLabels prometheus.Labels
}

// Collector records run events as Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runTurns      prometheus.Histogram
	activeRuns    prometheus.Gauge
	agentsStarted *prometheus.CounterVec
	messages      *prometheus.CounterVec

	capabilityCalls    *prometheus.CounterVec
	capabilityDuration *prometheus.HistogramVec
	delegations        *prometheus.CounterVec
}

var _ core.EventSink = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics.
func NewCollector(optFns ...func(o *Options)) *Collector {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Collector{}

	reg := opts.Registerer
	if reg == nil {
		c.registry = prometheus.NewRegistry()
		reg = c.registry
	}

	factory := promauto.With(reg)
	ns := opts.Namespace
	cl := opts.ConstLabels

	c.runsStarted = factory.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "runs_started_total",
		Help:        "Total number of started runs",
		ConstLabels: cl,
	})

	c.runsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "runs_finished_total",
		Help:        "Total number of finished runs",
		ConstLabels: cl,
	}, []string{"agent", "status"})

	c.runDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   ns,
		Name:        "run_duration_seconds",
		Help:        "Run duration in seconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		ConstLabels: cl,
	}, []string{"status"})

	c.runTurns = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace:   ns,
		Name:        "run_turns",
		Help:        "Turns consumed per run",
		Buckets:     prometheus.LinearBuckets(1, 1, 10),
		ConstLabels: cl,
	})

	c.activeRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "active_runs",
		Help:        "Number of runs in progress",
		ConstLabels: cl,
	})

	c.agentsStarted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "agent_activations_total",
		Help:        "Total number of times an agent became active",
		ConstLabels: cl,
	}, []string{"agent"})

	c.messages = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "messages_total",
		Help:        "Total number of assistant messages",
		ConstLabels: cl,
	}, []string{"agent"})

	c.capabilityCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "capability_calls_total",
		Help:        "Total number of completed capability invocations",
		ConstLabels: cl,
	}, []string{"agent", "capability", "status"})

	c.capabilityDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   ns,
		Name:        "capability_duration_seconds",
		Help:        "Capability execution duration in seconds",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: cl,
	}, []string{"agent", "capability"})

	c.delegations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "delegations_total",
		Help:        "Total number of delegations between agents",
		ConstLabels: cl,
	}, []string{"from", "to"})

	return c
}

// Registry returns the private registry, or nil when an external
// Registerer was supplied.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Publish implements core.EventSink.
func (c *Collector) Publish(_ context.Context, ev core.Event) {
	switch ev.Type {
	case core.EventRunStarted:
		c.runsStarted.Inc()
		c.activeRuns.Inc()
	case core.EventRunFinished:
		status := statusOf(ev.Err)
		c.activeRuns.Dec()
		c.runsFinished.WithLabelValues(ev.Agent, status).Inc()
		c.runDuration.WithLabelValues(status).Observe(ev.Duration.Seconds())
		c.runTurns.Observe(float64(ev.Turn))
	case core.EventAgentChanged:
		c.agentsStarted.WithLabelValues(ev.Agent).Inc()
	case core.EventMessageProduced:
		c.messages.WithLabelValues(ev.Agent).Inc()
	case core.EventCapabilityCompleted:
		name := ""
		if r, ok := ev.Item.(core.CapabilityResult); ok {
			name = r.Name
		}
		c.capabilityCalls.WithLabelValues(ev.Agent, name, statusOf(ev.Err)).Inc()
		c.capabilityDuration.WithLabelValues(ev.Agent, name).Observe(ev.Duration.Seconds())
	case core.EventDelegationOccurred:
		c.delegations.WithLabelValues(ev.PreviousAgent, ev.Agent).Inc()
	}
}

func statusOf(errText string) string {
	if errText != "" {
		return statusError
	}
	return statusSuccess
}
