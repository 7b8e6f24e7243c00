// Package metrics exports the controller's run state as Prometheus series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cjeanneret/StepSeq/internal/logic/motion"
)

// Collector holds the StepSeq series. It is a motion.Observer and also
// takes tick and button edge hooks.
type Collector struct {
	registry    *prometheus.Registry
	ticks       prometheus.Counter
	transitions *prometheus.CounterVec
	edges       *prometheus.CounterVec
	phase       prometheus.Gauge
	remaining   prometheus.Gauge
}

// New registers the StepSeq series on a fresh registry. withRuntime adds
// the Go and process collectors.
func New(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stepseq_ticks_total",
			Help: "Step-advance ticks handled.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepseq_transitions_total",
			Help: "State machine events by name.",
		}, []string{"event"}),
		edges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepseq_button_edges_total",
			Help: "Debounced button presses.",
		}, []string{"button"}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepseq_phase",
			Help: "Current phase (0=AT_START, 1=RUNNING, 2=RETURNING, 3=STOPPED).",
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepseq_remaining_steps",
			Help: "Steps left in the active motion as of the last tick.",
		}),
	}
	c.registry.MustRegister(c.ticks, c.transitions, c.edges, c.phase, c.remaining)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Transition implements motion.Observer.
func (c *Collector) Transition(t motion.Transition) {
	c.transitions.WithLabelValues(string(t.Event)).Inc()
	c.phase.Set(float64(t.To))
}

// Tick is registered with motion.StepHandler.OnTick.
func (c *Collector) Tick(remaining int32) {
	c.ticks.Inc()
	c.remaining.Set(float64(remaining))
}

// Edge is registered with the poll loop's edge hook.
func (c *Collector) Edge(button string) {
	c.edges.WithLabelValues(button).Inc()
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
