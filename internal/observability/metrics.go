package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScenarioCollector bundles the Prometheus metrics of scenario builds and
// kernel runs.
type ScenarioCollector struct {
	gatherer prometheus.Gatherer

	Nodes   prometheus.Gauge
	Links   prometheus.Gauge
	Subnets prometheus.Gauge
	Tasks   prometheus.Gauge

	BuildFailures *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	TaskEvents    *prometheus.CounterVec
}

// NewScenarioCollector registers scenario metrics against reg, defaulting
// to the global Prometheus registry when nil.
func NewScenarioCollector(reg prometheus.Registerer) (*ScenarioCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_nodes",
		Help: "Number of nodes in the last built topology.",
	}), "scenario_nodes")
	if err != nil {
		return nil, err
	}
	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_links",
		Help: "Number of links in the last built topology.",
	}), "scenario_links")
	if err != nil {
		return nil, err
	}
	subnets, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_subnets",
		Help: "Number of subnets allocated for the last built topology.",
	}), "scenario_subnets")
	if err != nil {
		return nil, err
	}
	tasks, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_tasks",
		Help: "Number of tasks in the last schedule.",
	}), "scenario_tasks")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_build_failures_total",
		Help: "Scenario construction failures, labeled by stage and error kind.",
	}, []string{"stage", "kind"}), "scenario_build_failures_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scenario_build_duration_seconds",
		Help:    "Wall-clock duration of scenario stages in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"stage"}), "scenario_build_duration_seconds")
	if err != nil {
		return nil, err
	}
	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_task_events_total",
		Help: "Task lifecycle transitions executed by the kernel, labeled by event.",
	}, []string{"event"}), "kernel_task_events_total")
	if err != nil {
		return nil, err
	}

	return &ScenarioCollector{
		gatherer:      gatherer,
		Nodes:         nodes,
		Links:         links,
		Subnets:       subnets,
		Tasks:         tasks,
		BuildFailures: failures,
		StageDuration: durations,
		TaskEvents:    events,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ScenarioCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the gatherer the collector registered with.
func (c *ScenarioCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SetTopologyCounts records the size of a freshly built topology.
func (c *ScenarioCollector) SetTopologyCounts(nodes, links, subnets int) {
	if c == nil {
		return
	}
	c.Nodes.Set(float64(nodes))
	c.Links.Set(float64(links))
	c.Subnets.Set(float64(subnets))
}

// SetTaskCount records the size of a schedule.
func (c *ScenarioCollector) SetTaskCount(n int) {
	if c == nil {
		return
	}
	c.Tasks.Set(float64(n))
}

// ObserveStage records how long stage took.
func (c *ScenarioCollector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordFailure counts a failed stage.
func (c *ScenarioCollector) RecordFailure(stage, kind string) {
	if c == nil {
		return
	}
	c.BuildFailures.WithLabelValues(stage, kind).Inc()
}

// IncTaskEvent counts one kernel lifecycle transition.
func (c *ScenarioCollector) IncTaskEvent(event string) {
	if c == nil {
		return
	}
	c.TaskEvents.WithLabelValues(event).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
