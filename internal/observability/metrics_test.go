package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestScenarioCollectorRecordsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("NewScenarioCollector: %v", err)
	}

	collector.SetTopologyCounts(5, 4, 4)
	collector.SetTaskCount(6)
	collector.IncTaskEvent("start")
	collector.IncTaskEvent("start")
	collector.RecordFailure("build", "invalid_topology_parameters")

	if got := testutil.ToFloat64(collector.Nodes); got != 5 {
		t.Fatalf("scenario_nodes = %v, want 5", got)
	}
	if got := testutil.ToFloat64(collector.Tasks); got != 6 {
		t.Fatalf("scenario_tasks = %v, want 6", got)
	}
	if got := testutil.ToFloat64(collector.TaskEvents.WithLabelValues("start")); got != 2 {
		t.Fatalf("kernel_task_events_total{start} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.BuildFailures.WithLabelValues("build", "invalid_topology_parameters")); got != 1 {
		t.Fatalf("scenario_build_failures_total = %v, want 1", got)
	}
}

func TestObserveStageRecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("NewScenarioCollector: %v", err)
	}
	collector.ObserveStage("schedule", 3*time.Millisecond)

	if count := histogramSampleCount(t, reg, "scenario_build_duration_seconds", map[string]string{"stage": "schedule"}); count != 1 {
		t.Fatalf("scenario_build_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestRegisteringTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("first NewScenarioCollector: %v", err)
	}
	second, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("second NewScenarioCollector: %v", err)
	}
	second.IncTaskEvent("stop")
	if got := testutil.ToFloat64(first.TaskEvents.WithLabelValues("stop")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *ScenarioCollector
	c.SetTopologyCounts(1, 1, 1)
	c.SetTaskCount(1)
	c.ObserveStage("build", time.Second)
	c.RecordFailure("build", "x")
	c.IncTaskEvent("start")
}

func TestMetricsHandlerExposesScenarioGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewScenarioCollector(reg)
	if err != nil {
		t.Fatalf("NewScenarioCollector: %v", err)
	}
	collector.SetTopologyCounts(3, 2, 2)
	collector.IncTaskEvent("start")
	collector.ObserveStage("build", time.Millisecond)
	collector.RecordFailure("schedule", "invalid_timing")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"scenario_nodes 3",
		"scenario_links 2",
		"scenario_subnets 2",
		"scenario_build_duration_seconds",
		"scenario_build_failures_total",
		`kernel_task_events_total{event="start"} 1`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
