package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsNilRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.DegradedFiles.Inc()
	if got := testutil.ToFloat64(m.DegradedFiles); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Decisions.WithLabelValues("exec:test", "grant", "").Inc()
	m.GraphEvents.WithLabelValues("RUN_TESTS").Add(2)

	n, err := testutil.GatherAndCount(reg, "safeboundary_decisions_total", "safeboundary_graph_events_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 series, got %d", n)
	}
	if got := testutil.ToFloat64(m.GraphEvents.WithLabelValues("RUN_TESTS")); got != 2 {
		t.Errorf("RUN_TESTS: got %v", got)
	}
}

func TestNewMetricsTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration should panic")
		}
	}()
	NewMetrics(reg)
}
