package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/resilience"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	m.DocsIndexedTotal.Add(3)
	if got := testutil.ToFloat64(m.DocsIndexedTotal); got != 3 {
		t.Errorf("docs indexed = %v, want 3", got)
	}
	if n, err := testutil.GatherAndCount(reg, "docs_indexed_total"); err != nil || n != 1 {
		t.Errorf("gathered %d series, err %v", n, err)
	}
}

func TestCircuitObserver(t *testing.T) {
	var nilMetrics *Metrics
	if nilMetrics.CircuitObserver() != nil {
		t.Fatal("nil metrics returned an observer")
	}

	m := NewWithRegistry(nil)
	observe := m.CircuitObserver()
	observe("query-cache", resilience.StateClosed, resilience.StateOpen)
	if got := testutil.ToFloat64(m.CircuitState.WithLabelValues("query-cache")); got != float64(resilience.StateOpen) {
		t.Errorf("state = %v, want open", got)
	}
	observe("query-cache", resilience.StateOpen, resilience.StateHalfOpen)
	if got := testutil.ToFloat64(m.CircuitState.WithLabelValues("query-cache")); got != float64(resilience.StateHalfOpen) {
		t.Errorf("state = %v, want half-open", got)
	}
}
