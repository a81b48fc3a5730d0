package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func assertValue(t *testing.T, what string, c prometheus.Collector, want float64) {
	t.Helper()
	if got := testutil.ToFloat64(c); got != want {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

func TestObserveOutcome(t *testing.T) {
	_, m := NewRegistry()

	m.ObserveOutcome("Executed", 20*time.Millisecond)
	m.ObserveOutcome("Executed", 10*time.Millisecond)
	m.ObserveOutcome("Rerouted", time.Millisecond)

	assertValue(t, "executed", m.TaskOutcomes.WithLabelValues("Executed"), 2)
	assertValue(t, "rerouted", m.TaskOutcomes.WithLabelValues("Rerouted"), 1)
	if n := testutil.CollectAndCount(m.TaskDuration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestDispatchAndWorkers(t *testing.T) {
	_, m := NewRegistry()

	m.ObserveDispatch()
	m.ObserveDispatch()
	m.ObserveWorkerDone()

	assertValue(t, "dispatched", m.Dispatched, 2)
	assertValue(t, "active workers", m.ActiveWorkers, 1)
}

func TestObserveDenialCountsEachShortType(t *testing.T) {
	_, m := NewRegistry()

	m.ObserveDenial(map[string]int{"cpu": 2, "gpu": 1})
	m.ObserveDenial(map[string]int{"cpu": 1})

	assertValue(t, "cpu denials", m.ResourceDenied.WithLabelValues("cpu"), 2)
	assertValue(t, "gpu denials", m.ResourceDenied.WithLabelValues("gpu"), 1)
}

func TestResourceAndTaskGauges(t *testing.T) {
	_, m := NewRegistry()

	m.SetResource("cpu", 10, 4)
	assertValue(t, "capacity", m.ResourceCapacity.WithLabelValues("cpu"), 10)
	assertValue(t, "available", m.ResourceAvailable.WithLabelValues("cpu"), 4)

	m.SetTaskCounts(map[string]int{"Ready": 3, "Waiting": 1})
	m.SetTaskCounts(map[string]int{"Executed": 4})
	// Reset drops stale statuses.
	if n := testutil.CollectAndCount(m.TaskStatus); n != 1 {
		t.Errorf("status series = %d, want 1", n)
	}
	assertValue(t, "executed", m.TaskStatus.WithLabelValues("Executed"), 4)
}

func TestNilMetricsAreNoops(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("nil metrics panicked: %v", r)
		}
	}()

	var m *Metrics
	m.ObserveOutcome("Executed", time.Second)
	m.ObserveDispatch()
	m.ObserveWorkerDone()
	m.ObserveDenial(map[string]int{"cpu": 1})
	m.ObserveCycle(time.Second)
	m.SetResource("cpu", 1, 1)
	m.SetTaskCounts(nil)
	m.ObserveFeedback("ok")
}

func TestHandlerFor(t *testing.T) {
	reg, m := NewRegistry()
	m.ObserveCycle(5 * time.Millisecond)

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "taskcore_cycles_total 1") {
		t.Errorf("metrics output missing cycle counter:\n%s", body)
	}
}
