package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.CallStarted()
	m.CallFinished("inbound", "completed", time.Second)
	m.QueueDelta(3)
	m.ChunksDropped("overflow", 1)
	m.EventPublished("call_ended")
	m.Interrupted()
}

func TestInterruptsAreCounted(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Interrupted()
	m.Interrupted()
	if got := testutil.ToFloat64(m.outputInterrupts); got != 2 {
		t.Fatalf("expected 2 interrupts, got %v", got)
	}
}

func TestCallLifecycleGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.CallStarted()
	m.CallStarted()
	m.CallFinished("inbound", "completed", 30*time.Second)

	if got := testutil.ToFloat64(m.callsActive); got != 1 {
		t.Fatalf("expected 1 active call, got %v", got)
	}
	if got := testutil.ToFloat64(m.callsTotal.WithLabelValues("inbound", "completed")); got != 1 {
		t.Fatalf("expected 1 completed call, got %v", got)
	}
}

func TestQueueDepthTracksDeltas(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.QueueDelta(5)
	m.QueueDelta(-2)
	m.ChunksDropped("interrupted", 2)

	if got := testutil.ToFloat64(m.outputQueued); got != 3 {
		t.Fatalf("expected depth 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.outputDropped.WithLabelValues("interrupted")); got != 2 {
		t.Fatalf("expected 2 dropped, got %v", got)
	}
}
