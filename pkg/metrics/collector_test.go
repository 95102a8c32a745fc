package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cuemby/hutch/pkg/types"
)

type fakeSource struct {
	stats types.GatewayStats
}

func (f *fakeSource) Stats() types.GatewayStats {
	return f.stats
}

func TestCollectorCollect(t *testing.T) {
	source := &fakeSource{stats: types.GatewayStats{
		ByStatus: map[types.SessionStatus]int{
			types.SessionStarting: 1,
			types.SessionRunning:  3,
			types.SessionStopped:  2,
		},
		Live:           4,
		MaxSessions:    10,
		PortsAllocated: 4,
		PortsCapacity:  100,
	}}

	c := NewCollector(source)
	c.collect()

	if got := testutil.ToFloat64(SessionsLive); got != 4 {
		t.Errorf("expected 4 live sessions, got %v", got)
	}

	if got := testutil.ToFloat64(SessionCapacity); got != 10 {
		t.Errorf("expected capacity 10, got %v", got)
	}

	if got := testutil.ToFloat64(SessionsByStatus.WithLabelValues("running")); got != 3 {
		t.Errorf("expected 3 running sessions, got %v", got)
	}

	if got := testutil.ToFloat64(SessionsByStatus.WithLabelValues("pending")); got != 0 {
		t.Errorf("expected 0 pending sessions, got %v", got)
	}

	if got := testutil.ToFloat64(PortsAllocated); got != 4 {
		t.Errorf("expected 4 allocated ports, got %v", got)
	}

	if got := testutil.ToFloat64(PortsCapacity); got != 100 {
		t.Errorf("expected port capacity 100, got %v", got)
	}
}

func TestCollectorResetsDrainedStatuses(t *testing.T) {
	source := &fakeSource{stats: types.GatewayStats{
		ByStatus: map[types.SessionStatus]int{
			types.SessionRunning: 2,
		},
		Live: 2,
	}}

	c := NewCollector(source)
	c.collect()

	if got := testutil.ToFloat64(SessionsByStatus.WithLabelValues("running")); got != 2 {
		t.Fatalf("expected 2 running sessions, got %v", got)
	}

	// All sessions gone; the gauge must drop back to zero
	source.stats = types.GatewayStats{ByStatus: map[types.SessionStatus]int{}}
	c.collect()

	if got := testutil.ToFloat64(SessionsByStatus.WithLabelValues("running")); got != 0 {
		t.Errorf("expected running gauge reset to 0, got %v", got)
	}

	if got := testutil.ToFloat64(SessionsLive); got != 0 {
		t.Errorf("expected live gauge reset to 0, got %v", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	source := &fakeSource{stats: types.GatewayStats{Live: 1}}

	c := NewCollector(source)
	c.Start()

	// Give the immediate collect a moment to run
	time.Sleep(50 * time.Millisecond)

	if got := testutil.ToFloat64(SessionsLive); got != 1 {
		t.Errorf("expected immediate collect on start, live = %v", got)
	}

	// Stop must not panic and must terminate the goroutine
	c.Stop()
}
