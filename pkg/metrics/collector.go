package metrics

import (
	"time"

	"github.com/cuemby/hutch/pkg/types"
)

// StatsSource is the view of the session manager the collector polls.
// It is an interface so the manager can import this package for its
// counters without a cycle.
type StatsSource interface {
	Stats() types.GatewayStats
}

// Collector periodically copies session-manager occupancy into gauges
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats := c.source.Stats()

	c.collectSessionMetrics(stats)
	c.collectPortMetrics(stats)
}

func (c *Collector) collectSessionMetrics(stats types.GatewayStats) {
	// Set every status explicitly so counts that drop to zero reset
	// instead of holding their last value.
	statuses := []types.SessionStatus{
		types.SessionPending,
		types.SessionStarting,
		types.SessionRunning,
		types.SessionStopping,
		types.SessionStopped,
		types.SessionError,
	}
	for _, status := range statuses {
		SessionsByStatus.WithLabelValues(string(status)).Set(float64(stats.ByStatus[status]))
	}

	SessionsLive.Set(float64(stats.Live))
	SessionCapacity.Set(float64(stats.MaxSessions))
}

func (c *Collector) collectPortMetrics(stats types.GatewayStats) {
	PortsAllocated.Set(float64(stats.PortsAllocated))
	PortsCapacity.Set(float64(stats.PortsCapacity))
}
