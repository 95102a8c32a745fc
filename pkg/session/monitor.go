package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/health"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/runtime"
	"github.com/cuemby/hutch/pkg/types"
)

// Monitor reconciles the live map against the container runtime. It
// stops sessions whose worker died behind the gateway's back, and
// removes containers left over from a previous gateway process.
type Monitor struct {
	manager  *Manager
	driver   runtime.Driver
	interval time.Duration
	probeCfg health.Config
	logger   zerolog.Logger
	stopCh   chan struct{}

	// statuses tracks per-session liveness across ticks. Touched only
	// by the run goroutine.
	statuses map[string]*health.Status
}

// NewMonitor creates a monitor over the manager's sessions. A session
// is declared crashed only after two consecutive failed liveness
// checks, so one runtime hiccup never takes a live session down.
func NewMonitor(manager *Manager, driver runtime.Driver) *Monitor {
	return &Monitor{
		manager:  manager,
		driver:   driver,
		interval: manager.cfg.MonitorInterval,
		probeCfg: health.Config{
			Interval: manager.cfg.MonitorInterval,
			Timeout:  2 * time.Second,
			Retries:  2,
		},
		logger:   log.WithComponent("monitor"),
		stopCh:   make(chan struct{}),
		statuses: make(map[string]*health.Status),
	}
}

// Start begins the monitor loop. Orphans from a previous process are
// swept before the first tick so stale containers never outlive a
// restart by more than a moment.
func (mo *Monitor) Start() {
	go mo.run()
}

// Stop stops the monitor loop.
func (mo *Monitor) Stop() {
	close(mo.stopCh)
}

func (mo *Monitor) run() {
	mo.SweepOrphans(context.Background())

	ticker := time.NewTicker(mo.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mo.checkWorkers(context.Background())
			mo.SweepOrphans(context.Background())
		case <-mo.stopCh:
			return
		}
	}
}

// checkWorkers stops every running session whose worker has stayed
// dead across consecutive ticks.
func (mo *Monitor) checkWorkers(ctx context.Context) {
	seen := make(map[string]bool)
	for _, s := range mo.manager.List() {
		if s.Status != types.SessionRunning || s.ContainerID == "" {
			continue
		}
		seen[s.ID] = true

		st, ok := mo.statuses[s.ID]
		if !ok {
			st = health.NewStatus()
			mo.statuses[s.ID] = st
		}
		st.Update(mo.probe(ctx, s), mo.probeCfg)
		if st.Healthy {
			continue
		}

		mo.logger.Warn().
			Str("session_id", s.ID).
			Str("container_id", s.ContainerID).
			Int("consecutive_failures", st.ConsecutiveFailures).
			Msg("Worker exited unexpectedly")
		mo.manager.update(s.ID, func(sess *types.Session) {
			sess.Error = "worker exited unexpectedly"
		})
		if err := mo.manager.stop(ctx, s.ID, "crash"); err != nil {
			mo.logger.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to stop crashed session")
		}
		delete(mo.statuses, s.ID)
	}

	// Drop trackers for sessions that left the live map.
	for id := range mo.statuses {
		if !seen[id] {
			delete(mo.statuses, id)
		}
	}
}

// probe asks the runtime whether the worker is alive. When the runtime
// cannot answer, a TCP dial of the worker's published port stands in,
// so a runtime API outage does not read as a wave of crashes.
func (mo *Monitor) probe(ctx context.Context, s *types.Session) health.Result {
	alive, err := mo.driver.Alive(ctx, s.ContainerID)
	if err != nil {
		mo.logger.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to inspect worker, dialing its port instead")
		return health.NewWorkerPortChecker(s.Port).WithTimeout(mo.probeCfg.Timeout).Check(ctx)
	}

	result := health.Result{Healthy: alive, CheckedAt: time.Now()}
	if !alive {
		result.Message = "container not running"
	}
	return result
}

// SweepOrphans removes containers carrying the gateway's service label
// whose session id is not in the live map. Exported so boot can run a
// sweep before the listener comes up.
func (mo *Monitor) SweepOrphans(ctx context.Context) {
	containers, err := mo.driver.ListSessionContainers(ctx)
	if err != nil {
		mo.logger.Warn().Err(err).Msg("Orphan sweep failed to list containers")
		return
	}

	for sessionID, containerID := range containers {
		if _, err := mo.manager.Get(sessionID); err == nil {
			continue
		}
		mo.logger.Info().
			Str("session_id", sessionID).
			Str("container_id", containerID).
			Msg("Removing orphaned container")
		mo.manager.reclaimContainer(containerID)
		metrics.SessionStops.WithLabelValues("orphan").Inc()
	}
}
