package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/types"
)

// Reaper stops sessions whose owners walked away. A session counts as
// idle once nothing has touched it, no patch and no ping, for longer
// than the configured timeout.
type Reaper struct {
	manager  *Manager
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewReaper creates a reaper over the manager's live sessions.
func NewReaper(manager *Manager) *Reaper {
	return &Reaper{
		manager:  manager,
		interval: manager.cfg.ReapInterval,
		timeout:  manager.cfg.IdleTimeout(),
		logger:   log.WithComponent("reaper"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the reap loop.
func (r *Reaper) Start() {
	go r.run()
}

// Stop stops the reap loop.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

func (r *Reaper) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reap(time.Now())
		case <-r.stopCh:
			return
		}
	}
}

// reap stops exactly those running sessions idle for longer than the
// timeout. Errors are logged, never surfaced; the next tick retries.
func (r *Reaper) reap(now time.Time) {
	for _, s := range r.manager.List() {
		if s.Status != types.SessionRunning {
			continue
		}
		idle := now.Sub(s.LastActivityAt)
		if idle <= r.timeout {
			continue
		}

		r.logger.Info().
			Str("session_id", s.ID).
			Dur("idle", idle).
			Msg("Reaping idle session")
		if err := r.manager.stop(context.Background(), s.ID, "idle"); err != nil {
			r.logger.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to reap session")
		}
	}
}
