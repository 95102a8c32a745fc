package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/health"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/runtime"
	"github.com/cuemby/hutch/pkg/types"
)

var (
	// ErrMaxSessions is returned when the live-session cap is reached.
	ErrMaxSessions = errors.New("maximum sessions reached")

	// ErrNotFound is returned for session ids not in the live map.
	ErrNotFound = errors.New("session not found")

	// ErrNotRunning is returned when an operation requires a running
	// session, such as patching files into one that is still starting
	// or already on its way down.
	ErrNotRunning = errors.New("session not running")

	// ErrNotReady is returned when the worker never answered the
	// readiness probe within the configured timeout.
	ErrNotReady = errors.New("container failed to become ready")

	// ErrStartFailed is returned when the worker container could not
	// be created or started.
	ErrStartFailed = errors.New("failed to start preview worker")

	// ErrAborted is returned when a session was stopped while its
	// worker was still coming up.
	ErrAborted = errors.New("session stopped before becoming ready")
)

// ReadyProbe blocks until the worker behind port answers HTTP or the
// probe gives up.
type ReadyProbe func(ctx context.Context, port int) error

// Manager owns the live-session map, the port pool, and the work
// directories. All container work goes through the runtime driver; all
// status changes are broadcast through the event broker.
type Manager struct {
	cfg       config.SessionConfig
	worker    config.WorkerConfig
	publicURL string

	driver    runtime.Driver
	ports     *Allocator
	workspace *Workspace
	broker    *events.Broker
	probe     ReadyProbe
	logger    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*types.Session
	writeMu  map[string]*sync.Mutex
}

// NewManager creates a session manager. The workspace base directory
// is created immediately so a bad path fails at boot, not on the first
// session.
func NewManager(cfg config.SessionConfig, worker config.WorkerConfig, publicURL string, driver runtime.Driver, broker *events.Broker) (*Manager, error) {
	workspace, err := NewWorkspace(cfg.WorkDirBase)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		worker:    worker,
		publicURL: strings.TrimRight(publicURL, "/"),
		driver:    driver,
		ports:     NewAllocator(cfg.PortMin, cfg.PortMax),
		workspace: workspace,
		broker:    broker,
		logger:    log.WithComponent("session"),
		sessions:  make(map[string]*types.Session),
		writeMu:   make(map[string]*sync.Mutex),
	}
	m.probe = m.defaultProbe
	return m, nil
}

// WithReadyProbe replaces the readiness poll. Tests substitute a probe
// that does not dial.
func (m *Manager) WithReadyProbe(probe ReadyProbe) *Manager {
	m.probe = probe
	return m
}

// Create provisions a new preview session: reserve capacity, a token
// and a port, materialize the file map, launch the worker, and wait
// for its dev server to answer. It returns only once the session is
// running; any failure past the reservation tears everything down
// again.
func (m *Manager) Create(ctx context.Context, projectID string, owner types.Identity, files map[string]string) (*types.Session, error) {
	timer := metrics.NewTimer()

	normalized, err := NormalizeFiles(files)
	if err != nil {
		metrics.SessionCreates.WithLabelValues("rejected").Inc()
		return nil, err
	}

	s, err := m.reserve(projectID, owner, normalized)
	if err != nil {
		metrics.SessionCreates.WithLabelValues("rejected").Inc()
		return nil, err
	}
	logger := m.logger.With().Str("session_id", s.ID).Str("project_id", projectID).Logger()
	logger.Info().Int("port", s.Port).Int("files", len(normalized)).Msg("Session reserved")

	workDir, err := m.workspace.Materialize(s.ID, WithScaffold(projectID, normalized))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to materialize work directory")
		m.abort(s.ID, "failed to prepare work directory")
		metrics.SessionCreates.WithLabelValues("failed").Inc()
		return nil, ErrStartFailed
	}

	if !m.transition(s.ID, types.SessionStarting, "") {
		return nil, ErrAborted
	}
	containerID, err := m.driver.CreateAndStart(ctx, m.workerSpec(s.ID, s.Port, workDir))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start worker container")
		m.abort(s.ID, "container start failed")
		metrics.SessionCreates.WithLabelValues("failed").Inc()
		return nil, ErrStartFailed
	}
	if !m.update(s.ID, func(sess *types.Session) { sess.ContainerID = containerID }) {
		// Stopped while the container was coming up; the stopper
		// could not have known about this container.
		m.reclaimContainer(containerID)
		return nil, ErrAborted
	}
	logger.Debug().Str("container_id", containerID).Msg("Worker container started")

	if err := m.probe(ctx, s.Port); err != nil {
		logger.Error().Err(err).Msg("Worker failed readiness probe")
		m.abort(s.ID, "container failed to become ready")
		metrics.SessionCreates.WithLabelValues("failed").Inc()
		return nil, ErrNotReady
	}

	if !m.transition(s.ID, types.SessionRunning, "") {
		return nil, ErrAborted
	}
	metrics.SessionCreates.WithLabelValues("created").Inc()
	timer.ObserveDuration(metrics.SessionCreateDuration)
	logger.Info().Dur("took", timer.Duration()).Msg("Session running")

	out, err := m.Get(s.ID)
	if err != nil {
		return nil, ErrAborted
	}
	return out, nil
}

// reserve is steps one and two of Create: the capacity check, the
// token mint, the port allocation, and the pending insert, all under
// one lock so concurrent creates cannot oversubscribe.
func (m *Manager) reserve(projectID string, owner types.Identity, files map[string]string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked() >= m.cfg.MaxSessions {
		return nil, ErrMaxSessions
	}

	port, err := m.ports.Allocate()
	if err != nil {
		return nil, err
	}

	id, err := newSessionID()
	if err != nil {
		m.ports.Release(port)
		return nil, err
	}

	now := time.Now()
	s := &types.Session{
		ID:             id,
		ProjectID:      projectID,
		Owner:          owner,
		Port:           port,
		IframeURL:      m.publicURL + "/preview/" + id,
		Files:          files,
		Status:         types.SessionPending,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[id] = s
	m.writeMu[id] = &sync.Mutex{}
	return s.Clone(), nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// List returns a snapshot of every session in the live map.
func (m *Manager) List() []*types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// PortFor resolves the host port serving a session's worker. The proxy
// calls this on every preview request; a session that is still
// starting may already receive traffic.
func (m *Manager) PortFor(id string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok || s.Port == 0 {
		return 0, false
	}
	return s.Port, true
}

// PatchFile applies one incremental file update to a running session.
// The write lands in the bind-mounted work directory; the dev server's
// own file watcher picks it up and fires HMR, the gateway does not
// synthesize reload messages. Patches to the same session apply in the
// order received.
func (m *Manager) PatchFile(id, path, content string) error {
	normalized, err := NormalizePath(path)
	if err != nil {
		return err
	}

	m.mu.RLock()
	wmu, ok := m.writeMu[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	wmu.Lock()
	defer wmu.Unlock()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if s.Status != types.SessionRunning {
		m.mu.Unlock()
		return ErrNotRunning
	}
	s.Files[normalized] = content
	touch(s)
	m.mu.Unlock()

	if err := m.workspace.WriteFile(id, normalized, content); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Logs returns the most recent worker output, oldest first. When the
// container can be reached the session's log ring is replaced with the
// fetched tail and the batch is broadcast to subscribers; otherwise
// the cached ring is served as-is.
func (m *Manager) Logs(ctx context.Context, id string, since time.Time) ([]string, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrNotFound
	}
	containerID := s.ContainerID
	ring := append([]string(nil), s.Logs...)
	m.mu.RUnlock()

	if containerID == "" {
		return ring, nil
	}

	lines, err := m.driver.Logs(ctx, containerID, m.cfg.LogTailDefault, since)
	if err != nil {
		m.logger.Debug().Err(err).Str("session_id", id).Msg("Log fetch failed, serving cached ring")
		return ring, nil
	}
	if len(lines) > m.cfg.LogRingCap {
		lines = lines[len(lines)-m.cfg.LogRingCap:]
	}

	m.update(id, func(sess *types.Session) {
		sess.Logs = append([]string(nil), lines...)
	})
	m.broker.Publish(&events.Event{
		SessionID: id,
		Payload:   types.LogEvent{Type: "logs", SessionID: id, Lines: lines},
	})
	return lines, nil
}

// Ping marks the session active, deferring the idle reaper. It reports
// whether the session exists.
func (m *Manager) Ping(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	touch(s)
	return true
}

// Stop ends a session and reclaims everything it holds. Stopping a
// session that is unknown or already on its way down is not an error;
// concurrent callers all observe the same final state.
func (m *Manager) Stop(ctx context.Context, id string) error {
	return m.stop(ctx, id, "api")
}

// StopAll drains every live session, used during gateway shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	for _, s := range m.List() {
		if err := m.stop(ctx, s.ID, "shutdown"); err != nil {
			m.logger.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to stop session during drain")
		}
	}
}

func (m *Manager) stop(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if s.Status == types.SessionStopping || s.Status == types.SessionStopped {
		m.mu.Unlock()
		return nil
	}
	s.Status = types.SessionStopping
	m.mu.Unlock()

	m.publishStatus(id, types.SessionStopping, "")
	m.logger.Info().Str("session_id", id).Str("reason", reason).Msg("Stopping session")

	m.teardown(ctx, id)
	metrics.SessionStops.WithLabelValues(reason).Inc()
	return nil
}

// Stats returns the occupancy snapshot the metrics collector polls.
func (m *Manager) Stats() types.GatewayStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.GatewayStats{
		ByStatus:       make(map[types.SessionStatus]int),
		MaxSessions:    m.cfg.MaxSessions,
		PortsAllocated: m.ports.InUse(),
		PortsCapacity:  m.ports.Capacity(),
	}
	for _, s := range m.sessions {
		stats.ByStatus[s.Status]++
		if s.Status.Live() {
			stats.Live++
		}
	}
	return stats
}

// abort tears down a session that failed to start: error status first,
// then resource cleanup and removal from the live map.
func (m *Manager) abort(id, detail string) {
	m.transition(id, types.SessionError, detail)
	m.teardown(context.Background(), id)
}

// teardown releases everything a session holds, removes it from the
// live map, and broadcasts the terminal status. Every step tolerates
// the resource being gone already, so repeated teardowns and teardowns
// of half-built sessions both succeed.
func (m *Manager) teardown(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	containerID, port := s.ContainerID, s.Port
	wmu := m.writeMu[id]
	m.mu.Unlock()

	if containerID != "" {
		if err := m.driver.Stop(ctx, containerID); err != nil {
			m.logger.Debug().Err(err).Str("session_id", id).Msg("Container stop during teardown")
		}
		if err := m.driver.Remove(ctx, containerID); err != nil {
			m.logger.Debug().Err(err).Str("session_id", id).Msg("Container remove during teardown")
		}
	}

	// The write mutex orders the removal after any in-flight patch. A
	// patch arriving later re-reads the session under the map lock, sees
	// it stopping or gone, and never touches the directory.
	if wmu != nil {
		wmu.Lock()
	}
	err := m.workspace.Remove(id)
	if wmu != nil {
		wmu.Unlock()
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to remove work directory")
	}
	m.ports.Release(port)

	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.writeMu, id)
	m.mu.Unlock()

	m.publishStatus(id, types.SessionStopped, "")
}

// reclaimContainer destroys a container whose session vanished while
// the container was starting.
func (m *Manager) reclaimContainer(containerID string) {
	ctx := context.Background()
	if err := m.driver.Stop(ctx, containerID); err != nil {
		m.logger.Debug().Err(err).Str("container_id", containerID).Msg("Orphaned container stop")
	}
	if err := m.driver.Remove(ctx, containerID); err != nil {
		m.logger.Debug().Err(err).Str("container_id", containerID).Msg("Orphaned container remove")
	}
}

// transition moves the session to status and broadcasts the change. It
// returns false when the session is no longer in the live map.
func (m *Manager) transition(id string, status types.SessionStatus, detail string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	s.Status = status
	if detail != "" {
		s.Error = detail
	}
	m.mu.Unlock()

	m.publishStatus(id, status, detail)
	return true
}

// update applies fn to the session under the map lock. It returns
// false when the session is no longer in the live map.
func (m *Manager) update(id string, fn func(*types.Session)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

func (m *Manager) publishStatus(id string, status types.SessionStatus, detail string) {
	m.broker.Publish(&events.Event{
		SessionID: id,
		Payload: types.StatusEvent{
			Type:      "status",
			SessionID: id,
			Status:    status,
			Error:     detail,
		},
	})
}

func (m *Manager) liveLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.Status.Live() {
			n++
		}
	}
	return n
}

func (m *Manager) workerSpec(id string, port int, workDir string) types.WorkerSpec {
	resources := types.WorkerResources{
		MemoryMB:            m.worker.MemoryMB,
		MemoryReservationMB: m.worker.MemoryReservationMB,
		CPUPercent:          m.worker.CPUPercent,
		CPUShares:           m.worker.CPUShares,
		PidsLimit:           m.worker.PidsLimit,
		BlkioWeight:         m.worker.BlkioWeight,
	}
	if m.worker.EnableDiskQuota {
		resources.DiskMB = m.worker.DiskMB
	}
	return types.WorkerSpec{
		SessionID: id,
		Image:     m.worker.Image,
		HostPort:  port,
		WorkDir:   workDir,
		Network:   m.worker.Network,
		DNS:       m.worker.DNS,
		Resources: resources,
	}
}

// defaultProbe polls the worker's host port until the dev server
// answers. Any HTTP status up to 500 counts as up; a 404 only means
// the dev server's routing is not configured yet.
func (m *Manager) defaultProbe(ctx context.Context, port int) error {
	checker := health.NewReadinessChecker(port)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ReadyTimeout)
	defer cancel()

	return retry.Do(
		func() error {
			result := checker.Check(ctx)
			if !result.Healthy {
				return errors.New(result.Message)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// newSessionID mints the opaque 128-bit session token.
func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// touch advances the session's activity clock. Never moves it
// backwards, so readers see a monotonic value.
func touch(s *types.Session) {
	if now := time.Now(); now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}
