package types

import (
	"time"
)

// Session represents one ephemeral preview environment: a dedicated
// worker container, a host port, and a routable URL.
type Session struct {
	ID             string // opaque 128-bit token, hex encoded
	ProjectID      string
	Owner          Identity
	ContainerID    string // runtime-assigned, empty before start
	Port           int    // allocated host port, 0 before allocation
	IframeURL      string
	Files          map[string]string // normalized path -> content
	Logs           []string          // bounded ring, oldest evicted first
	Status         SessionStatus
	Error          string // user-safe detail, set on fault
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Clone returns a deep copy safe to hand outside the manager's lock.
func (s *Session) Clone() *Session {
	c := *s
	c.Files = make(map[string]string, len(s.Files))
	for k, v := range s.Files {
		c.Files[k] = v
	}
	c.Logs = append([]string(nil), s.Logs...)
	return &c
}

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionStarting SessionStatus = "starting"
	SessionRunning  SessionStatus = "running"
	SessionStopping SessionStatus = "stopping"
	SessionStopped  SessionStatus = "stopped"
	SessionError    SessionStatus = "error"
)

// Live reports whether the session still holds resources (port, possibly
// a container). Terminal and tearing-down states are not live.
func (s SessionStatus) Live() bool {
	switch s {
	case SessionPending, SessionStarting, SessionRunning:
		return true
	}
	return false
}

// Identity is the authenticated caller resolved by the auth pipeline.
type Identity struct {
	UserID   string
	Email    string
	OrgID    string // optional; quota falls back to UserID when empty
	Role     Role
	Scopes   []string // permission names; "*" grants everything
	APIKeyID string   // set when authenticated via API key
}

// Tenant returns the quota key: organization id, falling back to user id.
func (id Identity) Tenant() string {
	if id.OrgID != "" {
		return id.OrgID
	}
	return id.UserID
}

// Role defines the caller's position in its organization
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Admin reports whether the role bypasses per-permission checks.
func (r Role) Admin() bool {
	return r == RoleOwner || r == RoleAdmin
}

// APIKey is the policy-store record an x-api-key hash resolves to
type APIKey struct {
	ID        string
	UserID    string
	OrgID     string
	Scopes    []string
	Active    bool
	ExpiresAt time.Time // zero means no expiry
}

// Expired reports whether the key's expiry has passed.
func (k *APIKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt)
}

// WorkerSpec describes the container the driver launches for a session
type WorkerSpec struct {
	SessionID string
	Image     string
	HostPort  int    // bound to the worker's internal dev-server port
	WorkDir   string // host directory bind-mounted at the app root
	Network   string // named isolated bridge
	DNS       []string

	Resources WorkerResources
}

// WorkerResources is the resource envelope applied to every worker.
// Zero fields fall back to the driver defaults.
type WorkerResources struct {
	MemoryMB            int64
	MemoryReservationMB int64
	CPUPercent          int // share of one core, 100 = full core
	CPUShares           int64
	PidsLimit           int64
	DiskMB              int64 // 0 disables the storage quota
	BlkioWeight         uint16
}

// QuotaClass identifies a quota counter tracked by the policy store
type QuotaClass string

const (
	QuotaConcurrentSessions QuotaClass = "concurrent_sessions"
	QuotaDailySessions      QuotaClass = "daily_sessions"
)

// QuotaDecision is the policy store's answer to a check-and-commit call
type QuotaDecision struct {
	Allowed bool
	Current int
	Limit   int
}

// SecurityEventKind classifies a security event
type SecurityEventKind string

const (
	EventLoginFailure       SecurityEventKind = "login_failure"
	EventPermissionDenied   SecurityEventKind = "permission_denied"
	EventRateLimitExceeded  SecurityEventKind = "rate_limit_exceeded"
	EventSuspiciousActivity SecurityEventKind = "suspicious_activity"
)

// RiskLevel grades a security event
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SecurityEvent is written to the policy store on auth and abuse signals.
// Writes are best-effort; they never block the primary response.
type SecurityEvent struct {
	ID        string
	Kind      SecurityEventKind
	UserID    string
	Email     string
	OrgID     string
	ClientIP  string
	UserAgent string
	RequestID string
	Path      string
	Method    string
	Risk      RiskLevel
	Details   map[string]string
	CreatedAt time.Time
}

// GatewayStats is a point-in-time occupancy snapshot of the session
// manager, consumed by the metrics collector.
type GatewayStats struct {
	ByStatus       map[SessionStatus]int
	Live           int
	MaxSessions    int
	PortsAllocated int
	PortsCapacity  int
}

// StatusEvent is broadcast to event-hub subscribers on every session
// status transition.
type StatusEvent struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// LogEvent carries a batch of worker log lines to event-hub subscribers.
type LogEvent struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	Lines     []string `json:"lines"`
}
