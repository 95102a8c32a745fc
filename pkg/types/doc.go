/*
Package types defines the core data structures used throughout Hutch.

This package contains all fundamental types that represent the gateway's domain
model: sessions, identities, worker specifications, quota decisions, and security
events. These types are used by all other packages for state tracking, policy
calls, and event fan-out.

# Architecture

The types package is the foundation of the gateway's data model. It defines:

  - Session lifecycle (status machine, activity tracking, log ring)
  - Caller identity (user, organization, role, permission scopes)
  - Worker container specifications (image, port, mounts, resource envelope)
  - Quota primitives (classes, check-and-commit decisions)
  - Security events (kinds, risk levels, request attribution)
  - Event-hub payloads (status transitions, log batches)

All types are designed to be:
  - Plain data (no hidden goroutines, no package state)
  - Copyable (Clone for handing records across lock boundaries)
  - Self-documenting (clear field names and comments)
  - Validated by constants (typed string enums)

# Core Types

Session Lifecycle:
  - Session: One preview environment with container, port, and URL
  - SessionStatus: Pending, starting, running, stopping, stopped, error

Identity & Policy:
  - Identity: Authenticated caller with role and permission scopes
  - Role: Owner, admin, member
  - APIKey: Policy-store record resolved from a hashed x-api-key
  - QuotaClass: Concurrent sessions, rolling daily sessions
  - QuotaDecision: Allowed flag plus current/limit counters

Workers:
  - WorkerSpec: Everything the container driver needs for one session
  - WorkerResources: Memory, CPU, pids, disk, and block-I/O envelope

Security:
  - SecurityEvent: Auth and abuse signals written to the policy store
  - SecurityEventKind: Login failure, permission denied, rate limit, suspicious
  - RiskLevel: Low, medium, high

Events:
  - StatusEvent: Broadcast on every status transition
  - LogEvent: Broadcast batches of worker log lines

# Usage

Creating a Session record:

	session := &types.Session{
		ID:             token,
		ProjectID:      "demo",
		Owner:          identity,
		Files:          map[string]string{"src/app.ts": "export const x=1"},
		Status:         types.SessionPending,
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}

Building a WorkerSpec for the driver:

	spec := &types.WorkerSpec{
		SessionID: session.ID,
		Image:     "hutch-worker:latest",
		HostPort:  4217,
		WorkDir:   "/tmp/hutch-sessions/" + session.ID,
		Network:   "hutch-previews",
		Resources: types.WorkerResources{
			MemoryMB:   256,
			CPUPercent: 25,
			PidsLimit:  64,
		},
	}

Recording a security event:

	event := &types.SecurityEvent{
		Kind:      types.EventSuspiciousActivity,
		UserID:    caller.UserID,
		ClientIP:  clientIP,
		RequestID: requestID,
		Path:      r.URL.Path,
		Method:    r.Method,
		Risk:      types.RiskHigh,
	}

# State Machine

Sessions follow a state machine:

	pending → starting → running → stopping → stopped
	    │         │         │
	    └─────────┴─────────┴──► error ──► stopped

Valid state transitions:
  - pending → starting (container created)
  - starting → running (readiness probe answered)
  - running → stopping (explicit stop, idle reap, or crash detection)
  - starting → stopping (stopped before readiness)
  - stopping → stopped (container removed, port released)
  - pending/starting/running → error (fault)
  - error → stopped (cleanup always terminates)

SessionStatus.Live reports whether a status still holds resources; the
manager uses it for the session cap and the reaper's scan.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type SessionStatus string
	  const (
	      SessionPending SessionStatus = "pending"
	      SessionRunning SessionStatus = "running"
	  )

Tenant Fallback:

	Quota counters key on the organization when the caller has one and on
	the user otherwise; Identity.Tenant encodes that fallback once.

Snapshot Pattern:

	Session.Clone deep-copies the file map and log ring so callers can
	inspect a record after the manager's lock is released.

# Integration Points

This package integrates with:

  - pkg/session: Owns the live Session map and status transitions
  - pkg/runtime: Consumes WorkerSpec to launch containers
  - pkg/policy: Transports APIKey, QuotaDecision, SecurityEvent
  - pkg/auth: Produces Identity, emits SecurityEvent
  - pkg/events: Serializes StatusEvent and LogEvent to subscribers
  - pkg/api: Converts Session records into response payloads

# Thread Safety

All types in this package are designed to be:
  - Read-safe: Can be read concurrently from multiple goroutines
  - Write-unsafe: Mutations must be synchronized by callers
  - Copy-preferred: Clone before releasing a record outside a lock

The session manager (pkg/session) owns all synchronization for live
records; nothing in this package locks.

# See Also

  - pkg/session for lifecycle orchestration
  - pkg/policy for the external store these types travel to
  - pkg/api for the HTTP representations
*/
package types
