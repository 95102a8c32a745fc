/*
Package health provides health check primitives for probing worker dev
servers and gateway dependencies.

Two places consume these checkers: the session manager polls a worker's
host port while it boots (readiness), and the crash monitor watches for
workers that stop answering after they were running. The container
driver additionally installs a runtime-level probe built from the same
WorkerProbeConfig numbers, so in-container and gateway-side checking
agree.

# Architecture

	┌───────────────────── HEALTH CHECKS ─────────────────────┐
	│                                                         │
	│   pkg/session (create, step 5)                          │
	│        │   NewReadinessChecker(port)                    │
	│        ▼                                                │
	│   ┌──────────────┐     GET http://localhost:<port>/     │
	│   │  HTTPChecker │ ───────────────────────────────►     │
	│   │  range       │        worker dev server             │
	│   │  100..500    │ ◄───────────────────────────────     │
	│   └──────────────┘     404 counts as up                 │
	│                                                         │
	│   pkg/session monitor (crash detection)                 │
	│        │                                                │
	│        ▼                                                │
	│   ┌──────────────┐                                      │
	│   │   Status     │  consecutive failure counting        │
	│   │   .Update()  │  against Config.Retries              │
	│   └──────────────┘                                      │
	└─────────────────────────────────────────────────────────┘

## Health Check Flow

 1. Session create launches a worker → readiness polling begins
 2. Any HTTP status up to 500 → worker is up → starting becomes running
 3. Monitor keeps probing running workers every Config.Interval
 4. If a check fails: increment consecutive failures
 5. If failures >= Retries and past StartPeriod: session is stopped
    through the normal path with an error detail

# Health Check Types

## HTTP Health Checks

HTTP checks perform HTTP requests to verify a worker answers:

	Check Type: HTTP
	Configuration:
	├── URL: http://localhost:<host-port>/
	├── Method: GET, POST, HEAD
	├── Headers: Custom HTTP headers
	├── Expected Status: 200-399 default, 100-500 for readiness
	└── Timeout: 10 seconds default, 2 seconds for readiness

Readiness interpretation:
  - 200 OK → up
  - 404 Not Found → up (routing not configured yet, process answering)
  - 500 Internal Server Error → up (process answered)
  - Connection refused or timeout → not up

## TCP Health Checks

TCP checks verify that a port is listening and accepting connections:

	Check Type: TCP
	Configuration:
	├── Address: localhost:4217
	├── Timeout: 5 seconds
	└── Connection test only (no data sent)

Use cases:
  - Monitor fallback when the runtime cannot be asked about a worker
    (NewWorkerPortChecker dials the published host port)
  - Tests that only need "is something listening"

# Core Components

Checker:
  - Interface over HTTP and TCP checks
  - Check(ctx) returns Result{Healthy, Message, CheckedAt, Duration}
  - Check never returns an error: a probe that cannot run reads the
    same as a dead worker

Config:
  - Interval, Timeout, Retries, StartPeriod
  - WorkerProbeConfig(): 10s interval, 5s timeout, 3 retries, 30s
    start grace; the contract every worker container runs under

Status:
  - Tracks consecutive successes/failures for one worker
  - Update() flips Healthy only after Retries consecutive failures
  - One success resets the failure streak and recovers immediately
  - InStartPeriod() suppresses failures while a dev server installs
    dependencies on first boot

# Usage Examples

Readiness polling during session create:

	checker := health.NewReadinessChecker(session.Port)
	result := checker.Check(ctx)
	if result.Healthy {
		// transition starting -> running
	}

Crash detection with failure counting:

	status := health.NewStatus()
	cfg := health.WorkerProbeConfig()
	result := checker.Check(ctx)
	status.Update(result, cfg)
	if !status.Healthy && !status.InStartPeriod(cfg) {
		// stop the session with an error detail
	}

Plain TCP connectivity:

	tcp := health.NewTCPChecker("localhost:4217").WithTimeout(time.Second)
	result := tcp.Check(ctx)

# Design Patterns

Builder Configuration:

	Checkers chain WithX methods so call sites read as a sentence:
	NewHTTPChecker(url).WithStatusRange(100, 500).WithTimeout(2 * time.Second)

Threshold Flipping:

	One slow response must not reap a session. Status requires
	Config.Retries consecutive failures before reporting unhealthy.

# Performance Characteristics

  - Checks are synchronous; the monitor drives every worker from one
    loop, the create flow from its own retry loop
  - HTTP checks reuse the checker's http.Client and its pool
  - Readiness probes use a 2s per-attempt timeout so a hung accept
    cannot stall the create flow past its own deadline

# Troubleshooting

Probe always failing with "connection refused":
  - Port mapping missing on the container, or the dev server binds a
    different port inside than the contract port

Readiness passing but pages broken:
  - Expected: 404/500 count as up; page correctness is not the
    probe's job

Sessions stopped while still compiling:
  - Raise StartPeriod; the monitor ignores failures inside it

# See Also

  - pkg/session for the readiness loop and crash monitor
  - pkg/runtime for the runtime-level probe translation
*/
package health
