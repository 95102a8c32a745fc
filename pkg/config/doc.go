/*
Package config loads and validates the gateway configuration.

Configuration is layered from three sources, later sources winning:

 1. Code defaults (config.Default)
 2. An optional YAML file passed to the serve command
 3. Environment variables prefixed HUTCH_

# Architecture

	┌─────────────────────────────────────────────┐
	│               config.Load(path)             │
	│                                             │
	│   Default()          code defaults          │
	│      │                                      │
	│   yaml.Unmarshal     optional file          │
	│      │                                      │
	│   envconfig.Process  HUTCH_* overrides      │
	│      │                                      │
	│   Validate()         reject nonsense        │
	└─────────────────────────────────────────────┘

The same struct carries yaml and envconfig tags, so file keys and
environment names stay in one place. Nested sections map to prefixed
variables: server.port becomes HUTCH_SERVER_PORT, worker.image becomes
HUTCH_WORKER_IMAGE.

# Sections

Server:
  - host, port, public_url
  - read_header_timeout, idle_timeout, shutdown_timeout
  - No write timeout: hijacked WebSocket tunnels inherit socket
    deadlines, and a write deadline would kill long-lived HMR streams

Log:
  - level (debug/info/warn/error), json

CORS:
  - allowed_origins, allow_credentials

Limits:
  - max_body_bytes (default 10 MiB; file maps are large)
  - rate_per_minute, rate_burst (per-IP bucket on /api/ only)

Policy:
  - base_url, service_key, timeout for the policy store / identity
    provider

Auth:
  - dev_bypass: stub a wildcard-permission user; ignored when
    environment is "production" (see DevBypassActive)

Session:
  - max_sessions, port_min/port_max (the bounded port pool)
  - idle_timeout_ms, reap_interval, ready_timeout, monitor_interval
  - workdir_base, log_ring_cap, log_tail_default

Worker:
  - image, network, dns
  - memory_mb, memory_reservation_mb, cpu_percent, cpu_shares,
    pids_limit, disk_mb + enable_disk_quota, blkio_weight

# Usage

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.DevBypassActive() {
		// development only; never true in production
	}

Environment-only deployment (no file):

	HUTCH_SERVER_PORT=9000 \
	HUTCH_WORKER_IMAGE=registry.example.com/worker:v2 \
	HUTCH_SESSION_MAX_SESSIONS=20 \
	hutch serve

# Validation

Load fails fast on configurations the gateway cannot run with: inverted
or out-of-bounds port ranges, non-positive session caps or timeouts, an
empty worker image, CPU percent outside [1, 100], or an unknown log
level. A process that starts is a process whose config made sense.

# Integration Points

  - cmd/hutch: loads config before any component starts
  - pkg/session: port pool, timeouts, workdir base, log ring sizing
  - pkg/runtime: worker image, network, resource envelope
  - pkg/api: listener timeouts, CORS, body cap, rate limit
  - pkg/policy: upstream base URL and service key
  - pkg/auth: dev bypass decision

# See Also

  - pkg/session for how the port pool and timeouts are consumed
  - https://github.com/kelseyhightower/envconfig for override semantics
*/
package config
