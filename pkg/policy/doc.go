/*
Package policy is the HTTP client for the external policy store and
identity provider.

All durable state lives across this boundary: API keys, permissions,
quota counters, and security events. The gateway process itself persists
nothing; it queries and records through this client and keeps only
in-memory session state.

# Architecture

	┌───────────────┐        HTTP/JSON        ┌──────────────────┐
	│   pkg/auth    │ ──────────────────────► │   policy store   │
	│  (middleware) │    x-service-key auth   │  / identity      │
	└───────┬───────┘                         │    provider      │
	        │                                 └──────────────────┘
	        ▼
	  policy.Client
	    VerifyAPIKey      POST /v1/keys/verify
	    VerifyBearer      POST /v1/tokens/verify
	    CheckPermission   POST /v1/permissions/check
	    CheckQuota        POST /v1/quotas/check
	    RecordKeyUsage    POST /v1/keys/usage
	    RecordSecurityEvent  POST /v1/security-events

Every call carries a per-call timeout derived from the configured
policy timeout, independent of the caller's request deadline.

# Error Model

Two sentinels classify every failure:

  - ErrInvalidCredentials: the store answered and said no (401, 403,
    404). Authentication fails closed on it.
  - ErrUnavailable: transport failure or 5xx. The caller decides:
    quota checks fail open (a store outage must not take previews
    down), auth fails closed, event writes are dropped with a warning.

# Usage

	client := policy.NewClient(cfg.Policy.BaseURL, cfg.Policy.ServiceKey, cfg.Policy.Timeout)

	key, err := client.VerifyAPIKey(ctx, policy.HashAPIKey(raw))
	if errors.Is(err, policy.ErrInvalidCredentials) {
		// 401
	}

	dec, err := client.CheckQuota(ctx, id.Tenant(), types.QuotaConcurrentSessions, 1)
	if err != nil {
		// log warning, proceed (fail-open)
	} else if !dec.Allowed {
		// 429 with dec.Current / dec.Limit
	}

# Security

  - Raw API keys never reach this package: callers hash first with
    HashAPIKey (SHA-256 hex) and only the hash travels.
  - The gateway authenticates itself with the x-service-key header.
  - Security events carry client IP, user agent, and request id so the
    store can correlate abuse across gateways.

# Integration Points

  - pkg/auth: every authentication and authorization decision
  - pkg/api: quota middleware on resource-allocating routes
  - cmd/hutch: constructs the client from config at startup

# See Also

  - pkg/auth for how verification results become request identities
  - pkg/types for APIKey, QuotaDecision, SecurityEvent
*/
package policy
