/*
Package auth authenticates requests and gates protected routes.

The gateway trusts nothing it did not resolve itself: every request to
an /api/ route passes through this package before any handler runs, and
every decision that says no leaves a trace (a metric, and for the
event-worthy cases a security event in the policy store).

# Architecture

	request
	   │
	   ▼
	RequireAuth ── x-api-key ──► policy.VerifyAPIKey ──┐
	   │            Bearer  ───► policy.VerifyBearer   │ identity
	   ▼                                               ▼
	RequirePermission(name)        scopes / role / policy RPC
	   │
	   ▼
	CheckQuota(class)              tenant counter, fail-open
	   │
	   ▼
	RequireSessionOwner            owner match or org admin
	   │
	   ▼
	handler

Routes compose only the gates they need: session creation takes the
full chain, a session read skips the quota gate, the preview proxy
mount takes auth plus ownership.

# Decisions

  - Credential failures are 401 and a policy-store outage during
    authentication is 503. Both fail closed; the distinct status keeps
    "bad key" and "store down" apart for clients and dashboards.
  - Quota checks fail open on store errors. A warning with the request
    id is logged and the request proceeds.
  - Ownership violations are 403 and write a suspicious_activity event
    at high risk with the session owner and the caller in the details.
  - Unknown session ids pass through the ownership gate. The handler
    owns the 404, and stopping an already-gone session stays a success.
  - The development bypass stubs a wildcard-permission identity. The
    flag is only honored outside production (config.DevBypassActive).

# Usage

	authn := auth.NewAuthenticator(policyClient, cfg.DevBypassActive())
	mw := auth.NewMiddleware(authn, policyClient, manager)

	mux.Handle("POST /api/preview/start",
		mw.RequireAuth(mw.RequirePermission("preview:create")(
			mw.CheckQuota(types.QuotaConcurrentSessions)(startHandler))))

# Integration Points

  - pkg/policy: credential verification, permission and quota RPCs,
    security event writes
  - pkg/session: Manager satisfies SessionSource for ownership checks
  - pkg/api: composes these middlewares onto the route table
*/
package auth
