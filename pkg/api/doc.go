/*
Package api is the gateway's single public HTTP surface. One listener
carries four kinds of traffic, each with its own middleware stack:

	                       ┌──► /api/preview/*   REST (auth, permission,
	                       │                     quota, ownership, rate
	                       │                     limit, body cap, gzip)
	listener ── RequestID ─┼──► /preview/<id>/*  proxy (auth, ownership)
	  logging, recovery    │
	                       ├──► /ws              event hub (auth)
	                       │
	                       └──► /health*, /metrics   anonymous

# Middleware

Every request gets an id of the form req_<millis>_<9-char-random>,
returned in X-Request-Id and included in every log line and every error
body. The per-IP token bucket applies to the /api/ prefix only, so a
burst of API calls can never starve asset loads inside a preview
iframe; idle buckets are pruned on a timer. Compression wraps the API
and health surfaces but never proxied streams. The body cap exists
because file maps ride in request bodies.

# Error envelope

All failures share one JSON shape:

	{ "error": "...", "message": "...", "requestId": "req_..." }

The session manager's typed errors map onto the HTTP taxonomy in one
place (sessionError); handlers never pick status codes ad hoc.
*/
package api
