/*
Package proxy forwards browser traffic to session workers. Every
request under /preview/:sessionId, whether an HTML page, an asset
fetch, or an HMR WebSocket, lands here after the auth middleware has
cleared it.

# Architecture

	browser ── /preview/<id>/path?q ──► Engine
	                                      │ resolve(<id>) -> host port
	                                      │ strip /preview/<id>
	                          ┌───────────┴───────────┐
	                     plain HTTP              Upgrade: websocket
	                          │                        │
	                httputil.ReverseProxy       hijack + raw TCP pipe
	                          │                        │
	                          └──► http://localhost:<port>/path?q

# Behavior

The engine resolves the session's port (404 when the session is
unknown), strips the /preview/<id> prefix so workers serve from their
root, rewrites Host to the target authority, and extends the
X-Forwarded chain. Responses stream back unmodified; FlushInterval is
negative so server-sent chunks are never held. WebSocket upgrades
bypass the HTTP stack entirely: the client connection is hijacked, the
upgrade request replayed to the worker, and raw bytes piped both ways
until either side closes. Upstream connection failures answer 502 with
a short text body.

The engine does not check the session's status. A worker that is still
starting but already listening may legitimately receive traffic, and a
dead worker simply produces a 502.
*/
package proxy
