package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
)

// PortResolver maps a session id to the host port its worker listens
// on. The second return is false for unknown sessions.
type PortResolver func(sessionID string) (int, bool)

// Engine proxies everything under /preview/:sessionId to the session's
// worker: plain HTTP, streamed responses, and WebSocket upgrades for
// HMR. It trusts the middleware in front of it for authentication and
// ownership and never reauthenticates per request.
type Engine struct {
	resolve     PortResolver
	dialTimeout time.Duration
	logger      zerolog.Logger
}

// NewEngine creates a proxy engine over the given resolver.
func NewEngine(resolve PortResolver) *Engine {
	return &Engine{
		resolve:     resolve,
		dialTimeout: 10 * time.Second,
		logger:      log.WithComponent("proxy"),
	}
}

// ServeHTTP handles /preview/:sessionId and everything beneath it.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID, rest := splitSessionPath(r.URL.Path)
	if sessionID == "" {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	port, ok := e.resolve(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	// Strip the session prefix; the worker serves from the root. The
	// query string rides along untouched.
	r.URL.Path = "/" + rest

	if isWebSocketRequest(r) {
		metrics.ProxyRequestsTotal.WithLabelValues("websocket").Inc()
		e.tunnel(w, r, fmt.Sprintf("localhost:%d", port))
		return
	}

	metrics.ProxyRequestsTotal.WithLabelValues("http").Inc()
	e.forward(w, r, port)
}

// forward proxies one plain HTTP request to the worker.
func (e *Engine) forward(w http.ResponseWriter, r *http.Request, port int) {
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("localhost:%d", port)}

	proxy := httputil.NewSingleHostReverseProxy(target)

	// FlushInterval below zero flushes every write straight through,
	// which streamed dev-server responses depend on.
	proxy.FlushInterval = -1

	inboundHost := r.Host
	inboundProto := requestProto(r)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = target.Host
		req.Header.Set("X-Forwarded-Proto", inboundProto)
		req.Header.Set("X-Forwarded-Host", inboundHost)
		// X-Forwarded-For is appended by the proxy itself.
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		metrics.ProxyErrorsTotal.Inc()
		e.logger.Warn().Err(err).Str("target", target.Host).Msg("Upstream request failed")
		http.Error(w, "Bad gateway", http.StatusBadGateway)
	}

	proxy.ServeHTTP(w, r)
}

// tunnel performs the HTTP/1.1 upgrade dance for WebSocket requests:
// dial the worker, hijack the client connection, replay the upgrade
// request, then pipe raw frames both ways until either side closes.
// Copying socket to socket has no buffering layer, so every frame
// flushes immediately, which HMR latency depends on.
func (e *Engine) tunnel(w http.ResponseWriter, r *http.Request, addr string) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "websocket proxying not supported", http.StatusInternalServerError)
		return
	}

	backend, err := net.DialTimeout("tcp", addr, e.dialTimeout)
	if err != nil {
		metrics.ProxyErrorsTotal.Inc()
		e.logger.Warn().Err(err).Str("target", addr).Msg("WebSocket backend unreachable")
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}
	defer backend.Close()

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to hijack client connection")
		return
	}
	defer clientConn.Close()

	setForwardedHeaders(r)
	r.Host = addr
	if err := r.Write(backend); err != nil {
		e.logger.Warn().Err(err).Str("target", addr).Msg("Failed to replay upgrade request")
		return
	}

	done := make(chan struct{}, 2)
	pipe := func(dst io.Writer, src io.Reader) {
		io.Copy(dst, src) //nolint:errcheck
		done <- struct{}{}
	}
	go pipe(backend, clientConn)
	go pipe(clientConn, backend)
	<-done
}

// splitSessionPath extracts the session id and the downstream path
// from /preview/<id>[/rest...].
func splitSessionPath(path string) (sessionID, rest string) {
	trimmed := strings.TrimPrefix(path, "/preview/")
	if trimmed == path || trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

// isWebSocketRequest reports whether the request asks for a WebSocket
// upgrade.
func isWebSocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// setForwardedHeaders extends the X-Forwarded chain on a request about
// to be replayed to a worker.
func setForwardedHeaders(r *http.Request) {
	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)

	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		r.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else if clientIP != "" {
		r.Header.Set("X-Forwarded-For", clientIP)
	}
	r.Header.Set("X-Forwarded-Proto", requestProto(r))
	r.Header.Set("X-Forwarded-Host", r.Host)
}

func requestProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
