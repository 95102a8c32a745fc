package api

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/hutch/pkg/auth"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
)

const requestIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newRequestID mints an id of the form req_<millis>_<9-char-random>.
func newRequestID() string {
	b := make([]byte, 9)
	for i := range b {
		b[i] = requestIDAlphabet[rand.IntN(len(requestIDAlphabet))]
	}
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), b)
}

// RequestID assigns every request a unique id, visible in the response
// headers, every log line, and every error body.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := newRequestID()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

// statusRecorder captures the response status while staying hijackable
// for WebSocket upgrades and flushable for streamed proxy responses.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rec.hijacked = true
	return hijacker.Hijack()
}

func (rec *statusRecorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// logging writes one line per request and feeds the API counters.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		took := time.Since(start)
		event := s.logger.Info()
		if rec.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		if rec.hijacked {
			rec.status = http.StatusSwitchingProtocols
		}
		event.
			Str("request_id", log.RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Str("client_ip", auth.ClientIP(r)).
			Dur("took", took).
			Msg("Request")

		if strings.HasPrefix(r.URL.Path, "/api/") {
			metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
			metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(took.Seconds())
		}
	})
}

// recovery turns a handler panic into a 500 with the request id, never
// a stack trace in the body.
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error().
					Any("panic", p).
					Str("request_id", log.RequestIDFromContext(r.Context())).
					Str("path", r.URL.Path).
					Msg("Handler panicked")
				writeError(w, r, http.StatusInternalServerError, "internal error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// cors applies the configured origin allowlist and answers preflights.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if s.cfg.CORS.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if r.Method == http.MethodOptions {
			h := w.Header()
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, x-api-key")
			h.Set("Access-Control-Max-Age", "300")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// maxBody caps request bodies; oversized reads fail inside the JSON
// decoder with a *http.MaxBytesError.
func maxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit applies the per-IP token bucket. Rejections produce the
// standard envelope plus a security event.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := auth.ClientIP(r)
		if !s.limiter.Allow(ip) {
			metrics.RateLimitRejections.Inc()
			s.logger.Warn().
				Str("client_ip", ip).
				Str("request_id", log.RequestIDFromContext(r.Context())).
				Msg("Rate limit exceeded")
			s.mw.RecordRateLimited(r)
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateClient pairs a token bucket with the last time its IP was seen,
// so idle buckets can be pruned.
type rateClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rateClient
	limit   rate.Limit
	burst   int
	stopCh  chan struct{}
}

const (
	pruneInterval = time.Minute
	pruneIdle     = 10 * time.Minute
)

// NewRateLimiter creates a limiter allowing perMinute requests with the
// given burst per client IP.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*rateClient),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		stopCh:  make(chan struct{}),
	}
}

// Allow reports whether ip may proceed, consuming one token.
func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &rateClient{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.limiter.Allow()
}

// Start begins the prune loop that drops buckets for idle IPs.
func (l *RateLimiter) Start() {
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.prune(time.Now().Add(-pruneIdle))
			case <-l.stopCh:
				return
			}
		}
	}()
}

// Stop stops the prune loop.
func (l *RateLimiter) Stop() {
	close(l.stopCh)
}

func (l *RateLimiter) prune(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}
