package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/auth"
	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/policy"
	"github.com/cuemby/hutch/pkg/proxy"
	"github.com/cuemby/hutch/pkg/runtime"
	"github.com/cuemby/hutch/pkg/session"
)

type storeUser struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	OrgID       string   `json:"org_id,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
}

type quotaReply struct {
	Allowed bool `json:"allowed"`
	Current int  `json:"current"`
	Limit   int  `json:"limit"`
}

// fakeStore speaks the policy-store wire protocol so requests exercise
// the real authenticator and quota middleware.
type fakeStore struct {
	mu       sync.Mutex
	tokens   map[string]storeUser
	quota    quotaReply
	quotaErr bool
	events   []map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens: map[string]storeUser{
			"tok-a": {UserID: "user-a", Email: "a@example.com", OrgID: "org-a", Role: "member", Permissions: []string{"*"}},
			"tok-b": {UserID: "user-b", Email: "b@example.com", OrgID: "org-b", Role: "member", Permissions: []string{"*"}},
		},
		quota: quotaReply{Allowed: true},
	}
}

func (s *fakeStore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tokens/verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		user, ok := s.tokens[req.Token]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "unknown token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("POST /v1/quotas/check", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		reply, fail := s.quota, s.quotaErr
		s.mu.Unlock()
		if fail {
			http.Error(w, "store down", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	})
	mux.HandleFunc("POST /v1/security-events", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			s.mu.Lock()
			s.events = append(s.events, body)
			s.mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *fakeStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *fakeStore) lastEvent() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

type testGateway struct {
	srv      *httptest.Server
	manager  *session.Manager
	fake     *runtime.Fake
	store    *fakeStore
	workDirs string
}

func newTestGateway(t *testing.T, mutate func(*config.Config)) *testGateway {
	t.Helper()

	cfg := config.Default()
	cfg.Environment = "test"
	cfg.Session.WorkDirBase = t.TempDir()
	cfg.Session.PortMin = 4200
	cfg.Session.PortMax = 4219
	if mutate != nil {
		mutate(cfg)
	}

	store := newFakeStore()
	storeSrv := httptest.NewServer(store.handler())
	t.Cleanup(storeSrv.Close)

	client := policy.NewClient(storeSrv.URL, "svc-key", time.Second)
	fake := runtime.NewFake()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	manager, err := session.NewManager(cfg.Session, cfg.Worker, cfg.Server.PublicURL, fake, broker)
	require.NoError(t, err)
	manager.WithReadyProbe(func(ctx context.Context, port int) error { return nil })

	authn := auth.NewAuthenticator(client, false)
	mw := auth.NewMiddleware(authn, client, manager)
	engine := proxy.NewEngine(manager.PortFor)
	hub := events.NewHub(broker, nil)

	server := NewServer(cfg, manager, mw, engine, hub)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	metrics.RegisterComponent("runtime", true, "fake")
	metrics.RegisterComponent("policy", true, "fake")
	metrics.RegisterComponent("api", true, "test")

	return &testGateway{
		srv:      srv,
		manager:  manager,
		fake:     fake,
		store:    store,
		workDirs: cfg.Session.WorkDirBase,
	}
}

func (g *testGateway) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, g.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &decoded)
	}
	return resp, decoded
}

func (g *testGateway) start(t *testing.T, token, projectID string, files map[string]string) string {
	t.Helper()

	resp, body := g.do(t, http.MethodPost, "/api/preview/start", token, map[string]any{
		"projectId": projectID,
		"files":     files,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "start failed: %v", body)
	sess := body["session"].(map[string]any)
	return sess["id"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	g := newTestGateway(t, nil)

	for _, path := range []string{"/health", "/health/ready", "/health/live"} {
		resp, body := g.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, body, path)
	}
}

func TestRequestIDShape(t *testing.T) {
	g := newTestGateway(t, nil)

	resp, body := g.do(t, http.MethodGet, "/api/preview/unknown", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	pattern := regexp.MustCompile(`^req_\d+_[a-z0-9]{9}$`)
	assert.Regexp(t, pattern, resp.Header.Get("X-Request-Id"))
	assert.Regexp(t, pattern, body["requestId"])
}

func TestStartLifecycle(t *testing.T) {
	g := newTestGateway(t, nil)

	resp, body := g.do(t, http.MethodPost, "/api/preview/start", "tok-a", map[string]any{
		"projectId": "demo",
		"files":     map[string]string{"src/app.ts": "export const x = 1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	sess := body["session"].(map[string]any)
	id := sess["id"].(string)
	assert.Len(t, id, 32)
	assert.Equal(t, "running", sess["status"])
	assert.Equal(t, "demo", sess["projectId"])
	assert.Equal(t, "http://localhost:8080/preview/"+id, sess["iframeUrl"])

	// Summary read-back.
	resp, body = g.do(t, http.MethodGet, "/api/preview/"+id, "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])

	// Patch lands byte for byte in the work directory.
	resp, _ = g.do(t, http.MethodPatch, "/api/preview/"+id+"/file", "tok-a", map[string]any{
		"path":    "src/app.ts",
		"content": "export const x = 2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := os.ReadFile(filepath.Join(g.workDirs, id, "src", "app.ts"))
	require.NoError(t, err)
	assert.Equal(t, "export const x = 2", string(data))

	// Ping and logs.
	resp, _ = g.do(t, http.MethodPost, "/api/preview/"+id+"/ping", "tok-a", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	g.fake.LogLines = []string{"ready in 120ms"}
	resp, body = g.do(t, http.MethodGet, "/api/preview/"+id+"/logs", "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"ready in 120ms"}, body["logs"])
	assert.Equal(t, false, body["hasMore"])

	// Stop is idempotent and the session vanishes.
	resp, _ = g.do(t, http.MethodPost, "/api/preview/"+id+"/stop", "tok-a", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = g.do(t, http.MethodPost, "/api/preview/"+id+"/stop", "tok-a", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = g.do(t, http.MethodGet, "/api/preview/"+id, "tok-a", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartValidation(t *testing.T) {
	g := newTestGateway(t, nil)

	resp, body := g.do(t, http.MethodPost, "/api/preview/start", "tok-a", map[string]any{
		"files": map[string]string{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "projectId")

	req, err := http.NewRequest(http.MethodPost, g.srv.URL+"/api/preview/start", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok-a")
	resp2, err := g.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestStartUnauthenticated(t *testing.T) {
	g := newTestGateway(t, nil)

	resp, body := g.do(t, http.MethodPost, "/api/preview/start", "", map[string]any{
		"projectId": "demo",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["error"])
	assert.NotEmpty(t, body["requestId"])
	assert.Equal(t, 0, g.fake.Count(), "no container may exist after a rejected request")
}

func TestOwnershipViolation(t *testing.T) {
	g := newTestGateway(t, nil)
	id := g.start(t, "tok-a", "demo", nil)

	resp, body := g.do(t, http.MethodGet, "/api/preview/"+id, "tok-b", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotEmpty(t, body["requestId"])

	require.Eventually(t, func() bool { return g.store.eventCount() > 0 }, 2*time.Second, 10*time.Millisecond)
	event := g.store.lastEvent()
	assert.Equal(t, "suspicious_activity", event["kind"])
	assert.Equal(t, "high", event["risk"])
	assert.Equal(t, "user-b", event["user_id"])
	details := event["details"].(map[string]any)
	assert.Equal(t, "user-a", details["session_owner"])
}

func TestQuotaDenied(t *testing.T) {
	g := newTestGateway(t, nil)
	g.store.quota = quotaReply{Allowed: false, Current: 5, Limit: 5}

	resp, body := g.do(t, http.MethodPost, "/api/preview/start", "tok-a", map[string]any{
		"projectId": "demo",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, float64(5), body["current"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, 0, g.fake.Count())
}

func TestQuotaFailOpen(t *testing.T) {
	g := newTestGateway(t, nil)
	g.store.quotaErr = true

	resp, _ := g.do(t, http.MethodPost, "/api/preview/start", "tok-a", map[string]any{
		"projectId": "demo",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPortExhaustion(t *testing.T) {
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Session.PortMin = 4200
		cfg.Session.PortMax = 4200
		cfg.Session.MaxSessions = 2
	})

	g.start(t, "tok-a", "demo", nil)

	resp, body := g.do(t, http.MethodPost, "/api/preview/start", "tok-a", map[string]any{
		"projectId": "demo",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "no available ports", body["message"])
}

func TestMaxSessionsReached(t *testing.T) {
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Session.MaxSessions = 1
	})

	g.start(t, "tok-a", "demo", nil)

	resp, body := g.do(t, http.MethodPost, "/api/preview/start", "tok-a", map[string]any{
		"projectId": "demo",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "maximum sessions reached", body["message"])
}

func TestRateLimit(t *testing.T) {
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Limits.RatePerMinute = 60
		cfg.Limits.RateBurst = 1
	})

	resp, _ := g.do(t, http.MethodGet, "/api/preview/some-session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "first request passes the limiter")

	resp, body := g.do(t, http.MethodGet, "/api/preview/some-session", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestRateLimiterSparesPreviewTraffic(t *testing.T) {
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Limits.RatePerMinute = 60
		cfg.Limits.RateBurst = 1
	})
	id := g.start(t, "tok-a", "demo", nil)

	// Exhaust the API budget, then hit the preview mount: the proxy
	// must still answer (502 here, nothing listens on the fake port).
	g.do(t, http.MethodGet, "/api/preview/"+id, "tok-a", nil)
	g.do(t, http.MethodGet, "/api/preview/"+id, "tok-a", nil)

	resp, _ := g.do(t, http.MethodGet, "/preview/"+id+"/", "tok-a", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestPreviewUnknownSession(t *testing.T) {
	g := newTestGateway(t, nil)

	resp, _ := g.do(t, http.MethodGet, "/preview/deadbeefdeadbeefdeadbeefdeadbeef/", "tok-a", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.CORS.AllowedOrigins = []string{"http://editor.example.com"}
	})

	req, err := http.NewRequest(http.MethodOptions, g.srv.URL+"/api/preview/start", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://editor.example.com")
	resp, err := g.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://editor.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	// Unlisted origins get no CORS grant.
	req, err = http.NewRequest(http.MethodOptions, g.srv.URL+"/api/preview/start", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example.com")
	resp2, err := g.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestBodyTooLarge(t *testing.T) {
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Limits.MaxBodyBytes = 128
	})

	resp, body := g.do(t, http.MethodPost, "/api/preview/start", "tok-a", map[string]any{
		"projectId": "demo",
		"files":     map[string]string{"big.txt": fmt.Sprintf("%0512d", 0)},
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "request body too large", body["error"])
}

func TestRateLimiterPrune(t *testing.T) {
	l := NewRateLimiter(60, 5)
	l.Allow("192.0.2.1")
	l.Allow("192.0.2.2")

	l.mu.Lock()
	l.clients["192.0.2.1"].lastSeen = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.prune(time.Now().Add(-pruneIdle))

	l.mu.Lock()
	defer l.mu.Unlock()
	_, gone := l.clients["192.0.2.1"]
	_, kept := l.clients["192.0.2.2"]
	assert.False(t, gone)
	assert.True(t, kept)
}

func BenchmarkRequestID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		newRequestID()
	}
}
