package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/policy"
	"github.com/cuemby/hutch/pkg/types"
)

type storeKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	OrgID     string    `json:"org_id,omitempty"`
	Scopes    []string  `json:"scopes"`
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

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

// fakeStore serves the policy-store wire protocol in-process so tests
// drive the real client end to end.
type fakeStore struct {
	mu         sync.Mutex
	keys       map[string]storeKey
	tokens     map[string]storeUser
	permission bool
	quota      quotaReply
	usage      []map[string]any
	events     []map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		keys:   make(map[string]storeKey),
		tokens: make(map[string]storeUser),
		quota:  quotaReply{Allowed: true},
	}
}

func (s *fakeStore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/keys/verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			KeyHash string `json:"key_hash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		key, ok := s.keys[req.KeyHash]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "unknown key", http.StatusNotFound)
			return
		}
		writeJSON(w, key)
	})
	mux.HandleFunc("POST /v1/tokens/verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		user, ok := s.tokens[req.Token]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "unknown token", http.StatusUnauthorized)
			return
		}
		writeJSON(w, user)
	})
	mux.HandleFunc("POST /v1/permissions/check", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		allowed := s.permission
		s.mu.Unlock()
		writeJSON(w, map[string]bool{"allowed": allowed})
	})
	mux.HandleFunc("POST /v1/quotas/check", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		reply := s.quota
		s.mu.Unlock()
		writeJSON(w, reply)
	})
	mux.HandleFunc("POST /v1/keys/usage", func(w http.ResponseWriter, r *http.Request) {
		s.record(&s.usage, r)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/security-events", func(w http.ResponseWriter, r *http.Request) {
		s.record(&s.events, r)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *fakeStore) record(into *[]map[string]any, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return
	}
	s.mu.Lock()
	*into = append(*into, body)
	s.mu.Unlock()
}

func (s *fakeStore) usageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.usage)
}

func (s *fakeStore) lastUsage() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.usage) == 0 {
		return nil
	}
	return s.usage[len(s.usage)-1]
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

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestAuth(t *testing.T) (*Authenticator, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)
	client := policy.NewClient(srv.URL, "svc-key", time.Second)
	return NewAuthenticator(client, false), store
}

func TestAuthenticateAPIKey(t *testing.T) {
	authn, store := newTestAuth(t)
	store.keys[policy.HashAPIKey("hutch-key-1")] = storeKey{
		ID:     "key-1",
		UserID: "user-1",
		OrgID:  "org-1",
		Scopes: []string{"preview:create"},
		Active: true,
	}

	r := httptest.NewRequest(http.MethodGet, "/api/preview/abc", nil)
	r.Header.Set("x-api-key", "hutch-key-1")
	r.RemoteAddr = "192.0.2.10:5555"

	id, err := authn.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "org-1", id.OrgID)
	assert.Equal(t, "key-1", id.APIKeyID)
	assert.Equal(t, []string{"preview:create"}, id.Scopes)

	// Usage is recorded off the request path.
	require.Eventually(t, func() bool { return store.usageCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	last := store.lastUsage()
	assert.Equal(t, "key-1", last["key_id"])
	assert.Equal(t, "192.0.2.10", last["client_ip"])
}

func TestAuthenticateAPIKeyInactive(t *testing.T) {
	authn, store := newTestAuth(t)
	store.keys[policy.HashAPIKey("revoked")] = storeKey{
		ID: "key-2", UserID: "user-1", Active: false,
	}

	r := httptest.NewRequest(http.MethodGet, "/api/preview/abc", nil)
	r.Header.Set("x-api-key", "revoked")

	_, err := authn.Authenticate(r)
	require.ErrorIs(t, err, policy.ErrInvalidCredentials)
}

func TestAuthenticateAPIKeyExpired(t *testing.T) {
	authn, store := newTestAuth(t)
	store.keys[policy.HashAPIKey("stale")] = storeKey{
		ID: "key-3", UserID: "user-1", Active: true,
		ExpiresAt: time.Now().Add(-time.Hour),
	}

	r := httptest.NewRequest(http.MethodGet, "/api/preview/abc", nil)
	r.Header.Set("x-api-key", "stale")

	_, err := authn.Authenticate(r)
	require.ErrorIs(t, err, policy.ErrInvalidCredentials)
}

func TestAuthenticateAPIKeyUnknown(t *testing.T) {
	authn, _ := newTestAuth(t)

	r := httptest.NewRequest(http.MethodGet, "/api/preview/abc", nil)
	r.Header.Set("x-api-key", "never-issued")

	_, err := authn.Authenticate(r)
	require.ErrorIs(t, err, policy.ErrInvalidCredentials)
}

func TestAuthenticateBearer(t *testing.T) {
	authn, store := newTestAuth(t)
	store.tokens["tok-abc"] = storeUser{
		UserID:      "user-2",
		Email:       "dev@example.com",
		OrgID:       "org-1",
		Role:        "admin",
		Permissions: []string{"preview:create", "preview:read"},
	}

	r := httptest.NewRequest(http.MethodGet, "/api/preview/abc", nil)
	r.Header.Set("Authorization", "Bearer tok-abc")

	id, err := authn.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-2", id.UserID)
	assert.Equal(t, "dev@example.com", id.Email)
	assert.Equal(t, types.RoleAdmin, id.Role)
	assert.True(t, id.Role.Admin())
	assert.Empty(t, id.APIKeyID)
}

func TestAuthenticateBearerInvalid(t *testing.T) {
	authn, _ := newTestAuth(t)

	r := httptest.NewRequest(http.MethodGet, "/api/preview/abc", nil)
	r.Header.Set("Authorization", "Bearer forged")

	_, err := authn.Authenticate(r)
	require.ErrorIs(t, err, policy.ErrInvalidCredentials)
}

func TestAuthenticateNoCredentials(t *testing.T) {
	authn, _ := newTestAuth(t)

	r := httptest.NewRequest(http.MethodGet, "/api/preview/abc", nil)

	_, err := authn.Authenticate(r)
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestAuthenticatePrefersAPIKey(t *testing.T) {
	authn, store := newTestAuth(t)
	store.keys[policy.HashAPIKey("hutch-key-1")] = storeKey{
		ID: "key-1", UserID: "key-user", Active: true,
	}
	store.tokens["tok-abc"] = storeUser{UserID: "token-user"}

	r := httptest.NewRequest(http.MethodGet, "/api/preview/abc", nil)
	r.Header.Set("x-api-key", "hutch-key-1")
	r.Header.Set("Authorization", "Bearer tok-abc")

	id, err := authn.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "key-user", id.UserID)
	assert.Equal(t, "key-1", id.APIKeyID)
}

func TestAuthenticateStoreDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	authn := NewAuthenticator(policy.NewClient(srv.URL, "svc-key", time.Second), false)

	r := httptest.NewRequest(http.MethodGet, "/api/preview/abc", nil)
	r.Header.Set("x-api-key", "hutch-key-1")

	_, err := authn.Authenticate(r)
	require.ErrorIs(t, err, policy.ErrUnavailable)
}

func TestDevBypass(t *testing.T) {
	// No server behind the client: the bypass must not call out.
	authn := NewAuthenticator(policy.NewClient("http://127.0.0.1:1", "", time.Second), true)

	r := httptest.NewRequest(http.MethodGet, "/api/preview/abc", nil)

	id, err := authn.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "dev-user", id.UserID)
	assert.Contains(t, id.Scopes, "*")
	assert.True(t, id.Role.Admin())
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"Bearer  abc123", "abc123"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bearerToken(tt.header), "header %q", tt.header)
	}
}
