package policy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/types"
)

func TestHashAPIKey(t *testing.T) {
	h := HashAPIKey("sk_live_abc123")

	assert.Len(t, h, 64)
	assert.Equal(t, h, HashAPIKey("sk_live_abc123"))
	assert.NotEqual(t, h, HashAPIKey("sk_live_abc124"))
}

func TestVerifyAPIKey(t *testing.T) {
	var gotPath, gotServiceKey string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotServiceKey = r.Header.Get("x-service-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"id":      "key-1",
			"user_id": "user-1",
			"org_id":  "org-1",
			"scopes":  []string{"preview:create"},
			"active":  true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-secret", 5*time.Second)
	key, err := c.VerifyAPIKey(context.Background(), HashAPIKey("sk_test"))
	require.NoError(t, err)

	assert.Equal(t, "/v1/keys/verify", gotPath)
	assert.Equal(t, "svc-secret", gotServiceKey)
	assert.Equal(t, HashAPIKey("sk_test"), gotBody["key_hash"])
	assert.Equal(t, "key-1", key.ID)
	assert.Equal(t, "user-1", key.UserID)
	assert.Equal(t, "org-1", key.OrgID)
	assert.True(t, key.Active)
	assert.Contains(t, key.Scopes, "preview:create")
}

func TestVerifyAPIKeyUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	_, err := c.VerifyAPIKey(context.Background(), HashAPIKey("nope"))

	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestVerifyBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"user_id":     "user-7",
			"email":       "dev@example.com",
			"org_id":      "org-2",
			"role":        "admin",
			"permissions": []string{"preview:create", "preview:manage"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	id, err := c.VerifyBearer(context.Background(), "token-xyz")
	require.NoError(t, err)

	assert.Equal(t, "user-7", id.UserID)
	assert.Equal(t, "dev@example.com", id.Email)
	assert.Equal(t, types.RoleAdmin, id.Role)
	assert.True(t, id.Role.Admin())
	assert.Len(t, id.Scopes, 2)
}

func TestVerifyBearerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	_, err := c.VerifyBearer(context.Background(), "expired")

	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestCheckQuota(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    map[string]any
		allowed bool
		current int
		limit   int
		wantErr error
	}{
		{
			name:    "within limit",
			status:  http.StatusOK,
			body:    map[string]any{"allowed": true, "current": 2, "limit": 5},
			allowed: true, current: 2, limit: 5,
		},
		{
			name:    "over limit",
			status:  http.StatusOK,
			body:    map[string]any{"allowed": false, "current": 5, "limit": 5},
			allowed: false, current: 5, limit: 5,
		},
		{
			name:    "store down",
			status:  http.StatusInternalServerError,
			wantErr: ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != nil {
					json.NewEncoder(w).Encode(tt.body)
				}
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "", 5*time.Second)
			dec, err := c.CheckQuota(context.Background(), "org-1", types.QuotaConcurrentSessions, 1)

			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, dec.Allowed)
			assert.Equal(t, tt.current, dec.Current)
			assert.Equal(t, tt.limit, dec.Limit)
		})
	}
}

func TestCheckQuotaUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", 500*time.Millisecond)
	_, err := c.CheckQuota(context.Background(), "org-1", types.QuotaConcurrentSessions, 1)

	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestRecordSecurityEvent(t *testing.T) {
	var got securityEventRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	err := c.RecordSecurityEvent(context.Background(), &types.SecurityEvent{
		Kind:      types.EventSuspiciousActivity,
		UserID:    "user-9",
		ClientIP:  "203.0.113.7",
		RequestID: "req_1_abc",
		Path:      "/api/preview/xyz",
		Method:    "GET",
		Risk:      types.RiskHigh,
		Details:   map[string]string{"session_owner": "user-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "suspicious_activity", got.Kind)
	assert.Equal(t, "user-9", got.UserID)
	assert.Equal(t, "high", got.Risk)
	assert.Equal(t, "user-1", got.Details["session_owner"])
	assert.NotEmpty(t, got.ID, "event id should be minted when absent")
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRecordKeyUsage(t *testing.T) {
	var got keyUsageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	require.NoError(t, c.RecordKeyUsage(context.Background(), "key-1", "198.51.100.4"))

	assert.Equal(t, "key-1", got.KeyID)
	assert.Equal(t, "198.51.100.4", got.ClientIP)
	assert.False(t, got.UsedAt.IsZero())
}
