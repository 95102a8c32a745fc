package policy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/types"
)

// Sentinel errors mapped to HTTP statuses at the API edge.
var (
	// ErrInvalidCredentials covers unknown, inactive, or expired
	// credentials. Auth fails closed on it.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable marks transport or 5xx failures from the store.
	// Callers decide fail-open (quota) vs fail-closed (auth).
	ErrUnavailable = errors.New("policy store unavailable")
)

// Client talks to the external policy store / identity provider over
// HTTP. All durable state (keys, events, quotas) lives on the other
// side of this client; the gateway holds nothing.
type Client struct {
	baseURL    string
	serviceKey string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a policy client for the given base URL. The
// service key authenticates the gateway itself to the store.
func NewClient(baseURL, serviceKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.WithComponent("policy"),
	}
}

// HashAPIKey derives the lookup key the store indexes on. Raw API keys
// never travel to the store or into logs.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type verifyKeyRequest struct {
	KeyHash string `json:"key_hash"`
}

type verifyKeyResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	OrgID     string    `json:"org_id,omitempty"`
	Scopes    []string  `json:"scopes"`
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// VerifyAPIKey resolves a hashed x-api-key to its store record. An
// unknown hash returns ErrInvalidCredentials; active/expiry policy is
// the caller's to enforce.
func (c *Client) VerifyAPIKey(ctx context.Context, keyHash string) (*types.APIKey, error) {
	var resp verifyKeyResponse
	if err := c.post(ctx, "/v1/keys/verify", verifyKeyRequest{KeyHash: keyHash}, &resp); err != nil {
		return nil, err
	}
	return &types.APIKey{
		ID:        resp.ID,
		UserID:    resp.UserID,
		OrgID:     resp.OrgID,
		Scopes:    resp.Scopes,
		Active:    resp.Active,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

type verifyTokenRequest struct {
	Token string `json:"token"`
}

type verifyTokenResponse struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	OrgID       string   `json:"org_id,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
}

// VerifyBearer verifies a bearer token with the identity provider and
// resolves the user's primary organization membership.
func (c *Client) VerifyBearer(ctx context.Context, token string) (*types.Identity, error) {
	var resp verifyTokenResponse
	if err := c.post(ctx, "/v1/tokens/verify", verifyTokenRequest{Token: token}, &resp); err != nil {
		return nil, err
	}
	return &types.Identity{
		UserID: resp.UserID,
		Email:  resp.Email,
		OrgID:  resp.OrgID,
		Role:   types.Role(resp.Role),
		Scopes: resp.Permissions,
	}, nil
}

type checkPermissionRequest struct {
	UserID     string `json:"user_id"`
	OrgID      string `json:"org_id,omitempty"`
	Permission string `json:"permission"`
}

type checkPermissionResponse struct {
	Allowed bool `json:"allowed"`
}

// CheckPermission asks the store whether a user holds a permission not
// present in its cached scopes. Used as the last step of the local
// permission check.
func (c *Client) CheckPermission(ctx context.Context, id types.Identity, permission string) (bool, error) {
	var resp checkPermissionResponse
	req := checkPermissionRequest{UserID: id.UserID, OrgID: id.OrgID, Permission: permission}
	if err := c.post(ctx, "/v1/permissions/check", req, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

type checkQuotaRequest struct {
	Tenant    string `json:"tenant"`
	Class     string `json:"class"`
	Increment int    `json:"increment"`
}

type checkQuotaResponse struct {
	Allowed bool `json:"allowed"`
	Current int  `json:"current"`
	Limit   int  `json:"limit"`
}

// CheckQuota performs the typed check-and-commit call against a tenant
// counter. Transport failures surface as errors; the quota middleware
// fails open on them.
func (c *Client) CheckQuota(ctx context.Context, tenant string, class types.QuotaClass, increment int) (*types.QuotaDecision, error) {
	var resp checkQuotaResponse
	req := checkQuotaRequest{Tenant: tenant, Class: string(class), Increment: increment}
	if err := c.post(ctx, "/v1/quotas/check", req, &resp); err != nil {
		return nil, err
	}
	return &types.QuotaDecision{Allowed: resp.Allowed, Current: resp.Current, Limit: resp.Limit}, nil
}

type keyUsageRequest struct {
	KeyID    string    `json:"key_id"`
	ClientIP string    `json:"client_ip"`
	UsedAt   time.Time `json:"used_at"`
}

// RecordKeyUsage updates last_used_at / last_used_ip and bumps the
// request counter for an API key. Failures are non-fatal; callers fire
// this from a goroutine off the request path.
func (c *Client) RecordKeyUsage(ctx context.Context, keyID, clientIP string) error {
	req := keyUsageRequest{KeyID: keyID, ClientIP: clientIP, UsedAt: time.Now().UTC()}
	return c.post(ctx, "/v1/keys/usage", req, nil)
}

type securityEventRequest struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	UserID    string            `json:"user_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	OrgID     string            `json:"org_id,omitempty"`
	ClientIP  string            `json:"client_ip"`
	UserAgent string            `json:"user_agent,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Path      string            `json:"path"`
	Method    string            `json:"method"`
	Risk      string            `json:"risk"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// RecordSecurityEvent writes a security event to the store. Best
// effort: failures are logged and never block the primary response.
func (c *Client) RecordSecurityEvent(ctx context.Context, ev *types.SecurityEvent) error {
	req := securityEventRequest{
		ID:        ev.ID,
		Kind:      string(ev.Kind),
		UserID:    ev.UserID,
		Email:     ev.Email,
		OrgID:     ev.OrgID,
		ClientIP:  ev.ClientIP,
		UserAgent: ev.UserAgent,
		RequestID: ev.RequestID,
		Path:      ev.Path,
		Method:    ev.Method,
		Risk:      string(ev.Risk),
		Details:   ev.Details,
		CreatedAt: ev.CreatedAt,
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	return c.post(ctx, "/v1/security-events", req, nil)
}

// post issues one JSON round trip with the per-call timeout. 401/403/404
// map to ErrInvalidCredentials, transport and 5xx to ErrUnavailable.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceKey != "" {
		req.Header.Set("x-service-key", c.serviceKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s returned %d", ErrInvalidCredentials, path, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}

	if out == nil {
		// Drain so the transport can reuse the connection.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
