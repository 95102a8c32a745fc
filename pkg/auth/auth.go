package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/policy"
	"github.com/cuemby/hutch/pkg/types"
)

// ErrNoCredentials is returned when a request carries neither an API
// key nor a bearer token.
var ErrNoCredentials = errors.New("no credentials provided")

// Authenticator resolves request credentials to an identity. Two modes
// are accepted, in order: an x-api-key header verified against the
// policy store, then an Authorization bearer token verified with the
// identity provider.
type Authenticator struct {
	policy *policy.Client
	bypass bool
	logger zerolog.Logger
}

// NewAuthenticator creates an authenticator backed by the policy
// client. When devBypass is true every request resolves to a stub
// identity with wildcard permissions; callers must gate the flag on
// the environment (see config.DevBypassActive).
func NewAuthenticator(client *policy.Client, devBypass bool) *Authenticator {
	return &Authenticator{
		policy: client,
		bypass: devBypass,
		logger: log.WithComponent("auth"),
	}
}

// Authenticate resolves the caller for a request. Credential errors
// wrap policy.ErrInvalidCredentials; store outages surface as
// policy.ErrUnavailable so the middleware can fail closed with a
// distinct status.
func (a *Authenticator) Authenticate(r *http.Request) (*types.Identity, error) {
	if a.bypass {
		return devIdentity(), nil
	}

	if key := r.Header.Get("x-api-key"); key != "" {
		return a.verifyAPIKey(r, key)
	}

	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return a.policy.VerifyBearer(r.Context(), token)
	}

	return nil, ErrNoCredentials
}

func (a *Authenticator) verifyAPIKey(r *http.Request, key string) (*types.Identity, error) {
	record, err := a.policy.VerifyAPIKey(r.Context(), policy.HashAPIKey(key))
	if err != nil {
		return nil, err
	}
	if !record.Active {
		return nil, fmt.Errorf("%w: api key disabled", policy.ErrInvalidCredentials)
	}
	if record.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: api key expired", policy.ErrInvalidCredentials)
	}

	// Usage bookkeeping is best-effort and must not delay the request.
	go a.recordUsage(record.ID, ClientIP(r))

	return &types.Identity{
		UserID:   record.UserID,
		OrgID:    record.OrgID,
		Scopes:   record.Scopes,
		APIKeyID: record.ID,
	}, nil
}

func (a *Authenticator) recordUsage(keyID, clientIP string) {
	if err := a.policy.RecordKeyUsage(context.Background(), keyID, clientIP); err != nil {
		a.logger.Debug().Err(err).Str("key_id", keyID).Msg("Failed to record key usage")
	}
}

// bearerToken extracts the token from an Authorization header, or ""
// when the header is absent or uses another scheme.
func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// devIdentity is the stub caller used by the development bypass. A
// fresh value is returned per request so handlers cannot share state
// through the scope slice.
func devIdentity() *types.Identity {
	return &types.Identity{
		UserID: "dev-user",
		Email:  "dev@localhost",
		OrgID:  "dev-org",
		Role:   types.RoleOwner,
		Scopes: []string{"*"},
	}
}
