package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/policy"
	"github.com/cuemby/hutch/pkg/types"
)

// SessionSource resolves a session id to its record. Satisfied by
// session.Manager.
type SessionSource interface {
	Get(id string) (*types.Session, error)
}

// Middleware wraps protected routes with authentication, permission,
// quota, and ownership gates. Failures write the standard error
// envelope and record a security event where the event taxonomy calls
// for one.
type Middleware struct {
	auth     *Authenticator
	policy   *policy.Client
	sessions SessionSource
	logger   zerolog.Logger
}

// NewMiddleware creates the middleware set. sessions may be nil when
// no route carries a session id path parameter.
func NewMiddleware(authn *Authenticator, client *policy.Client, sessions SessionSource) *Middleware {
	return &Middleware{
		auth:     authn,
		policy:   client,
		sessions: sessions,
		logger:   log.WithComponent("auth"),
	}
}

// RequireAuth authenticates the request and stores the identity in the
// request context. Credential failures are 401, a policy-store outage
// is 503: auth fails closed either way.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.auth.Authenticate(r)
		if err != nil {
			m.rejectAuth(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *Middleware) rejectAuth(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, policy.ErrUnavailable) {
		metrics.AuthFailuresTotal.WithLabelValues("unavailable").Inc()
		m.logger.Warn().Err(err).
			Str("request_id", log.RequestIDFromContext(r.Context())).
			Msg("Authentication unavailable")
		writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable", "")
		return
	}

	reason := "invalid_credentials"
	risk := types.RiskMedium
	if errors.Is(err, ErrNoCredentials) {
		reason = "missing_credentials"
		risk = types.RiskLow
	}
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
	m.event(r, nil, types.EventLoginFailure, risk, map[string]string{
		"reason": err.Error(),
	})
	writeError(w, r, http.StatusUnauthorized, "unauthorized", "")
}

// RequirePermission gates a route on a named permission. The check
// passes for wildcard scopes, admin roles, an explicit scope match, or
// a policy-store confirmation, in that order.
func (m *Middleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "")
				return
			}
			if !m.permitted(r.Context(), id, permission) {
				metrics.AuthFailuresTotal.WithLabelValues("permission").Inc()
				m.event(r, id, types.EventPermissionDenied, types.RiskMedium, map[string]string{
					"permission": permission,
				})
				writeError(w, r, http.StatusForbidden, "forbidden",
					fmt.Sprintf("missing permission %s", permission))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) permitted(ctx context.Context, id *types.Identity, permission string) bool {
	if id.Role.Admin() {
		return true
	}
	for _, scope := range id.Scopes {
		if scope == "*" || scope == permission {
			return true
		}
	}

	allowed, err := m.policy.CheckPermission(ctx, *id, permission)
	if err != nil {
		// Unlike quota, permission checks fail closed.
		m.logger.Warn().Err(err).
			Str("user_id", id.UserID).
			Str("permission", permission).
			Msg("Permission check failed")
		return false
	}
	return allowed
}

// CheckQuota gates resource-allocating routes on a tenant quota. A
// store outage fails open so the policy store cannot take session
// creation down with it.
func (m *Middleware) CheckQuota(class types.QuotaClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "")
				return
			}

			decision, err := m.policy.CheckQuota(r.Context(), id.Tenant(), class, 1)
			if err != nil {
				metrics.QuotaChecks.WithLabelValues("unavailable").Inc()
				m.logger.Warn().Err(err).
					Str("request_id", log.RequestIDFromContext(r.Context())).
					Str("tenant", id.Tenant()).
					Str("class", string(class)).
					Msg("Quota check failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				metrics.QuotaChecks.WithLabelValues("denied").Inc()
				writeErrorExtra(w, r, http.StatusTooManyRequests, "quota exceeded",
					fmt.Sprintf("%s quota reached (%d of %d)", class, decision.Current, decision.Limit),
					map[string]any{"current": decision.Current, "limit": decision.Limit})
				return
			}

			metrics.QuotaChecks.WithLabelValues("allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSessionOwner verifies that the caller owns the session named
// by the sessionId path parameter, or is owner/admin of the session's
// organization. Unknown sessions fall through so stop stays idempotent
// and reads return the handler's 404.
func (m *Middleware) RequireSessionOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("sessionId")
		if sessionID == "" {
			sessionID = r.URL.Query().Get("sessionId")
		}
		if sessionID == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := m.sessions.Get(sessionID)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		id, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		if !ownsSession(id, sess.Owner) {
			metrics.AuthFailuresTotal.WithLabelValues("ownership").Inc()
			m.event(r, id, types.EventSuspiciousActivity, types.RiskHigh, map[string]string{
				"session_owner": sess.Owner.UserID,
				"user_id":       id.UserID,
			})
			writeError(w, r, http.StatusForbidden, "forbidden", "not your session")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func ownsSession(caller *types.Identity, owner types.Identity) bool {
	if caller.UserID == owner.UserID {
		return true
	}
	return caller.Role.Admin() && caller.OrgID != "" && caller.OrgID == owner.OrgID
}

// RecordRateLimited emits the rate-limit security event for a rejected
// request. The ingress limiter runs before authentication, so the
// event carries no identity.
func (m *Middleware) RecordRateLimited(r *http.Request) {
	m.event(r, nil, types.EventRateLimitExceeded, types.RiskLow, nil)
}

// event records a security event. The store write runs off the request
// path; a failed write costs a debug line, never the response.
func (m *Middleware) event(r *http.Request, id *types.Identity, kind types.SecurityEventKind, risk types.RiskLevel, details map[string]string) {
	ev := &types.SecurityEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		ClientIP:  ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: log.RequestIDFromContext(r.Context()),
		Path:      r.URL.Path,
		Method:    r.Method,
		Risk:      risk,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if id != nil {
		ev.UserID = id.UserID
		ev.Email = id.Email
		ev.OrgID = id.OrgID
	}

	go func() {
		if err := m.policy.RecordSecurityEvent(context.Background(), ev); err != nil {
			m.logger.Debug().Err(err).Str("kind", string(kind)).Msg("Failed to record security event")
		}
	}()
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorExtra(w, r, status, code, message, nil)
}

func writeErrorExtra(w http.ResponseWriter, r *http.Request, status int, code, message string, extra map[string]any) {
	body := map[string]any{"error": code}
	if message != "" {
		body["message"] = message
	}
	if requestID := log.RequestIDFromContext(r.Context()); requestID != "" {
		body["requestId"] = requestID
	}
	for k, v := range extra {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
