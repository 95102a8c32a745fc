package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/cuemby/hutch/pkg/types"
)

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a context carrying the authenticated caller.
func WithIdentity(ctx context.Context, id *types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller placed by RequireAuth.
func IdentityFromContext(ctx context.Context) (*types.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*types.Identity)
	return id, ok
}

// ClientIP extracts the originating client address, preferring proxy
// headers over the socket address.
func ClientIP(r *http.Request) string {
	// Take the first IP in the X-Forwarded-For chain
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
