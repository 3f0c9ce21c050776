// Package ctxutil provides shared context key accessors for carrying the
// authenticated caller's identity through the request lifecycle.
package ctxutil

import (
	"context"

	"github.com/meridianhr/assesscore/internal/auth"
)

type contextKey string

const keyClaims contextKey = "claims"

// WithClaims returns a new context carrying the given claims. A nil claims
// value is valid and represents an anonymous (share-link) caller.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context, or nil if the
// request was made anonymously.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// ClerkUserIDFromContext extracts the authenticated clerk user id, or "" if
// the caller is anonymous.
func ClerkUserIDFromContext(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.ClerkUserID
	}
	return ""
}
