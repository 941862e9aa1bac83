// Package auth binds the shared token verification to the attendance API:
// its scopes, its public paths and the claims handlers read.
package auth

import (
	"context"

	authlib "example.com/smartcheck/internal/platform/auth"
)

type (
	Claims = authlib.Claims
	Config = authlib.Config
)

// WithClaims stores the claims in the request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return authlib.WithClaims(ctx, claims)
}

// FromContext retrieves the caller's claims.
func FromContext(ctx context.Context) (*Claims, bool) {
	return authlib.FromContext(ctx)
}
