package auth

import (
	"net/http"

	authlib "example.com/smartcheck/internal/platform/auth"
)

// NewMiddleware builds the API's bearer-token middleware. Health and metrics
// endpoints stay public.
func NewMiddleware(cfg Config) func(http.Handler) http.Handler {
	mw := authlib.NewMiddleware(authlib.NewVerifier(cfg), authlib.PublicPaths("/healthz", "/metrics"))
	return mw.Wrap
}
