package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Skipper reports whether a request bypasses authentication.
type Skipper func(r *http.Request) bool

// PublicPaths skips authentication for exact path matches.
func PublicPaths(paths ...string) Skipper {
	public := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		public[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := public[r.URL.Path]
		return ok
	}
}

// Middleware rejects requests without a valid bearer token and stores the
// verified claims on the request context.
type Middleware struct {
	verifier *Verifier
	skip     Skipper
}

// NewMiddleware constructs a middleware. skip may be nil.
func NewMiddleware(verifier *Verifier, skip Skipper) Middleware {
	return Middleware{verifier: verifier, skip: skip}
}

// Wrap wraps an http.Handler with authentication.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip != nil && m.skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := bearerToken(r.Header.Get("Authorization"))
		var claims *Claims
		if err == nil {
			claims, err = m.verifier.Verify(token)
		}
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "detail": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}
