// Package auth verifies the bearer tokens issued by the participant directory.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds the token verification parameters. Leeway absorbs clock skew
// between the directory and this service when checking exp and nbf.
type Config struct {
	Secret string
	Issuer string
	Leeway time.Duration
}

// Claims is the verified identity behind a request. Subject is the participant
// identifier and Name its display name.
type Claims struct {
	Subject   string
	Name      string
	Scopes    map[string]struct{}
	ExpiresAt time.Time
}

// ErrMissingToken is returned when the Authorization header is absent.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// tokenClaims is the JWT body. Scopes may arrive as a "scopes" array or as the
// space separated OAuth "scope" claim.
type tokenClaims struct {
	Name   string    `json:"name"`
	Scopes scopeList `json:"scopes"`
	Scope  string    `json:"scope"`
	jwt.RegisteredClaims
}

type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("scopes: expected array or string: %w", err)
	}
	*s = strings.Fields(joined)
	return nil
}

// Verifier checks HS256 tokens against a fixed configuration.
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewVerifier builds a Verifier. Tokens must carry an expiry; the issuer is
// enforced when cfg.Issuer is set.
func NewVerifier(cfg Config) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return &Verifier{key: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}
}

// Verify validates token and returns its normalized claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	var body tokenClaims
	if _, err := v.parser.ParseWithClaims(token, &body, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(body.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	out := &Claims{
		Subject: body.Subject,
		Name:    body.Name,
		Scopes:  make(map[string]struct{}, len(body.Scopes)),
	}
	for _, scope := range append([]string(body.Scopes), strings.Fields(body.Scope)...) {
		if scope = strings.TrimSpace(scope); scope != "" {
			out.Scopes[scope] = struct{}{}
		}
	}
	if body.ExpiresAt != nil {
		out.ExpiresAt = body.ExpiresAt.Time
	}
	return out, nil
}

// Parse validates a single token against cfg.
func Parse(token string, cfg Config) (*Claims, error) {
	return NewVerifier(cfg).Verify(token)
}

// HasScope reports whether the claim set includes the provided scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Scopes[scope]
	return ok
}
