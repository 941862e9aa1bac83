package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "smartcheck.identity"}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "participant-1",
		"name":   "Ada Lovelace",
		"iss":    "smartcheck.identity",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"attendance:write", "attendance:read"},
	}
}

func TestParseValidToken(t *testing.T) {
	claims, err := Parse(signToken(t, testConfig.Secret, validClaims()), testConfig)
	require.NoError(t, err)
	require.Equal(t, "participant-1", claims.Subject)
	require.Equal(t, "Ada Lovelace", claims.Name)
	require.True(t, claims.HasScope("attendance:write"))
	require.False(t, claims.HasScope("codes:admin"))
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	c := validClaims()
	c["scopes"] = "codes:admin  attendance:read"
	claims, err := Parse(signToken(t, testConfig.Secret, c), testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope("codes:admin"))
	require.True(t, claims.HasScope("attendance:read"))
}

func TestParseOAuthScopeClaim(t *testing.T) {
	c := validClaims()
	delete(c, "scopes")
	c["scope"] = "attendance:read codes:admin"
	claims, err := Parse(signToken(t, testConfig.Secret, c), testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope("codes:admin"))
	require.False(t, claims.HasScope("attendance:write"))
}

func TestParseLeeway(t *testing.T) {
	c := validClaims()
	c["exp"] = time.Now().Add(-10 * time.Second).Unix()
	token := signToken(t, testConfig.Secret, c)

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	lenient := testConfig
	lenient.Leeway = time.Minute
	claims, err := Parse(token, lenient)
	require.NoError(t, err)
	require.Equal(t, "participant-1", claims.Subject)
}

func TestParseRejectsBadTokens(t *testing.T) {
	_, err := Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = Parse(signToken(t, "other-secret", validClaims()), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	c := validClaims()
	c["iss"] = "someone-else"
	_, err = Parse(signToken(t, testConfig.Secret, c), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	c = validClaims()
	c["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = Parse(signToken(t, testConfig.Secret, c), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	c = validClaims()
	delete(c, "sub")
	_, err = Parse(signToken(t, testConfig.Secret, c), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	c = validClaims()
	delete(c, "exp")
	_, err = Parse(signToken(t, testConfig.Secret, c), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	c = validClaims()
	c["scopes"] = 42
	_, err = Parse(signToken(t, testConfig.Secret, c), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewMiddleware(NewVerifier(testConfig), PublicPaths("/healthz")).Wrap(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, seen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/attendance/history", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unauthorized", body["type"])

	req := httptest.NewRequest(http.MethodGet, "/v1/attendance/history", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, seen)

	req = httptest.NewRequest(http.MethodGet, "/v1/attendance/history", nil)
	req.Header.Set("Authorization", "bearer "+signToken(t, testConfig.Secret, validClaims()))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "participant-1", seen.Subject)
}
