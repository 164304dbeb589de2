package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/config"
)

func newAuthTestHandler(t *testing.T, cfg *config.GatewayConfig) http.Handler {
	t.Helper()
	cfgMgr := config.NewManager(t.TempDir())
	require.NoError(t, cfgMgr.Save(cfg))

	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	mw := NewAuthMiddleware(cfgMgr, logger)
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthMiddlewareNoCredentialConfiguredAllowsAll(t *testing.T) {
	h := newAuthTestHandler(t, &config.GatewayConfig{})
	req := httptest.NewRequest(http.MethodGet, "/inference", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	h := newAuthTestHandler(t, &config.GatewayConfig{APIKey: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/inference", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareAcceptsStaticAPIKey(t *testing.T) {
	h := newAuthTestHandler(t, &config.GatewayConfig{APIKey: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/inference", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareAcceptsValidJWT(t *testing.T) {
	secret := "jwt-secret"
	h := newAuthTestHandler(t, &config.GatewayConfig{JWTSecret: secret})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "test-caller",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/inference", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareRejectsJWTSignedWithWrongSecret(t *testing.T) {
	h := newAuthTestHandler(t, &config.GatewayConfig{JWTSecret: "jwt-secret"})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "test-caller"})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/inference", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareAlwaysAllowsHealthCheck(t *testing.T) {
	h := newAuthTestHandler(t, &config.GatewayConfig{APIKey: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
