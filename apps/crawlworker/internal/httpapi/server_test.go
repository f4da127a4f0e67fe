package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

type stubLimiter struct {
	state models.TenantLimiterState
}

func (s *stubLimiter) Inspect(ctx context.Context, tenantID uuid.UUID, capacity int) models.TenantLimiterState {
	s.state.TenantID = tenantID
	return s.state
}

type stubHealth struct{ err error }

func (s *stubHealth) CheckHealth(ctx context.Context) error { return s.err }

func newTestServer(t *testing.T, limiter LimiterInspector, health HealthChecker) *Server {
	t.Helper()
	cfg := Config{
		Addr:            ":0",
		JWTSecret:       []byte("test-secret"),
		JWTIssuer:       "crawlworker",
		DefaultCapacity: 5,
	}
	return New(cfg, limiter, health, observability.NewNoopLogger())
}

func signToken(t *testing.T, secret []byte, tenantID, issuer string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestHealthzAlwaysOK(t *testing.T) {
	s := newTestServer(t, &stubLimiter{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReflectsHealthChecker(t *testing.T) {
	s := newTestServer(t, &stubLimiter{}, &stubHealth{err: errors.New("db unreachable")})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTenantLimiterRequiresAuth(t *testing.T) {
	s := newTestServer(t, &stubLimiter{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/"+uuid.New().String()+"/limiter", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTenantLimiterSucceedsWithMatchingTenantClaim(t *testing.T) {
	limiter := &stubLimiter{state: models.TenantLimiterState{
		ActiveSlots:       2,
		AvailableCapacity: 3,
		BreakerState:      "closed",
	}}
	s := newTestServer(t, limiter, nil)

	tenantID := uuid.New()
	token := signToken(t, []byte("test-secret"), tenantID.String(), "crawlworker", false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/"+tenantID.String()+"/limiter", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTenantLimiterRejectsMismatchedTenantClaim(t *testing.T) {
	s := newTestServer(t, &stubLimiter{}, nil)

	token := signToken(t, []byte("test-secret"), uuid.New().String(), "crawlworker", false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/"+uuid.New().String()+"/limiter", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTenantLimiterRejectsExpiredToken(t *testing.T) {
	s := newTestServer(t, &stubLimiter{}, nil)

	tenantID := uuid.New()
	token := signToken(t, []byte("test-secret"), tenantID.String(), "crawlworker", true)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/"+tenantID.String()+"/limiter", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
