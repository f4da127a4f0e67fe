// Package httpapi is crawlworker's operator-facing HTTP surface:
// liveness/readiness probes, Prometheus metrics, and a JWT-protected
// per-tenant limiter inspection endpoint. Grounded on
// apps/rag-loader/cmd/loader/main.go's startAPIServer (gin.New()+
// gin.Recovery()); unlike that file's split, health, readiness, metrics
// and the authenticated API all share this one gin engine and listener.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

// LimiterInspector is the seam onto internal/concurrency.Limiter the
// operator endpoint reads through.
type LimiterInspector interface {
	Inspect(ctx context.Context, tenantID uuid.UUID, capacity int) models.TenantLimiterState
}

// HealthChecker reports whether the worker's dependencies (DB, Redis) are
// reachable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Config controls the server's listen address and JWT verification.
type Config struct {
	Addr            string
	JWTSecret       []byte
	JWTIssuer       string
	DefaultCapacity int
}

// Claims mirrors auth.JWTClaims's tenant-bearing shape.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Server wraps the gin engine and the plain http.Server it's served by.
type Server struct {
	cfg        Config
	limiter    LimiterInspector
	health     HealthChecker
	logger     observability.Logger
	httpServer *http.Server
}

// New builds a Server. Routes are registered but not yet listening --
// call Start.
func New(cfg Config, limiter LimiterInspector, health HealthChecker, logger observability.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, limiter: limiter, health: health, logger: logger.WithPrefix("httpapi")}

	router.GET("/healthz", s.handleHealthz)
	router.GET("/readyz", s.handleReadyz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(s.requireJWT())
	{
		protected.GET("/tenants/:id/limiter", s.handleTenantLimiter)
	}

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting http api server", map[string]interface{}{"addr": s.cfg.Addr})
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http api server error", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleReadyz(c *gin.Context) {
	if s.health == nil {
		c.String(http.StatusOK, "ready")
		return
	}
	if err := s.health.CheckHealth(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.String(http.StatusOK, "ready")
}

func (s *Server) handleTenantLimiter(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	capacity := s.cfg.DefaultCapacity
	if capacity <= 0 {
		capacity = 10
	}

	state := s.limiter.Inspect(c.Request.Context(), tenantID, capacity)
	c.JSON(http.StatusOK, state)
}

// requireJWT validates the bearer token and, when it carries a tenant_id
// claim, checks that the claim matches the :id path parameter; a token
// without a tenant_id claim is not restricted to one tenant. Grounded on
// apps/rag-loader/internal/auth.JWTValidator.ValidateJWT's parse-and-
// validate shape.
func (s *Server) requireJWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString, err := extractBearerToken(authHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.cfg.JWTSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		if s.cfg.JWTIssuer != "" && claims.Issuer != s.cfg.JWTIssuer {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid issuer"})
			c.Abort()
			return
		}

		pathTenantID := c.Param("id")
		if claims.TenantID != "" && claims.TenantID != pathTenantID {
			c.JSON(http.StatusForbidden, gin.H{"error": "tenant mismatch"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func extractBearerToken(authHeader string) (string, error) {
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return authHeader[len(prefix):], nil
}
