// Package httpapi exposes the search service over HTTP.
//
// Endpoints: POST /v1/search returns the response envelope, GET
// /v1/search/stream emits server-sent events through the streaming
// emitter, GET /v1/capabilities/:name/readiness runs the readiness probe,
// plus /healthz and Prometheus /metrics. Tenant identity arrives in
// headers and flows through the request context; a client disconnect
// cancels the request scope.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/logging"
	"github.com/fleetworks/searchd/internal/search"
)

// Tenant identity headers.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderScopeID  = "X-Scope-ID"
	HeaderRole     = "X-Role"
	HeaderUserID   = "X-User-ID"
)

// Config holds HTTP server settings.
type Config struct {
	Host string
	Port int
}

// Server serves the searchd HTTP API.
type Server struct {
	echo     *echo.Echo
	service  *search.Service
	prober   *capability.Prober
	gatherer prometheus.Gatherer
	logger   *logging.Logger
	config   Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(svc *search.Service, prober *capability.Prober, gatherer prometheus.Gatherer, logger *logging.Logger, cfg Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("search service is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 9190
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:     e,
		service:  svc,
		prober:   prober,
		gatherer: gatherer,
		logger:   logger.Named("http"),
		config:   cfg,
	}

	e.Use(s.principalMiddleware)
	e.Use(s.requestLogMiddleware)
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/v1")
	v1.POST("/search", s.handleSearch)
	v1.GET("/search/stream", s.handleStream)
	v1.GET("/capabilities/:name/readiness", s.handleReadiness)
}

// principalMiddleware lifts tenant identity from headers into the request
// context. Identity-free requests pass through; the service rejects them
// when they reach a tenant-scoped operation.
func (s *Server) principalMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID := c.Request().Header.Get(HeaderTenantID)
		if tenantID == "" {
			return next(c)
		}
		p := &logging.Principal{
			TenantID: tenantID,
			Scope:    c.Request().Header.Get(HeaderScopeID),
			Role:     c.Request().Header.Get(HeaderRole),
			UserID:   c.Request().Header.Get(HeaderUserID),
		}
		if err := p.Validate(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identity")
		}
		ctx := logging.WithPrincipal(c.Request().Context(), p)
		ctx = logging.WithRequestID(ctx, c.Response().Header().Get(echo.HeaderXRequestID))
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// requestLogMiddleware logs one line per request.
func (s *Server) requestLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)))
		return err
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealth answers liveness probes.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
