package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fleetworks/searchd/internal/capability"
	"github.com/fleetworks/searchd/internal/logging"
	"github.com/fleetworks/searchd/internal/ratelimit"
	"github.com/fleetworks/searchd/internal/search"
	"github.com/fleetworks/searchd/internal/store"
	"github.com/fleetworks/searchd/internal/stream"
)

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// handleSearch runs a search and returns the envelope.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	env, err := s.service.Search(c.Request().Context(), search.Request{
		Query:    req.Query,
		Limit:    req.Limit,
		Endpoint: "search",
	})
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, env)
}

// handleStream runs a search, emitting server-sent events as they happen.
func (s *Server) handleStream(c echo.Context) error {
	query := c.QueryParam("q")
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	flusher, _ := res.Writer.(http.Flusher)
	sink := func(ev stream.Event) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(res.Writer, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	err := s.service.StreamSearch(c.Request().Context(), search.Request{
		Query:    query,
		Limit:    limit,
		Endpoint: "stream",
	}, sink)
	if err != nil && !errors.Is(err, context.Canceled) {
		// Headers are already out; log instead of rewriting the status.
		s.logger.Warn(c.Request().Context(), "stream search failed", zap.Error(err))
	}
	return nil
}

// handleReadiness runs the capability readiness probe.
func (s *Server) handleReadiness(c echo.Context) error {
	if s.prober == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "readiness probe not configured")
	}
	ctx := c.Request().Context()
	if p := logging.PrincipalFromContext(ctx); p != nil {
		ctx = store.ContextWithTenant(ctx, &store.TenantInfo{
			TenantID: p.TenantID,
			ScopeID:  p.Scope,
		})
	}
	result, err := s.prober.Probe(ctx, c.Param("name"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// mapError converts pipeline errors to HTTP responses. Admission errors
// stay generic so limits and capacity are not revealed.
func (s *Server) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	case errors.Is(err, search.ErrNoPrincipal), errors.Is(err, store.ErrMissingTenant):
		return echo.NewHTTPError(http.StatusUnauthorized, "tenant identity required")
	case errors.Is(err, capability.ErrCapabilityNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "unknown capability")
	case errors.Is(err, ratelimit.ErrRateLimited), errors.Is(err, ratelimit.ErrAtCapacity):
		return echo.NewHTTPError(http.StatusTooManyRequests, "request rejected, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "search timed out")
	default:
		s.logger.Error(c.Request().Context(), "search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
