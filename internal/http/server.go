// Package http serves the patchd API.
//
// Routes:
//
//	GET  /health      liveness plus the public part of the configuration
//	GET  /v1/status   registry counts and feature flags
//	POST /v1/analyze  code review
//	POST /v1/patch    plan execution
//	GET  /metrics     Prometheus exposition (when enabled)
//
// Errors are always rendered as {"error": ..., "details": ...}.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/logging"
	"github.com/fyrsmithlabs/patchd/internal/security"
	"github.com/fyrsmithlabs/patchd/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServiceName is reported by /health.
const ServiceName = "patchd"

// limiterTTL is how long an idle client's rate limiter is kept.
const limiterTTL = time.Hour

// Options configures a Server.
type Options struct {
	Version string

	// MetricsHandler serves GET /metrics; nil disables the route.
	MetricsHandler http.Handler

	// Metrics records request metrics; nil uses the global meter provider.
	Metrics *HTTPMetrics

	// Degraded reports telemetry exporter health for /v1/status.
	Degraded func() (bool, error)
}

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	svc    *service.Service
	logger *zap.Logger
	opts   Options

	limitersMu sync.Mutex
	limiters   map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewServer creates a server for svc. Listener settings come from the
// service configuration at construction time.
func NewServer(svc *service.Service, logger *zap.Logger, opts Options) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if opts.Metrics == nil {
		opts.Metrics = NewHTTPMetrics(logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		svc:      svc,
		logger:   logger,
		opts:     opts,
		limiters: map[string]*clientLimiter{},
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(svc.Config().Server.BodyLimit))
	e.Use(s.requestLogger)
	e.Use(opts.Metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.opts.MetricsHandler))
	}

	v1 := s.echo.Group("/v1", s.rateLimit)
	v1.GET("/status", s.handleStatus)
	v1.POST("/analyze", s.handleAnalyze)
	v1.POST("/patch", s.handlePatch)
}

// ServeHTTP lets the server be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// requestLogger stores the request id in the request context and logs
// each request once it has been answered.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info("http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", id),
		)
		return nil
	}
}

// rateLimit applies server.rate_limit per client IP.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiterFor(c.RealIP()).Allow() {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	now := time.Now()
	for key, l := range s.limiters {
		if now.Sub(l.lastSeen) > limiterTTL {
			delete(s.limiters, key)
		}
	}

	l, ok := s.limiters[ip]
	if !ok {
		r := s.svc.Config().Server.RateLimit
		burst := int(2 * r)
		if burst < 1 {
			burst = 1
		}
		l = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(r), burst)}
		s.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter
}

// handleError renders every error as ErrorResponse.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := ErrorResponse{Error: "internal server error"}

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		body.Error = http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok && msg != "" {
			body.Error = msg
		}
		if he.Internal != nil && status < http.StatusInternalServerError {
			body.Details = he.Internal.Error()
		}
	case service.IsInvalidInput(err):
		status = http.StatusBadRequest
		body.Error = "invalid request"
		body.Details = err.Error()
	default:
		s.logger.Error("request failed",
			append(logging.ContextFields(c.Request().Context()), zap.Error(err))...)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn("failed to write error response", zap.Error(err))
	}
}

// Start validates the bind settings and serves until Shutdown.
func (s *Server) Start() error {
	cfg := s.svc.Config().Server
	if err := security.ValidateNetwork(cfg.Network()); err != nil {
		return fmt.Errorf("refusing to listen: %w", err)
	}
	addr := cfg.Address()
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartListener serves on an existing listener.
func (s *Server) StartListener(l net.Listener) error {
	s.echo.Listener = l
	s.logger.Info("starting http server", zap.String("addr", l.Addr().String()))
	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
