// Package httpapi provides the HTTP transport for the gateway:
// routing, middleware, and request/response JSON shapes over
// internal/gateway's service logic.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/ragdocd/internal/gateway"
	"github.com/fyrsmithlabs/ragdocd/internal/logging"
	"github.com/fyrsmithlabs/ragdocd/pkg/auth"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server is the HTTP transport wrapping a Gateway.
type Server struct {
	echo    *echo.Echo
	gateway *gateway.Gateway
	logger  *zap.Logger
	config  Config
}

// NewServer creates a new HTTP server.
func NewServer(gw *gateway.Gateway, logger *zap.Logger, cfg Config) (*Server, error) {
	if gw == nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "gateway cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			ctx := logging.WithPrincipal(c.Request().Context(), principal(c))
			if reqID := c.Response().Header().Get(echo.HeaderXRequestID); reqID != "" {
				ctx = logging.WithRequestID(ctx, reqID)
			}
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			duration := time.Since(start)

			fields := logging.ContextFields(ctx)
			fields = append(fields,
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)
			logger.Info("http request", fields...)
			return err
		}
	})

	s := &Server{echo: e, gateway: gw, logger: logger, config: cfg}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/save", s.handleSave)
	s.echo.POST("/query", s.handleQuery)
	s.echo.POST("/search", s.handleSearch)
	s.echo.POST("/rag_search", s.handleQuery)
	s.echo.POST("/auth/login", s.handleLogin)
	s.echo.POST("/auth/register", s.handleRegister)
}

// principal extracts the rate-limiting/caching principal for the
// request.
func principal(c echo.Context) string {
	return auth.ExtractPrincipal(c.Request().Header.Get(echo.HeaderAuthorization), c.RealIP())
}

// rateLimit applies the gateway's per-principal token bucket before a
// handler runs, returning 429 if exceeded.
func (s *Server) rateLimit(c echo.Context) (string, bool) {
	p := principal(c)
	if err := s.gateway.Allow(p); err != nil {
		writeError(c, http.StatusTooManyRequests, err)
		return p, false
	}
	return p, true
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.config.Host + ":" + strconv.Itoa(s.config.Port)
}
