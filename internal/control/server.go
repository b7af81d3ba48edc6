// Package control serves the HTTP control channel a test harness uses to
// signal boundaries and report table accesses.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/baseline/internal/coordinator"
	"github.com/mesh-intelligence/baseline/internal/logging"
	"github.com/mesh-intelligence/baseline/internal/snapshot"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// Service is the engine surface the control channel exposes.
type Service interface {
	StartNewTest(ctx context.Context) (string, error)
	EndTest(ctx context.Context) error
	RecordAccess(table types.TableName, kind types.OperationKind)
	Status() coordinator.Status
	Drift(ctx context.Context) ([]snapshot.TableDiff, error)
}

// Server is the control channel HTTP server.
type Server struct {
	svc     Service
	engine  *gin.Engine
	http    *http.Server
	log     zerolog.Logger
	metrics http.Handler

	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = logging.Component(l, "control") }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer builds the routes for svc. Call Start to listen on addr.
func NewServer(addr string, svc Service, opts ...Option) *Server {
	s := &Server{svc: svc, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}

	if s.log.GetLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	v1 := s.engine.Group("/v1")
	v1.POST("/tests", s.startTest)
	v1.POST("/tests/end", s.endTest)
	v1.POST("/access", s.recordAccess)
	v1.GET("/status", s.status)
	v1.GET("/drift", s.drift)

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.http.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("control server stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("control channel listening")
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.http.Addr
}

// Stop shuts the server down, waiting up to five seconds for requests.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown control server: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Int64(logging.FieldDuration, time.Since(start).Milliseconds()).
			Msg("request")
	}
}
