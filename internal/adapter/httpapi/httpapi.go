// Package httpapi exposes the admin endpoints of the daemon.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"asyncsqlite/internal/adapter/scheduler"
	"asyncsqlite/pkg/asyncsqlite"
)

// Pool is the part of *asyncsqlite.Pool the admin API needs.
type Pool interface {
	ConnForEach(ctx context.Context, fn func(*asyncsqlite.Conn) error) error
	Stats() []asyncsqlite.Stats
}

// Jobs reports scheduled maintenance. Implemented by *scheduler.Scheduler.
type Jobs interface {
	Jobs() []scheduler.JobStatus
}

// DefaultHealthTimeout bounds a health check across all connections.
const DefaultHealthTimeout = 2 * time.Second

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Workers []asyncsqlite.Stats   `json:"workers"`
	Jobs    []scheduler.JobStatus `json:"jobs"`
}

// Handler serves /healthz and /stats.
type Handler struct {
	pool          Pool
	jobs          Jobs
	log           *slog.Logger
	healthTimeout time.Duration
}

// Option configures Handler.
type Option func(*Handler)

// WithJobs includes scheduler state in /stats.
func WithJobs(j Jobs) Option {
	return func(h *Handler) { h.jobs = j }
}

// WithLogger sets logger for request and failure logging.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithHealthTimeout overrides DefaultHealthTimeout.
func WithHealthTimeout(d time.Duration) Option {
	return func(h *Handler) { h.healthTimeout = d }
}

// New creates a Handler for pool.
func New(pool Pool, opts ...Option) *Handler {
	h := &Handler{
		pool:          pool,
		log:           slog.Default(),
		healthTimeout: DefaultHealthTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the gin engine with all admin routes.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())
	r.GET("/healthz", h.healthz)
	r.GET("/stats", h.stats)
	return r
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.healthTimeout)
	defer cancel()

	err := h.pool.ConnForEach(ctx, func(conn *asyncsqlite.Conn) error {
		var one int
		return conn.QueryRow("SELECT 1").Scan(&one)
	})
	if err != nil {
		h.log.Warn("health check failed", slog.Any("err", err), slog.String("kind", asyncsqlite.KindOf(err).String()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": len(h.pool.Stats())})
}

func (h *Handler) stats(c *gin.Context) {
	resp := StatsResponse{Workers: h.pool.Stats(), Jobs: []scheduler.JobStatus{}}
	if h.jobs != nil {
		resp.Jobs = h.jobs.Jobs()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// Server runs the admin API over HTTP.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, h *Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: h.log,
	}
}

// Start serves in the background. Errors other than a normal shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.log.Info("admin server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server", slog.Any("err", err))
		}
	}()
}

// Shutdown stops accepting requests and waits for active ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
