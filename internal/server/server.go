// Package server exposes the annotation workflow over HTTP with gin.
//
// Routes:
//
//	GET    /health
//	GET    /metrics
//	GET    /v1/catalog
//	POST   /v1/conversations
//	GET    /v1/conversations/:id
//	PUT    /v1/conversations/:id/config
//	POST   /v1/conversations/:id/start
//	PUT    /v1/conversations/:id/turn/prompt
//	POST   /v1/conversations/:id/turn/confirm
//	POST   /v1/conversations/:id/turn/generate
//	POST   /v1/conversations/:id/turn/nudge
//	PUT    /v1/conversations/:id/turn/evaluation
//	GET    /v1/conversations/:id/turn/checklist
//	POST   /v1/conversations/:id/commit
//	POST   /v1/conversations/:id/end
//	GET    /v1/conversations/:id/rewind
//	POST   /v1/conversations/:id/rewind
//	GET    /v1/conversations/:id/turns/:n
//	PUT    /v1/conversations/:id/turns/:n/evaluation
//	POST   /v1/conversations/:id/submit
//
// Errors map to statuses by class: validation 422, collaborator 502,
// invariant 409, unknown conversation 404.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ahrav/go-arena/internal/config"
	"github.com/ahrav/go-arena/internal/session"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Server routes HTTP requests to a session.Service.
type Server struct {
	engine  *gin.Engine
	svc     *session.Service
	logger  *slog.Logger
	metrics http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// New builds the router.
func New(svc *session.Service, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "server")
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), requestLogger(s.logger))
	s.engine = engine
	s.routes()
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	r := s.engine
	r.GET("/health", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := r.Group("/v1")
	v1.GET("/catalog", s.catalog)

	conv := v1.Group("/conversations")
	conv.POST("", s.createConversation)
	conv.GET("/:id", s.getConversation)
	conv.PUT("/:id/config", s.configure)
	conv.POST("/:id/start", s.start)
	conv.PUT("/:id/turn/prompt", s.setPrompt)
	conv.POST("/:id/turn/confirm", s.confirmPrompt)
	conv.POST("/:id/turn/generate", s.generate)
	conv.POST("/:id/turn/nudge", s.nudge)
	conv.PUT("/:id/turn/evaluation", s.updateEvaluation)
	conv.GET("/:id/turn/checklist", s.checklist)
	conv.POST("/:id/commit", s.commit)
	conv.POST("/:id/end", s.endEarly)
	conv.GET("/:id/rewind", s.rewindBounds)
	conv.POST("/:id/rewind", s.rewind)
	conv.GET("/:id/turns/:n", s.viewTurn)
	conv.PUT("/:id/turns/:n/evaluation", s.amendEvaluation)
	conv.POST("/:id/submit", s.submit)
}

// requestID propagates or assigns X-Request-ID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// requestLogger logs one line per request. Server errors log at error
// level, client errors at warn.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start),
			"request_id", c.GetString(RequestIDHeader),
		}
		if id := c.Param("id"); id != "" {
			attrs = append(attrs, "conversation_id", id)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.Last().Error())
		}

		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "request failed", attrs...)
		case status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "request rejected", attrs...)
		default:
			logger.DebugContext(ctx, "request served", attrs...)
		}
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// within cfg.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
