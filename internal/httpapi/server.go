// Package httpapi serves the job layer over HTTP: submit, poll and cancel
// turns, and stream their progress over a websocket.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/HendryAvila/turnloop/internal/config"
	"github.com/HendryAvila/turnloop/internal/jobs"
	"github.com/HendryAvila/turnloop/internal/pipeline"
	"github.com/HendryAvila/turnloop/internal/progress"
)

// requestTimeout bounds the plain JSON routes. The events stream is
// exempt.
const requestTimeout = 60 * time.Second

// Jobs is the part of jobs.Manager the API uses.
type Jobs interface {
	Submit(req pipeline.Request) (string, error)
	Resume(traceID, userID string) (string, error)
	Poll(id string) (jobs.Result, error)
	Cancel(id string) error
	Subscribe(ctx context.Context, id string) (<-chan progress.Event, error)
	Running() int
}

// Server is the HTTP API.
type Server struct {
	cfg        config.HTTPConfig
	jobs       Jobs
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	router     chi.Router
	httpServer *http.Server
}

// New creates a Server.
func New(cfg config.HTTPConfig, j Jobs, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		jobs:   j,
		logger: logger.Named("http"),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1/turns", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Post("/", s.handleSubmit)
			r.Get("/{id}", s.handlePoll)
			r.Delete("/{id}", s.handleCancel)
			r.Post("/{id}/resume", s.handleResume)
		})
		r.Get("/{id}/events", s.handleEvents)
	})

	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("listening", zap.String("addr", s.cfg.Addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request at debug level with its status and
// duration.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
