package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server represents the sensor HTTP server.
type Server struct {
	config     Config
	dispatcher SensorDispatcher
	events     EventSource
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time

	// shutdown is closed when the server begins shutting down so open
	// event streams end instead of holding Shutdown open.
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithEvents serves src as a server-sent event stream at {BasePath}/events.
func WithEvents(src EventSource) Option {
	return func(s *Server) {
		s.events = src
	}
}

// New creates a new server instance.
func New(config Config, dispatcher SensorDispatcher, logger *slog.Logger, opts ...Option) *Server {
	if config.BasePath == "" {
		config.BasePath = DefaultBasePath
	}

	s := &Server{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger,
		startedAt:  time.Now(),
		shutdown:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) beginShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	// No WriteTimeout: a request lasts as long as its scripts do.
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	s.server.RegisterOnShutdown(s.beginShutdown)

	s.logger.Info("sensor server starting", "listen", s.config.Listen, "base_path", s.config.BasePath)

	// Run server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("sensor server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("sensor server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("sensor server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})

	r.Get("/healthz", s.handleHealthz)
	r.Route(s.config.BasePath, func(r chi.Router) {
		r.Post("/sensor/{id}", s.handleSensor)
		if s.events != nil {
			r.Get("/events", s.handleEvents)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleSensor runs the scripts configured for the sensor in the path.
func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	id := sensorID(r)

	s.logger.Debug("sensor notification received",
		"sensor", id,
		"request_id", middleware.GetReqID(r.Context()),
	)

	resp := s.dispatcher.Handle(id)

	if s.config.Summary || wantsVerbose(r) {
		s.respondJSON(w, http.StatusOK, resp.Summary())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(resp.Body()))
}

// handleHealthz reports liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Sensors:       s.config.Sensors,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// sensorID extracts {id}, decoded exactly once. chi routes on RawPath when the
// request has one, leaving escapes in the parameter. Undecodable input is used
// as received.
func sensorID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return raw
	}
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func wantsVerbose(r *http.Request) bool {
	v := r.URL.Query().Get("verbose")
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
