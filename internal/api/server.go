package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/partstock/internal/engine"
	"github.com/seantiz/partstock/internal/inventory"
	"github.com/seantiz/partstock/internal/lifecycle"
	"github.com/seantiz/partstock/internal/relay"
	"github.com/seantiz/partstock/internal/store"
)

const (
	httpShutdownTimeout = 10 * time.Second
	readHeaderTimeout   = 10 * time.Second
	writeTimeout        = 30 * time.Second
)

// Deps are the components the HTTP server exposes.
type Deps struct {
	Store       store.Store
	Engine      *engine.Engine
	Registry    *relay.Registry
	Coordinator *lifecycle.Coordinator
	Importer    *inventory.Importer
	// Hub serves SSE streams directly. Nil when an external relay is used.
	Hub *relay.Hub
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router   *chi.Mux
	store    store.Store
	engine   *engine.Engine
	registry *relay.Registry
	coord    *lifecycle.Coordinator
	importer *inventory.Importer
	hub      *relay.Hub
	logger   *slog.Logger

	addr            string
	shutdownTimeout time.Duration
}

// NewServer creates and configures a new HTTP server. shutdownTimeout bounds
// the coordinator drain run by Run.
func NewServer(addr string, shutdownTimeout time.Duration, d Deps, logger *slog.Logger) *Server {
	srv := &Server{
		router:          chi.NewRouter(),
		store:           d.Store,
		engine:          d.Engine,
		registry:        d.Registry,
		coord:           d.Coordinator,
		importer:        d.Importer,
		hub:             d.Hub,
		logger:          logger,
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Route("/v1/relay", func(r chi.Router) {
		r.Post("/callback", s.handleRelayCallback)
		r.Get("/connections", s.handleListConnections)
	})

	s.router.Route("/v1/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Get("/{id}", s.handleGetTask)
		r.Delete("/{id}", s.handleCancelTask)
		if s.hub != nil {
			r.Get("/{id}/stream", s.handleStream)
		}
	})

	if s.hub != nil {
		s.router.Get("/v1/topics/{topic}/{key}/stream", s.handleStream)
	}

	s.router.Route("/v1/parts", func(r chi.Router) {
		r.Post("/import", s.handleImportParts)
		r.Get("/", s.handleListParts)
		r.Get("/{id}", s.handleGetPart)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
// On signal the lifecycle coordinator drains background work first, which
// also ends every open stream, and then the listener is shut down.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	if err := s.coord.Shutdown(s.shutdownTimeout); err != nil && !errors.Is(err, lifecycle.ErrAlreadyShutdown) {
		s.logger.Warn("coordinator shutdown", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
