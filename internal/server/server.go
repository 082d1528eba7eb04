// Package server wires the command surface's HTTP and websocket routes,
// grounded on the teacher's server.New: one chi router, a global middleware
// stack, a huma API mounted under /api/v1 behind the auth/rate-limit group,
// and a /ws group behind the same auth check.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	v1 "github.com/delinoio/delidev/internal/api/v1"
	"github.com/delinoio/delidev/internal/api/ws"
	"github.com/delinoio/delidev/internal/auth"
	"github.com/delinoio/delidev/internal/config"
	"github.com/delinoio/delidev/internal/domain"
	"github.com/delinoio/delidev/internal/server/middleware"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
}

// Deps bundles every port the command surface's handlers need. It is
// intentionally concrete about the core components (Planner, Executor,
// Scheduler) rather than re-narrowing them again here: the narrow
// interfaces already live in package v1, next to the handlers that use
// them.
type Deps struct {
	Store      domain.Store
	Planner    v1.CompositeController
	Executor   v1.UnitController
	Scheduler  v1.Dispatcher
	Subscriber ws.Subscriber
	Auth       *auth.Service
}

// New creates a Server with all routes wired.
func New(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	hub := ws.NewHub(deps.Subscriber)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Auth))
		r.Use(middleware.RateLimit(50, 100))

		apiConfig := huma.DefaultConfig("delidev command surface", "1.0.0")
		apiConfig.Servers = []*huma.Server{{URL: "/api/v1"}}
		api := humachi.New(r, apiConfig)

		v1.RegisterAuthRoutes(api, deps.Auth)
		v1.RegisterRepositoryRoutes(api, deps.Store)
		v1.RegisterCompositeTaskRoutes(api, deps.Store, deps.Planner)
		v1.RegisterUnitTaskRoutes(api, deps.Store, deps.Executor, deps.Scheduler)
		v1.RegisterBoardRoutes(api, deps.Store, deps.Scheduler)
	})

	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Auth))
		r.Get("/tasks/{id}", hub.ServeTask)
	})

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// Start begins listening for HTTP requests. Blocks until Shutdown is called
// or the listener fails.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
