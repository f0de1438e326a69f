package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"admin-gateway/internal/config"
	"admin-gateway/internal/ratelimit"
)

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			w.Write([]byte(`{"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter wires the middleware stack and mounts the API plus the
// gated admin surface. adminApp serves everything under /admin once the
// gate lets a request through; in production that is a reverse proxy to
// the admin frontend.
func NewRouter(
	authHandler *AuthHandler,
	gate *Gate,
	limiter *ratelimit.Limiter,
	adminApp http.Handler,
	cfg *config.Config,
	logger *zap.Logger,
) chi.Router {
	router := chi.NewRouter()

	if cfg.Server.EnableTLS {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Upstream.AdminAppURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"admin-gateway"}`))
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, ratelimit.ScopeAPI, logger))
		authHandler.RegisterRoutes(r, gate)
	})

	if adminApp != nil {
		gated := gate.Middleware(adminApp)
		router.Handle("/admin", gated)
		router.Handle("/admin/*", gated)
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}
