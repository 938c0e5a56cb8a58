package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"mindia/internal/observability/metrics"
	"mindia/internal/ratelimit"
)

// Pinger is the health-check surface the server needs from its dependencies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig wires a Server's dependencies and runtime settings.
type ServerConfig struct {
	Logger             *slog.Logger
	Metrics            *metrics.Recorder
	Authenticator      Authenticator
	MasterAPIKey       string
	RateLimiter        *ratelimit.ShardedLimiter
	CSRFSecret         string
	CORSAllowedOrigins []string
	Development        bool
	DB                 Pinger
	Storage            Pinger
}

// Server is mindia's HTTP surface: a chi router with the standard
// middleware stack, unauthenticated health probes, and an authenticated
// /api/v{N} route group that domain handlers mount onto.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router
	cfg       ServerConfig
	startedAt time.Time
}

// NewServer builds the router, applies middleware, and mounts health
// endpoints. Domain routes are registered by calling Mount* methods on the
// returned Server's APIRouter afterwards.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		cfg:       cfg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(RequestLogger(cfg.Logger))
	s.Router.Use(RequestMetrics(cfg.Metrics))
	s.Router.Use(Recoverer(cfg.Logger))
	s.Router.Use(chimiddleware.StripSlashes)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-Request-ID", "X-CSRF-Token"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/health/deep", s.handleHealthDeep)
	s.Router.Get("/live", s.handleLive)
	s.Router.Get("/ready", s.handleReady)

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.Authenticator, cfg.MasterAPIKey, cfg.Logger))
		r.Use(RateLimit(cfg.RateLimiter))
		r.Use(CSRF(cfg.CSRFSecret))
		MountCSRF(r, cfg.CSRFSecret)
		s.APIRouter = r
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
