package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bloomworks/bloom/internal/auth"
	"github.com/bloomworks/bloom/internal/deepseek"
	"github.com/bloomworks/bloom/internal/handler"
	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/openapi"
	"github.com/bloomworks/bloom/internal/ratelimit"
	"github.com/bloomworks/bloom/internal/server/middleware"
	"github.com/bloomworks/bloom/internal/store"
	"github.com/bloomworks/bloom/internal/webhook"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	BaseURL         string
	Version         string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	SessionTTL      time.Duration
	GlobalRateLimit int // requests per minute per IP, 0 disables
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		SessionTTL:      24 * time.Hour,
		GlobalRateLimit: 300,
	}
}

// Deps are the wired services the server routes to.
type Deps struct {
	Store      *store.Store
	Auth       *auth.Service
	Counter    ratelimit.Counter
	AI         *deepseek.Client
	Dispatcher *webhook.Dispatcher
}

// Server is the top-level HTTP server. It owns the chi router and delegates
// to the handler layer.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	specJSON   []byte
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}
	spec, err := json.Marshal(openapi.Spec(cfg.Version, baseURL))
	if err != nil {
		logger.Error("marshal openapi spec", "error", err)
		spec = []byte(`{}`)
	}
	s.specJSON = spec

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.GlobalRateLimit > 0 {
		r.Use(middleware.RateLimitByIP(s.cfg.GlobalRateLimit))
	}

	sessionHandler := handler.NewSessionHandler(s.deps.Auth, s.cfg.SessionTTL)
	tokenHandler := handler.NewTokenHandler(s.deps.Store, s.deps.Auth, s.logger)
	postHandler := handler.NewPostHandler(s.deps.Store, s.deps.AI, s.deps.Dispatcher)
	portfolioHandler := handler.NewPortfolioHandler(s.deps.Store)
	productHandler := handler.NewProductHandler(s.deps.Store, s.deps.Dispatcher)
	saleHandler := handler.NewSaleHandler(s.deps.Store, s.deps.Dispatcher)
	webhookHandler := handler.NewWebhookHandler(s.deps.Store)
	chatHandler := handler.NewChatHandler(s.deps.Store, s.deps.AI)
	settingsHandler := handler.NewSettingsHandler(s.deps.Store)
	userHandler := handler.NewUserHandler(s.deps.Store)
	auditHandler := handler.NewAuditHandler(s.deps.Store)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Route("/api/v1", func(r chi.Router) {
		// Public storefront surface.
		r.Post("/session", sessionHandler.Login)
		r.Delete("/session", sessionHandler.Logout)
		r.Get("/site", settingsHandler.Site)
		r.Get("/posts", postHandler.ListPublished)
		r.Get("/posts/{slug}", postHandler.GetBySlug)
		r.Get("/portfolio", portfolioHandler.List)
		r.Get("/portfolio/{id}", portfolioHandler.Get)
		r.Get("/products", productHandler.ListActive)
		r.Get("/products/{id}", productHandler.Get)
		r.Post("/chat", chatHandler.Converse)

		// Authenticated: either session JWT or API token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Auth))
			r.Use(middleware.TokenRateLimit(s.deps.Counter))

			r.Route("/tokens", func(r chi.Router) {
				r.With(middleware.RequirePermission(model.PermissionRead)).
					Get("/", tokenHandler.List)
				r.With(middleware.RequirePermission(model.PermissionWrite)).
					Post("/", tokenHandler.Create)
				r.Post("/validate", tokenHandler.Validate)
				r.With(middleware.RequirePermission(model.PermissionWrite)).
					Delete("/{id}", tokenHandler.Revoke)
			})

			// Admin surface. Session principals need the listed role;
			// token principals need the admin permission.
			r.Route("/admin", func(r chi.Router) {
				staff := func(r chi.Router) chi.Router {
					return r.With(middleware.RequireAccess(model.PermissionAdmin,
						model.RoleSuperAdmin, model.RoleManager, model.RoleEditor))
				}
				managers := func(r chi.Router) chi.Router {
					return r.With(middleware.RequireAccess(model.PermissionAdmin,
						model.RoleSuperAdmin, model.RoleManager))
				}
				superOnly := func(r chi.Router) chi.Router {
					return r.With(middleware.RequireAccess(model.PermissionAdmin,
						model.RoleSuperAdmin))
				}

				// Blog: every staff role can write.
				staff(r).Route("/posts", func(r chi.Router) {
					r.Get("/", postHandler.ListAll)
					r.Post("/", postHandler.Create)
					r.Post("/generate", postHandler.Generate)
					r.Get("/{id}", postHandler.Get)
					r.Put("/{id}", postHandler.Update)
					r.Delete("/{id}", postHandler.Delete)
				})
				staff(r).Route("/portfolio", func(r chi.Router) {
					r.Post("/", portfolioHandler.Create)
					r.Put("/{id}", portfolioHandler.Update)
					r.Delete("/{id}", portfolioHandler.Delete)
				})

				// Catalog and CRM: managers and up.
				managers(r).Route("/products", func(r chi.Router) {
					r.Get("/", productHandler.ListAll)
					r.Post("/", productHandler.Create)
					r.Put("/{id}", productHandler.Update)
					r.Delete("/{id}", productHandler.Delete)
				})
				managers(r).Route("/sales", func(r chi.Router) {
					r.Get("/", saleHandler.List)
					r.Post("/", saleHandler.Create)
					r.Get("/{id}", saleHandler.Get)
					r.Put("/{id}", saleHandler.Update)
					r.Put("/{id}/status", saleHandler.UpdateStatus)
				})

				// System administration: super admin only.
				superOnly(r).Route("/webhooks", func(r chi.Router) {
					r.Get("/", webhookHandler.List)
					r.Post("/", webhookHandler.Create)
					r.Put("/{id}", webhookHandler.Update)
					r.Delete("/{id}", webhookHandler.Delete)
					r.Get("/{id}/deliveries", webhookHandler.Deliveries)
				})
				superOnly(r).Route("/users", func(r chi.Router) {
					r.Get("/", userHandler.List)
					r.Post("/", userHandler.Create)
					r.Get("/{id}", userHandler.Get)
					r.Put("/{id}", userHandler.Update)
				})
				superOnly(r).Get("/tokens", tokenHandler.ListAll)
				superOnly(r).Get("/audit", auditHandler.List)
				superOnly(r).Get("/settings", settingsHandler.List)
				superOnly(r).Put("/settings", settingsHandler.Update)
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the database answers
// a ping, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(s.specJSON)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests and webhook deliveries.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if s.deps.Dispatcher != nil {
		s.deps.Dispatcher.Wait()
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
