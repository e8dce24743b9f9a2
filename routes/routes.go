package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rl337/authface/app"
	"github.com/rl337/authface/middleware"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/utils"
)

const requestTimeout = 60 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	// CORS middleware
	origins := deps.Config.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !allowsAnyOrigin(origins),
		MaxAge:           300,
	}))

	// Service endpoints
	r.Get("/", deps.HealthHandler.HandleRoot)
	r.Get("/health", deps.HealthHandler.HandleHealth)
	r.Get("/health/ready", deps.HealthHandler.HandleReadiness)
	r.Get("/status", deps.SessionHandler.HandleStatus)

	// Login flow
	r.Get("/auth/{provider}", deps.AuthHandler.HandleLogin)
	r.Get("/callback/{provider}", deps.AuthHandler.HandleCallback)

	// Token endpoints
	r.Post("/token", deps.AuthHandler.HandleToken)
	r.Post("/verify", deps.AuthHandler.HandleVerify)
	r.Post("/logout", deps.AuthHandler.HandleLogout)
	r.Get("/.well-known/jwks.json", deps.AuthHandler.HandleJWKS)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		r.Get("/me", deps.SessionHandler.HandleMe)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireTier(models.TierAdmin))
			r.Get("/sessions", deps.SessionHandler.HandleSessions)
			if deps.AuditHandler != nil {
				r.Get("/audit", deps.AuditHandler.HandleList)
			}
		})
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
