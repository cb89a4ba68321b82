package app

import (
	"net/http"

	"github.com/ebaird/cairn/internal/apperrors"
	"github.com/ebaird/cairn/internal/audit"
	"github.com/ebaird/cairn/internal/auth"
	"github.com/ebaird/cairn/internal/config"
	"github.com/ebaird/cairn/internal/orgs"
	"github.com/ebaird/cairn/internal/profiles"
	"github.com/ebaird/cairn/internal/projects"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(pool *pgxpool.Pool, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	isProduction := !cfg.IsDev()

	r.Use(middleware.RealIP)
	r.Use(apperrors.RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.AuthMiddleware(cfg.JWTSecret))

	auditor := audit.NewWriter(pool)
	profileSvc := profiles.NewService(pool)

	// Health check routes (no authentication required)
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(pool))

	// API routes - Authentication
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(NoCacheMiddleware)

		r.Get("/csrf", auth.HandleCSRFToken(isProduction))

		r.Group(func(r chi.Router) {
			r.Use(CSRFMiddleware(isProduction))

			r.Post("/signup", auth.HandleSignup(pool, auditor, profileSvc, cfg.JWTSecret, cfg.SessionDays, isProduction))
			r.With(LoginRateLimitMiddleware(cfg.LoginRateRPM)).Post("/login", auth.HandleLogin(pool, auditor, cfg.JWTSecret, cfg.SessionDays, isProduction))
			r.With(auth.RequireAuth).Post("/logout", auth.HandleLogout(isProduction))
		})

		r.With(auth.RequireAuth).Get("/me", auth.HandleMe(pool, profileSvc))
	})

	// API routes - Organizations (require authentication)
	r.Route("/api/v1/orgs", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)

		r.Post("/", orgs.HandleCreate(pool, auditor))
		r.Get("/", orgs.HandleList(pool))
		r.Get("/{org_id}", orgs.HandleGet(pool))

		// Members
		r.Get("/{org_id}/members", orgs.HandleListMembers(pool))
		r.Put("/{org_id}/members/{membership_id}", orgs.HandleUpdateMemberRole(pool, auditor))
		r.Delete("/{org_id}/members/{membership_id}", orgs.HandleRemoveMember(pool, auditor))

		// Invitations issued by the organization
		r.Post("/{org_id}/invitations", orgs.HandleCreateInvitation(pool, auditor))
		r.Get("/{org_id}/invitations", orgs.HandleListOrgInvitations(pool))

		// Audit trail
		r.Get("/{org_id}/audit", orgs.HandleListAuditEvents(pool))

		// Projects under organization
		r.Post("/{org_id}/projects", projects.HandleCreate(pool, auditor))
		r.Get("/{org_id}/projects", projects.HandleList(pool))
	})

	// API routes - Invitations addressed to the caller
	r.Route("/api/v1/invitations", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(NoCacheMiddleware)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)

		r.Get("/", orgs.HandleListMyInvitations(pool))
		r.Post("/{invitation_id}/accept", orgs.HandleAcceptInvitation(pool, auditor))
		r.Post("/{invitation_id}/decline", orgs.HandleDeclineInvitation(pool, auditor))
	})

	return r
}

// handleHealthz returns a simple liveness check
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleReadyz returns a readiness check that includes database connectivity
func handleReadyz(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "ready",
			"db":     "ok",
		})
	}
}
