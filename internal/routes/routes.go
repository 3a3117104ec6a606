package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	"github.com/BradenHooton/ledgerguard/internal/handlers"
	"github.com/BradenHooton/ledgerguard/internal/metrics"
	"github.com/BradenHooton/ledgerguard/internal/middleware"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
)

// Dependencies collects what the route table needs.
type Dependencies struct {
	AuthHandler  *handlers.AuthHandler
	UserHandler  *handlers.UserHandler
	AuditHandler *handlers.AuditHandler

	TokenManager *auth.TokenManager
	Revocations  auth.TokenRevocationChecker
	Users        auth.UserRepository
	StatusGuard  *auth.StatusGuard
	CSRF         *auth.CSRFTokenManager

	IPConfig      *pkghttp.IPConfig
	AuthRateLimit int // Requests per minute per IP on public auth endpoints
	Logger        *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	authLimit := middleware.DefaultAuthRateLimit(deps.IPConfig)
	if deps.AuthRateLimit > 0 {
		authLimit.RequestsPerMinute = deps.AuthRateLimit
	}
	userLimits := middleware.DefaultAuthenticatedRateLimit()
	csrf := middleware.CSRFProtection(deps.CSRF, deps.Logger)

	router.Handle("/metrics", metrics.Handler())

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(authLimit))
		r.Use(csrf)

		r.Get("/auth/csrf", deps.AuthHandler.CSRFToken)
		r.Post("/auth/login", deps.AuthHandler.Login)
		r.Post("/auth/register", deps.AuthHandler.Register)
		r.Post("/auth/refresh", deps.AuthHandler.RefreshToken)
		r.Post("/auth/verify-email", deps.AuthHandler.VerifyEmail)
		r.Post("/auth/resend-verification", deps.AuthHandler.ResendVerification)
		r.Post("/auth/forgot-password", deps.AuthHandler.ForgotPassword)
		r.Post("/auth/reset-password", deps.AuthHandler.ResetPassword)
	})

	// Protected routes: token, then account state, then CSRF
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddlewareWithRevocation(deps.TokenManager, deps.Revocations, auth.RevocationConfig{FailClosed: true}, deps.Logger))
		r.Use(deps.StatusGuard.RequireActiveAccount)
		r.Use(csrf)

		r.With(middleware.RateLimitByUserID(userLimits, "read")).Get("/auth/verification-status", deps.AuthHandler.VerificationStatus)
		r.With(middleware.RateLimitByUserID(userLimits, "write")).Post("/auth/logout", deps.AuthHandler.Logout)
		r.With(middleware.RateLimitByUserID(userLimits, "write")).Post("/auth/logout-all", deps.AuthHandler.LogoutAll)

		r.With(
			auth.RequireVerifiedEmail,
			middleware.RateLimitByUserID(userLimits, "read"),
		).Get("/me", deps.UserHandler.Me)

		// Admin-only routes
		r.Route("/admin/users", func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Users, "admin"))
			r.Use(middleware.RateLimitByUserID(userLimits, "admin"))

			r.Get("/", deps.UserHandler.ListUsers)
			r.Get("/{id}", deps.UserHandler.GetUser)
			r.Delete("/{id}", deps.UserHandler.DeleteUser)
			r.Patch("/{id}/status", deps.UserHandler.UpdateStatus)
			r.Post("/{id}/unlock", deps.UserHandler.Unlock)
			r.Get("/{id}/audit-logs", deps.AuditHandler.GetUserAuditTrail)
		})
	})
}
