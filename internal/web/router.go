package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/veerhq/veer/internal/auth"
	"github.com/veerhq/veer/internal/ratelimit"
	"github.com/veerhq/veer/internal/web/handlers"
	"github.com/veerhq/veer/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	AuthHandler        *handlers.AuthHandler
	IntegrationHandler *handlers.IntegrationHandler
	FormHandler        *handlers.FormHandler
	SubmissionHandler  *handlers.SubmissionHandler
	AuthService        *auth.Service
	// Limiter throttles sign-in attempts and test sends.
	Limiter       *ratelimit.Limiter
	SecureCookies bool
	DB            handlers.Pinger
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", handlers.Healthz(deps.DB))

	// Public auth endpoints (CSRF, rate limited)
	r.Group(func(r chi.Router) {
		r.Use(middleware.CSRF(deps.SecureCookies))
		r.Use(middleware.RateLimit(deps.Limiter))

		r.Post("/api/auth/signup", deps.AuthHandler.HandleSignup)
		r.Post("/api/auth/login", deps.AuthHandler.HandleLogin)
		r.Post("/api/auth/logout", deps.AuthHandler.HandleLogout)
	})

	// The provider redirects the browser here, so there is no CSRF header;
	// the state cookie plays that role.
	r.With(middleware.RequireAuth(deps.AuthService)).
		Get("/api/auth/oauth/callback/{provider}", deps.IntegrationHandler.HandleOAuthCallback)

	r.Route("/api/integrations/email", func(r chi.Router) {
		r.Use(middleware.CSRF(deps.SecureCookies))
		r.Use(middleware.RequireAPIAuth(deps.AuthService))

		r.Get("/", deps.IntegrationHandler.HandleOverview)
		r.Post("/custom", deps.IntegrationHandler.HandleConnectSMTP)
		r.Put("/custom", deps.IntegrationHandler.HandleUpdateSMTP)
		r.Post("/{provider}/connect", deps.IntegrationHandler.HandleConnectOAuth)
		r.Post("/{provider}/toggle", deps.IntegrationHandler.HandleToggle)
		r.With(middleware.RateLimit(deps.Limiter)).
			Post("/{provider}/test", deps.IntegrationHandler.HandleTest)
		r.Delete("/{provider}", deps.IntegrationHandler.HandleDisconnect)
	})

	r.Route("/api/forms", func(r chi.Router) {
		r.Use(middleware.CSRF(deps.SecureCookies))
		r.Use(middleware.RequireAPIAuth(deps.AuthService))

		r.Get("/", deps.FormHandler.HandleList)
		r.Post("/", deps.FormHandler.HandleCreate)
		r.Post("/{formID}/toggle", deps.FormHandler.HandleToggle)
		r.Get("/{formID}/submissions", deps.FormHandler.HandleSubmissions)
	})

	// Public form endpoint (CORS, rate limited, no CSRF)
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS)
		r.Use(middleware.RateLimit(deps.Limiter))

		r.Post("/api/v1/forms/{formID}/submissions", deps.SubmissionHandler.HandleSubmit)
	})

	return r
}
