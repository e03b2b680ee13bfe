// Package httpapi is the JSON HTTP surface of the identity service.
package httpapi

import (
	"net/http"

	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/auth"
	"github.com/flicapp/identity/internal/server/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

type RouterOptions struct {
	Logger    logging.Logger
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	Readiness *Readiness
	SecretKey []byte
}

// NewRouter mounts every route on a chi mux.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	h.logger = opts.Logger
	h.validate = NewValidator()

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Observe(opts.Logger, opts.Metrics))
	r.Use(Recover(opts.Logger))

	r.Get("/healthz", liveness)
	r.Get("/readyz", opts.Readiness.handler)
	if opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Registry))
	}

	r.Post("/sessions/anonymous", h.startAnonymousSession)

	r.Route("/password-reset", func(r chi.Router) {
		r.Post("/request", h.requestReset)
		r.Post("/validate-token", h.validateReset)
	})

	r.Post("/users/phone-lookup", h.phoneLookup)

	// The acting user comes from the session token.
	r.Group(func(r chi.Router) {
		r.Use(RequireSession(opts.SecretKey, opts.Logger))
		r.Route("/email-verification", func(r chi.Router) {
			r.Post("/request", h.requestVerification)
			r.Post("/resend", h.resendVerification)
			r.Post("/validate", h.validateCode)
		})
		r.Patch("/users/{id}/profile", h.updateProfile)
		r.Post("/provider-requests", h.submitProviderRequest)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireRole(opts.SecretKey, auth.RoleAdmin, opts.Logger))
		r.Post("/users/merge", h.adminMerge)
		r.Get("/stats/orders", h.orderStats)
	})

	return r
}
