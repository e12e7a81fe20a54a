package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ikkeifujio/WakeOrPay/internal/auth"
	"github.com/ikkeifujio/WakeOrPay/internal/http/handlers"
	"github.com/ikkeifujio/WakeOrPay/internal/middleware"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(webhookHandler *handlers.WebhookHandler, tokens *auth.TokenService) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Escalation endpoints (require a valid device token). The IP cap
	// is generous since several devices may share a NAT; the effective
	// budget is the per-device limiter inside the register handler.
	ipLimiter := middleware.NewRateLimiter(10*time.Minute, 120)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimitMiddleware(ipLimiter, middleware.GetIPKey))
		r.Use(middleware.DeviceAuthMiddleware(tokens))
		r.Post("/register", webhookHandler.HandleRegister)
		r.Post("/cancel", webhookHandler.HandleCancel)
		r.Post("/timeout", webhookHandler.HandleTimeout)
	})

	return r
}
