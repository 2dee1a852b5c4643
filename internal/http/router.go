package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/htbacgiang/ecobacgiang/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Sessions       Sessions
	Hub            Publisher
	Auth           *Authenticator
	WebhookSecret  string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	cartHandler := NewCartHandler(cfg.Sessions, cfg.RequestTimeout, cfg.Logger)
	checkoutHandler := NewCheckoutHandler(cfg.Sessions, cfg.RequestTimeout, cfg.Logger)
	webhookHandler := NewWebhookHandler(cfg.Hub, cfg.WebhookSecret, cfg.Logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/payments", webhookHandler.Payments)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
			r.Post("/items/{product_id}/increment", cartHandler.Increment)
			r.Post("/items/{product_id}/decrement", cartHandler.Decrement)
			r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			r.Post("/coupon", cartHandler.ApplyCoupon)
			r.Delete("/coupon", cartHandler.ClearCoupon)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Delete("/", checkoutHandler.Leave)
			r.Put("/shipping", checkoutHandler.UpdateShipping)
			r.Post("/payment", checkoutHandler.SelectPayment)
			r.Get("/payment", checkoutHandler.GetPayment)
			r.Post("/payment/qr", checkoutHandler.RefreshQR)
			r.Post("/place", checkoutHandler.Place)
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
