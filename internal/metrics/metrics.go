package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_ms",
			Help:    "Duration of HTTP requests in ms",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
		[]string{"method", "path"},
	)

	OrdersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_orders_placed_total",
			Help: "Orders placed, by payment method",
		},
		[]string{"method"},
	)

	DuplicatePlacements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_duplicate_placements_total",
		Help: "Placement attempts absorbed by the commit-once guard",
	})

	PlacementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_placement_failures_total",
		Help: "Order placements that failed after the guard was acquired",
	})

	IntentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_payment_intents_created_total",
			Help: "Payment intents created, by provider",
		},
		[]string{"provider"},
	)

	IntentReplacements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_payment_intent_replacements_total",
		Help: "Pending intents replaced after the cart total changed",
	})

	PaymentResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_payment_resolutions_total",
			Help: "Terminal payment statuses observed, by status and channel",
		},
		[]string{"status", "channel"},
	)

	PollTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_payment_poll_timeouts_total",
		Help: "Confirmation polls that exhausted their budget",
	})

	CouponsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_coupons_removed_total",
		Help: "Coupons cleared after failed revalidation",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_active_sessions",
		Help: "Checkout sessions currently held in memory",
	})
)

// Middleware records request counts and latency by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(float64(time.Since(start).Milliseconds()))
	})
}
