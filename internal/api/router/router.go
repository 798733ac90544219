// Package router assembles the HTTP surface: public health/webhook routes
// and the JWT-protected patient API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/calmora/clinic-booking/internal/http/handlers"
	httpmiddleware "github.com/calmora/clinic-booking/internal/http/middleware"
	"github.com/calmora/clinic-booking/internal/payments"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	SlotsHandler    *handlers.SlotsHandler
	BookingsHandler *handlers.BookingsHandler
	PaymentsHandler *handlers.PaymentsHandler
	OrdersHandler   *handlers.OrdersHandler
	GatewayWebhook  *payments.WebhookHandler
	MetricsHandler  http.Handler

	// UserAuthSecret signs the patient-facing JWTs. Empty disables the
	// authenticated routes entirely.
	UserAuthSecret     string
	CORSAllowedOrigins []string
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (health, metrics, gateway webhooks).
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.GatewayWebhook != nil {
			public.Post("/webhooks/gateway", cfg.GatewayWebhook.Handle)
		}
	})

	// Patient API, JWT-protected.
	if cfg.UserAuthSecret != "" {
		r.Group(func(api chi.Router) {
			api.Use(httpmiddleware.UserJWT(cfg.UserAuthSecret))

			if cfg.SlotsHandler != nil {
				api.Route("/services/{serviceID}", func(r chi.Router) {
					r.Get("/dates", cfg.SlotsHandler.ListDates)
					r.Get("/slots", cfg.SlotsHandler.ListSlots)
					r.Get("/therapists", cfg.SlotsHandler.ListTherapists)
				})
				api.Get("/slots/next", cfg.SlotsHandler.NextAvailable)
			}

			if cfg.BookingsHandler != nil {
				api.Route("/bookings", func(r chi.Router) {
					r.Post("/", cfg.BookingsHandler.Create)
					r.Post("/sync-completed", cfg.BookingsHandler.SyncCompleted)
					r.Post("/{appointmentID}/cancel", cfg.BookingsHandler.Cancel)
					r.Post("/{appointmentID}/reschedule", cfg.BookingsHandler.Reschedule)
				})
			}

			if cfg.PaymentsHandler != nil {
				api.Route("/payments", func(r chi.Router) {
					r.Post("/orders", cfg.PaymentsHandler.CreateOrder)
					r.Post("/intents", cfg.PaymentsHandler.CreateIntent)
					r.Post("/verify", cfg.PaymentsHandler.VerifyCheckout)
					r.Get("/intents/{intentID}/proof", cfg.PaymentsHandler.SheetProof)
				})
			}

			if cfg.OrdersHandler != nil {
				api.Post("/cart/reconcile", cfg.OrdersHandler.Reconcile)
				api.Post("/orders", cfg.OrdersHandler.Place)
			}
		})
	}

	return r
}
