package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/physiobook/booking-engine/internal/availability"
	"github.com/physiobook/booking-engine/internal/booking"
	"github.com/physiobook/booking-engine/internal/metrics"
)

type RouterConfig struct {
	Service  *booking.Service
	Schedule *availability.Schedule
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Postgres Pinger
	Redis    Pinger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.HTTPMiddleware)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Therapist directory
	r.Get("/therapists", searchTherapistsHandler(cfg.Service))
	r.Get("/specializations", listSpecializationsHandler(cfg.Service))
	r.Post("/specializations", createSpecializationHandler(cfg.Service))
	r.Get("/cities", listCitiesHandler(cfg.Service))

	// Therapist availability and admin status
	r.Route("/therapists/{id}", func(r chi.Router) {
		r.Patch("/", updateTherapistHandler(cfg.Service))
		r.Put("/specializations/{specializationID}", assignSpecializationHandler(cfg.Service))
		r.Get("/availability", availabilityHandler(cfg.Service))
		r.Get("/slots", slotsHandler(cfg.Service))
		r.Post("/templates", createTemplateHandler(cfg.Schedule))
		r.Post("/overrides", createOverrideHandler(cfg.Schedule))
	})

	// Booking endpoints
	r.Post("/bookings", createBookingHandler(cfg.Service))
	r.Get("/bookings", listBookingsHandler(cfg.Service))
	r.Route("/bookings/{id}", func(r chi.Router) {
		r.Get("/", getBookingHandler(cfg.Service))
		r.Post("/payment", requestPaymentHandler(cfg.Service))
		r.Post("/payment/confirm", confirmPaymentHandler(cfg.Service))
		r.Get("/payments", listBookingPaymentsHandler(cfg.Service))
		r.Post("/refund", refundPaymentHandler(cfg.Service))
		r.Post("/cancel", cancelBookingHandler(cfg.Service))
		r.Post("/complete", completeBookingHandler(cfg.Service))
		r.Post("/no-show", noShowBookingHandler(cfg.Service))
		r.Post("/reschedule", rescheduleBookingHandler(cfg.Service))
	})

	// Payments
	r.Get("/payments", listPaymentsHandler(cfg.Service))
	r.Post("/payments/{id}/release", releasePaymentHandler(cfg.Service))

	return r
}
