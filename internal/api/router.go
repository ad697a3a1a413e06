package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/provider-availability-booking/internal/appointment"
)

type RouterConfig struct {
	Service  *appointment.Service
	Postgres Pinger
	Redis    Pinger
	Logger   zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(ActorMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service

	// Availability endpoints
	r.Post("/availability", createAvailabilityHandler(svc))
	r.Get("/availability/search", searchAvailabilityHandler(svc))
	r.Get("/providers/{id}/availability", providerAvailabilityHandler(svc))
	r.Get("/providers/{id}/slots", availableSlotsHandler(svc))
	r.Get("/providers/{id}/appointments", listProviderAppointmentsHandler(svc))

	// Slot endpoints
	r.Patch("/slots/{id}", updateSlotHandler(svc))
	r.Delete("/slots/{id}", deleteSlotHandler(svc))

	// Appointment endpoints
	r.Post("/appointments", bookAppointmentHandler(svc))
	r.Get("/appointments/{id}", getAppointmentHandler(svc))
	r.Get("/appointments/reference/{ref}", getAppointmentByReferenceHandler(svc))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(svc))
	r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(svc))
	r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(svc))

	return r
}
