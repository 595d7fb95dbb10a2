package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cabbooking/internal/api"
	"cabbooking/internal/association"
	"cabbooking/internal/booking"
	"cabbooking/internal/fleet"
	"cabbooking/internal/identity"
	"cabbooking/internal/realtime"
	"cabbooking/pkg/config"
)

type Dependencies struct {
	Cfg    config.Config
	Logger *slog.Logger

	Profiles     identity.Profiles
	Bookings     *booking.Manager
	Fleet        fleet.Store
	Associations association.Store
	Realtime     *realtime.Hub

	// Ping reports store health for /readyz. Nil means always ready.
	Ping func(ctx context.Context) error
}

func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ping(ctx); err != nil {
				api.WriteError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "database not reachable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	bookingHandlers := booking.Handlers{Manager: deps.Bookings, Logger: deps.Logger}
	fleetHandlers := fleet.Handlers{Store: deps.Fleet, Logger: deps.Logger}
	associationHandlers := association.Handlers{Store: deps.Associations, Logger: deps.Logger}

	// v1
	r.Route("/v1", func(r chi.Router) {
		// Dashboards are served from a separate origin.
		r.Use(api.CORSMiddleware(api.CORSOptions{
			AllowedOrigins: deps.Cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-Id"},
			MaxAgeSeconds:  600,
		}))
		r.Use(api.SessionAuth(deps.Cfg, deps.Profiles))

		// Either role; the manager scopes results to the caller.
		r.Get("/bookings", bookingHandlers.List)
		r.Get("/bookings/{id}", bookingHandlers.Get)
		r.Get("/bookings/{id}/history", bookingHandlers.History)
		r.Post("/bookings/{id}/cancel", bookingHandlers.Cancel)
		r.Get("/stats", bookingHandlers.Stats)
		if deps.Realtime != nil {
			r.Get("/realtime", deps.Realtime.ServeWS)
		}

		// Company dashboard
		r.Group(func(r chi.Router) {
			r.Use(api.RequireRole(identity.RoleCompany))

			r.Post("/bookings", bookingHandlers.Create)
			r.Post("/bookings/{id}/review", bookingHandlers.Review)
			r.Post("/bookings/{id}/reoffer", bookingHandlers.Reoffer)

			r.Get("/associations", associationHandlers.List)
			r.Post("/associations", associationHandlers.Create)
			r.Delete("/associations/{vendorID}", associationHandlers.Delete)
		})

		// Vendor dashboard
		r.Group(func(r chi.Router) {
			r.Use(api.RequireRole(identity.RoleVendor))

			r.Post("/bookings/{id}/accept", bookingHandlers.Accept)
			r.Post("/bookings/{id}/reject", bookingHandlers.Reject)
			r.Post("/bookings/{id}/assign", bookingHandlers.Assign)
			r.Post("/bookings/{id}/start", bookingHandlers.Start)
			r.Post("/bookings/{id}/end", bookingHandlers.End)

			r.Get("/drivers", fleetHandlers.ListDrivers)
			r.Post("/drivers", fleetHandlers.CreateDriver)
			r.Patch("/drivers/{id}/availability", fleetHandlers.SetDriverAvailability)
			r.Delete("/drivers/{id}", fleetHandlers.DeleteDriver)

			r.Get("/vehicles", fleetHandlers.ListVehicles)
			r.Post("/vehicles", fleetHandlers.CreateVehicle)
			r.Patch("/vehicles/{id}/availability", fleetHandlers.SetVehicleAvailability)
			r.Delete("/vehicles/{id}", fleetHandlers.DeleteVehicle)
		})
	})

	return r
}
