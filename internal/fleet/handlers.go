package fleet

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cabbooking/internal/api"
	"cabbooking/pkg/validate"
)

type Handlers struct {
	Store  Store
	Logger *slog.Logger
}

type DriverRequest struct {
	Name            string     `json:"name" validate:"required"`
	Phone           string     `json:"phone" validate:"required"`
	Email           string     `json:"email" validate:"omitempty,email"`
	Address         string     `json:"address"`
	LicenseNumber   string     `json:"licenseNumber" validate:"required"`
	LicenseExpiry   *time.Time `json:"licenseExpiry"`
	ExperienceYears *int       `json:"experienceYears" validate:"omitempty,gte=0"`
}

type VehicleRequest struct {
	RegistrationNumber string `json:"registrationNumber" validate:"required"`
	VehicleType        string `json:"vehicleType" validate:"required,oneof=sedan hatchback suv luxury"`
	Make               string `json:"make" validate:"required"`
	Model              string `json:"model" validate:"required"`
	Year               *int   `json:"year" validate:"omitempty,gte=1950"`
	Color              string `json:"color"`
	Capacity           *int   `json:"capacity" validate:"omitempty,gte=1"`
}

type AvailabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

func (h Handlers) ListDrivers(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	items, err := h.Store.ListDrivers(r.Context(), a.OwnerID)
	if err != nil {
		h.internal(w, "list drivers", err)
		return
	}
	if items == nil {
		items = []Driver{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) CreateDriver(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var req DriverRequest
	if !decodeValid(w, r, &req) {
		return
	}
	d := &Driver{
		VendorID:        a.OwnerID,
		Name:            req.Name,
		Phone:           req.Phone,
		Email:           req.Email,
		Address:         req.Address,
		LicenseNumber:   req.LicenseNumber,
		LicenseExpiry:   req.LicenseExpiry,
		ExperienceYears: req.ExperienceYears,
		IsAvailable:     true,
		IsActive:        true,
	}
	if err := h.Store.CreateDriver(r.Context(), d); err != nil {
		h.internal(w, "create driver", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, d)
}

func (h Handlers) SetDriverAvailability(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var req AvailabilityRequest
	if !decodeValid(w, r, &req) {
		return
	}
	err := h.Store.SetDriverAvailability(r.Context(), a.OwnerID, chi.URLParam(r, "id"), *req.Available)
	h.finish(w, "driver", err)
}

func (h Handlers) DeleteDriver(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	err := h.Store.DeactivateDriver(r.Context(), a.OwnerID, chi.URLParam(r, "id"))
	h.finish(w, "driver", err)
}

func (h Handlers) ListVehicles(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	items, err := h.Store.ListVehicles(r.Context(), a.OwnerID)
	if err != nil {
		h.internal(w, "list vehicles", err)
		return
	}
	if items == nil {
		items = []Vehicle{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var req VehicleRequest
	if !decodeValid(w, r, &req) {
		return
	}
	v := &Vehicle{
		VendorID:           a.OwnerID,
		RegistrationNumber: req.RegistrationNumber,
		VehicleType:        VehicleType(req.VehicleType),
		Make:               req.Make,
		Model:              req.Model,
		Year:               req.Year,
		Color:              req.Color,
		Capacity:           req.Capacity,
		IsAvailable:        true,
		IsActive:           true,
	}
	if err := h.Store.CreateVehicle(r.Context(), v); err != nil {
		h.internal(w, "create vehicle", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, v)
}

func (h Handlers) SetVehicleAvailability(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var req AvailabilityRequest
	if !decodeValid(w, r, &req) {
		return
	}
	err := h.Store.SetVehicleAvailability(r.Context(), a.OwnerID, chi.URLParam(r, "id"), *req.Available)
	h.finish(w, "vehicle", err)
}

func (h Handlers) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	err := h.Store.DeactivateVehicle(r.Context(), a.OwnerID, chi.URLParam(r, "id"))
	h.finish(w, "vehicle", err)
}

func (h Handlers) finish(w http.ResponseWriter, what string, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNotFound):
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", what+" not found")
	default:
		h.internal(w, "update "+what, err)
	}
}

func (h Handlers) internal(w http.ResponseWriter, op string, err error) {
	if h.Logger != nil {
		h.Logger.Error("fleet store failed", "op", op, "err", err)
	}
	api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := api.DecodeJSON(r, dst); err != nil {
		api.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid json")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		api.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return false
	}
	return true
}
