package booking

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"cabbooking/internal/api"
)

type Handlers struct {
	Manager *Manager
	Logger  *slog.Logger
}

type NoteRequest struct {
	Note string `json:"note"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type EndTripRequest struct {
	ActualFare *decimal.Decimal `json:"actualFare"`
}

type AssignRequest struct {
	DriverID  string `json:"driverId"`
	VehicleID string `json:"vehicleId"`
}

type ReviewRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

// List serves GET /v1/bookings?view=history&status=&q=&limit=.
func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	qs := r.URL.Query()

	f := Filter{
		History: qs.Get("view") == "history",
		Search:  qs.Get("q"),
	}
	if s := strings.TrimSpace(qs.Get("status")); s != "" && s != "all" {
		st, err := ParseStatus(s)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, string(KindValidation), err.Error())
			return
		}
		f.Status = st
	}
	if s := qs.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, string(KindValidation), "limit must be a number")
			return
		}
		f.Limit = n
	}

	items, err := h.Manager.List(r.Context(), *a, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) Create(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var in CreateInput
	if !decode(w, r, &in) {
		return
	}
	b, err := h.Manager.Create(r.Context(), *a, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, b)
}

func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	b, err := h.Manager.Get(r.Context(), *a, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, b)
}

func (h Handlers) History(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	rows, err := h.Manager.History(r.Context(), *a, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (h Handlers) Accept(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	b, err := h.Manager.Accept(r.Context(), *a, chi.URLParam(r, "id"))
	h.respond(w, r, b, err)
}

func (h Handlers) Reject(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var req NoteRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Manager.Reject(r.Context(), *a, chi.URLParam(r, "id"), req.Note)
	h.respond(w, r, b, err)
}

func (h Handlers) Start(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	b, err := h.Manager.StartTrip(r.Context(), *a, chi.URLParam(r, "id"))
	h.respond(w, r, b, err)
}

func (h Handlers) End(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var req EndTripRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Manager.EndTrip(r.Context(), *a, chi.URLParam(r, "id"), req.ActualFare)
	h.respond(w, r, b, err)
}

func (h Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var req CancelRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Manager.Cancel(r.Context(), *a, chi.URLParam(r, "id"), req.Reason)
	h.respond(w, r, b, err)
}

func (h Handlers) Assign(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Manager.AssignDriverAndVehicle(r.Context(), *a, chi.URLParam(r, "id"), req.DriverID, req.VehicleID)
	h.respond(w, r, b, err)
}

func (h Handlers) Review(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var req ReviewRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Manager.Review(r.Context(), *a, chi.URLParam(r, "id"), req.Rating, req.Feedback)
	h.respond(w, r, b, err)
}

func (h Handlers) Reoffer(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	b, err := h.Manager.Reoffer(r.Context(), *a, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, b)
}

func (h Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	st, err := h.Manager.Stats(r.Context(), *a)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, st)
}

func (h Handlers) respond(w http.ResponseWriter, r *http.Request, b *Booking, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, b)
}

func (h Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := KindOf(err)
	status := httpStatus(kind)
	if status >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.ErrorContext(r.Context(), "booking request failed", "path", r.URL.Path, "kind", string(kind), "err", err)
	}

	msg := "internal error"
	var e *Error
	if kind != KindInternal && errors.As(err, &e) {
		msg = e.Error()
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	api.WriteError(w, status, string(kind), msg)
}

func httpStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidTransition, KindAlreadyAssigned, KindPreconditionFailed, KindResourceUnavailable:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := api.DecodeJSON(r, dst); err != nil {
		api.WriteError(w, http.StatusBadRequest, string(KindValidation), "invalid json")
		return false
	}
	return true
}
