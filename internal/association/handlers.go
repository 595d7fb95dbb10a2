package association

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cabbooking/internal/api"
)

type Handlers struct {
	Store  Store
	Logger *slog.Logger
}

type CreateRequest struct {
	VendorID string `json:"vendorId"`
}

func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	items, err := h.Store.ListByCompany(r.Context(), a.OwnerID)
	if err != nil {
		h.Logger.Error("list associations", "company_id", a.OwnerID, "err", err)
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	if items == nil {
		items = []Association{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) Create(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	var req CreateRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid json")
		return
	}
	req.VendorID = strings.TrimSpace(req.VendorID)
	if req.VendorID == "" {
		api.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "vendorId is required")
		return
	}

	assoc, err := h.Store.Activate(r.Context(), a.OwnerID, req.VendorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "vendor not found")
			return
		}
		h.Logger.Error("activate association", "company_id", a.OwnerID, "vendor_id", req.VendorID, "err", err)
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	api.WriteJSON(w, http.StatusCreated, assoc)
}

func (h Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	a := api.ActorFromContext(r.Context())
	vendorID := chi.URLParam(r, "vendorID")
	if err := h.Store.Deactivate(r.Context(), a.OwnerID, vendorID); err != nil {
		if errors.Is(err, ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "association not found")
			return
		}
		h.Logger.Error("deactivate association", "company_id", a.OwnerID, "vendor_id", vendorID, "err", err)
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
