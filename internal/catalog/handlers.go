package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/salon-labs/internal/common"
)

// Handler exposes catalog endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// ErrorFor maps catalog errors to API errors.
func ErrorFor(err error) *common.AppError {
	if errors.Is(err, ErrNotFound) {
		return common.NewAppError("NOT_FOUND", err.Error(), http.StatusNotFound, err)
	}
	return nil
}

// Services handles GET /api/v1/labs/services.
func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	items, err := h.service.List(r.Context())
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// Bundles handles GET /api/v1/labs/bundles.
func (h *Handler) Bundles(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	items, err := h.service.Bundles(r.Context())
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// Bundle handles GET /api/v1/labs/bundles/{slug}.
func (h *Handler) Bundle(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	b, err := h.service.Bundle(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": b})
}

// InvalidateCache handles DELETE /api/v1/admin/labs/cache. Run it after the
// labs tables are changed outside the API, e.g. by the seeder.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	if err := h.service.Invalidate(r.Context()); err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
