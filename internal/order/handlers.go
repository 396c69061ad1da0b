package order

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/salon-labs/internal/common"
)

// Reader is the read side the handlers need. *Store satisfies it.
type Reader interface {
	Get(ctx context.Context, id string) (Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, int, error)
}

// Handler exposes a customer's orders.
type Handler struct {
	Store Reader
}

// ErrorFor maps order errors to API errors.
func ErrorFor(err error) *common.AppError {
	if errors.Is(err, ErrNotFound) {
		return common.NewAppError("NOT_FOUND", "order not found", http.StatusNotFound, err)
	}
	return nil
}

// List handles GET /api/v1/orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	orders, total, err := h.Store.ListByUser(r.Context(), userID, perPage, common.Offset(page, perPage))
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// Get handles GET /api/v1/orders/{id}. Customers only see their own orders.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	userID, _ := common.UserID(r.Context())
	if o.UserID != userID && common.Role(r.Context()) != common.RoleAdmin {
		common.WriteError(w, ErrNotFound, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}
