package checkout

import (
	"net/http"

	"github.com/noah-isme/salon-labs/internal/cart"
	"github.com/noah-isme/salon-labs/internal/common"
)

// Handler exposes checkout.
type Handler struct {
	Svc *Service
}

// Checkout handles POST /api/v1/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
		return
	}
	var payload Input
	if err := common.DecodeAndValidate(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Svc.Checkout(r.Context(), userID, payload)
	if err != nil {
		common.WriteError(w, err, cart.ErrorFor)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": o})
}
