package payment

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/order"
	"github.com/noah-isme/salon-labs/internal/resilience"
)

// Handler exposes payment initiation and confirmation.
type Handler struct {
	Svc *Service
}

type initiateRequest struct {
	PayerRef string `json:"payerRef" validate:"required,max=120"`
}

// ErrorFor maps payment errors to API errors.
func ErrorFor(err error) *common.AppError {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("NOT_FOUND", "payment not found", http.StatusNotFound, err)
	case errors.Is(err, ErrNothingDue):
		return common.NewAppError("NOTHING_DUE", "order has no outstanding balance", http.StatusConflict, err)
	case errors.Is(err, ErrChargeInProgress):
		return common.NewAppError("PAYMENT_IN_PROGRESS", "an earlier charge on this order is still open", http.StatusConflict, err)
	case errors.Is(err, ErrAmountMismatch):
		return common.NewAppError("AMOUNT_MISMATCH", "provider amount mismatch", http.StatusConflict, err)
	case errors.Is(err, ErrInvalidSignature):
		return common.NewAppError("INVALID_SIGNATURE", "signature verification failed", http.StatusUnauthorized, err)
	case errors.Is(err, resilience.ErrOpenCircuit):
		return common.NewAppError("GATEWAY_UNAVAILABLE", "payment provider temporarily unavailable", http.StatusServiceUnavailable, err)
	case errors.Is(err, ErrGateway):
		return common.NewAppError("GATEWAY_ERROR", err.Error(), http.StatusBadGateway, err)
	}
	return order.ErrorFor(err)
}

// Initiate handles POST /api/v1/orders/{id}/payments.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
		return
	}
	var req initiateRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.Svc.InitiateOrderPayment(r.Context(), chi.URLParam(r, "id"), userID, req.PayerRef)
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// Confirm handles POST /api/v1/payments/{reference}/confirm. It is safe to poll.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.Confirm(r.Context(), strings.TrimSpace(chi.URLParam(r, "reference")))
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}
