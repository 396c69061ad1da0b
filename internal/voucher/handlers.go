package voucher

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/db"
)

// AdminStore is the persistence used by the admin endpoints.
type AdminStore interface {
	Querier
	List(ctx context.Context) ([]Code, error)
	Create(ctx context.Context, c Code) (Code, error)
	Update(ctx context.Context, c Code) (Code, error)
}

// Handler exposes discount code validation and administration.
type Handler struct {
	Store AdminStore
	Svc   *Service
}

type codePayload struct {
	Code            string     `json:"code" validate:"required,max=64"`
	DiscountType    Type       `json:"discountType" validate:"required,oneof=percentage fixed"`
	DiscountValue   float64    `json:"discountValue" validate:"gt=0"`
	MaxUses         *int32     `json:"maxUses" validate:"omitempty,gt=0"`
	IsFirstTimeOnly bool       `json:"isFirstTimeOnly"`
	IsActive        *bool      `json:"isActive"`
	ExpiresAt       *time.Time `json:"expiresAt"`
}

type validateRequest struct {
	Code       string `json:"code" validate:"required"`
	Identifier string `json:"userIdentifier"`
	Subtotal   int64  `json:"cartSubtotal" validate:"gte=0"`
}

// ErrorFor maps discount errors to API errors. It is shared with cart and checkout.
func ErrorFor(err error) *common.AppError {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("DISCOUNT_NOT_FOUND", "discount code not found", http.StatusNotFound, err)
	case errors.Is(err, ErrInactive):
		return common.NewAppError("DISCOUNT_INACTIVE", "discount code is no longer active", http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrExpired):
		return common.NewAppError("DISCOUNT_EXPIRED", "discount code has expired", http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrAlreadyUsedByUser):
		return common.NewAppError("DISCOUNT_ALREADY_USED", "you have already used this discount code", http.StatusConflict, err)
	case errors.Is(err, ErrExhaustedPool):
		return common.NewAppError("DISCOUNT_EXHAUSTED", "discount code usage limit reached", http.StatusConflict, err)
	case errors.Is(err, ErrBelowMinimum):
		return common.NewAppError("BELOW_MINIMUM", "cart subtotal is below the minimum order value", http.StatusUnprocessableEntity, err)
	}
	return nil
}

// Validate is the public read-only check. The identifier defaults to the caller's user id.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount service not configured", nil)
		return
	}
	var req validateRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if uid, ok := common.UserID(r.Context()); ok && uid != "" {
		identifier = uid
	}
	res, err := h.Svc.Validate(r.Context(), req.Code, identifier, req.Subtotal)
	if err != nil {
		if appErr := ErrorFor(err); appErr != nil {
			// the validation contract reports invalid codes as data, not transport failures
			common.JSON(w, http.StatusOK, map[string]any{"data": Validation{Valid: false, Code: NormalizeCode(req.Code), Error: appErr.Code}})
			return
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

// List returns all codes.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Store.List(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": codes})
}

// Create inserts a new code.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload codePayload
	if err := common.DecodeAndValidate(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := NewCode(payload.Code, payload.DiscountType, payload.DiscountValue, payload.MaxUses, payload.IsFirstTimeOnly, payload.ExpiresAt)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if payload.IsActive != nil {
		c.IsActive = *payload.IsActive
	}
	created, err := h.Store.Create(r.Context(), c)
	if err != nil {
		if db.IsUniqueViolation(err) {
			common.JSONError(w, http.StatusConflict, "CONFLICT", "discount code already exists", nil)
			return
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

// Update replaces the editable fields of the code in the path.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	var payload codePayload
	payload.Code = code
	if err := common.DecodeAndValidate(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := NewCode(code, payload.DiscountType, payload.DiscountValue, payload.MaxUses, payload.IsFirstTimeOnly, payload.ExpiresAt)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if payload.IsActive != nil {
		c.IsActive = *payload.IsActive
	}
	updated, err := h.Store.Update(r.Context(), c)
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}

// Deactivate switches a code off without touching its usage history.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	current, err := h.Store.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	current.IsActive = false
	updated, err := h.Store.Update(r.Context(), current)
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}
