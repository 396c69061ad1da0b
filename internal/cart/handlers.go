package cart

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/salon-labs/internal/catalog"
	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/pricing"
	"github.com/noah-isme/salon-labs/internal/voucher"
)

// Handler wires cart operations to HTTP.
type Handler struct {
	Svc *Service
}

type addItemRequest struct {
	ServiceID string `json:"serviceId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"omitempty,gte=1,lte=100"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"gte=0,lte=100"`
}

type bundleRequest struct {
	Slug string `json:"slug" validate:"required"`
}

type optionsRequest struct {
	Priority  *bool `json:"priority"`
	NewDomain *bool `json:"newDomain"`
}

type discountRequest struct {
	Code       string `json:"code" validate:"required,max=64"`
	Identifier string `json:"userIdentifier" validate:"omitempty,max=254"`
}

// ErrorFor maps cart errors to API errors.
func ErrorFor(err error) *common.AppError {
	var missing *pricing.MissingServicesError
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("NOT_FOUND", "cart not found", http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidInput):
		return common.NewAppError("BAD_REQUEST", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, ErrEmpty):
		return common.NewAppError("CART_EMPTY", "cart is empty", http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrCodeAlreadyApplied):
		return common.NewAppError("DISCOUNT_ALREADY_APPLIED", err.Error(), http.StatusConflict, err)
	case errors.Is(err, ErrValidationInFlight):
		return common.NewAppError("DISCOUNT_VALIDATING", err.Error(), http.StatusConflict, err)
	case errors.As(err, &missing):
		appErr := common.NewAppError("MISSING_REQUIRED_SERVICES", err.Error(), http.StatusUnprocessableEntity, err)
		appErr.Details = map[string]any{"missing": missing.Names()}
		return appErr
	case errors.Is(err, pricing.ErrInvalidLineItem):
		return common.NewAppError("INVALID_LINE_ITEM", err.Error(), http.StatusUnprocessableEntity, err)
	}
	if appErr := voucher.ErrorFor(err); appErr != nil {
		return appErr
	}
	return catalog.ErrorFor(err)
}

func caller(r *http.Request) string {
	uid, _ := common.UserID(r.Context())
	return uid
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, c Cart) {
	v, err := h.Svc.Render(r.Context(), c)
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, status, map[string]any{"data": v})
}

// Create handles POST /api/v1/cart.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	c, err := h.Svc.Create(r.Context(), caller(r))
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	h.render(w, r, http.StatusCreated, c)
}

// Get handles GET /api/v1/cart/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.Svc.Quote(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": v})
}

// AddItem handles POST /api/v1/cart/{id}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	c, err := h.Svc.AddService(r.Context(), chi.URLParam(r, "id"), caller(r), req.ServiceID, req.Quantity)
	h.respond(w, r, c, err)
}

// UpdateItem handles PATCH /api/v1/cart/{id}/items/{serviceId}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Svc.UpdateQty(r.Context(), chi.URLParam(r, "id"), caller(r), chi.URLParam(r, "serviceId"), req.Quantity)
	h.respond(w, r, c, err)
}

// RemoveItem handles DELETE /api/v1/cart/{id}/items/{serviceId}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.Svc.RemoveItem(r.Context(), chi.URLParam(r, "id"), caller(r), chi.URLParam(r, "serviceId"))
	h.respond(w, r, c, err)
}

// AddBundle handles POST /api/v1/cart/{id}/bundles.
func (h *Handler) AddBundle(w http.ResponseWriter, r *http.Request) {
	var req bundleRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Svc.AddBundle(r.Context(), chi.URLParam(r, "id"), caller(r), req.Slug)
	h.respond(w, r, c, err)
}

// SetOptions handles PATCH /api/v1/cart/{id}/options.
func (h *Handler) SetOptions(w http.ResponseWriter, r *http.Request) {
	var req optionsRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Svc.SetOptions(r.Context(), chi.URLParam(r, "id"), caller(r), Options{Priority: req.Priority, NewDomain: req.NewDomain})
	h.respond(w, r, c, err)
}

// ApplyDiscount handles POST /api/v1/cart/{id}/discount. A rejected code is
// reported in the cart's discount state with a 200.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if uid := caller(r); uid != "" {
		identifier = uid
	}
	c, err := h.Svc.ApplyCode(r.Context(), chi.URLParam(r, "id"), caller(r), req.Code, identifier)
	if err != nil && voucher.ErrorFor(err) != nil {
		err = nil
	}
	h.respond(w, r, c, err)
}

// RemoveDiscount handles DELETE /api/v1/cart/{id}/discount.
func (h *Handler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	c, err := h.Svc.RemoveCode(r.Context(), chi.URLParam(r, "id"), caller(r))
	h.respond(w, r, c, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, c Cart, err error) {
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	h.render(w, r, http.StatusOK, c)
}
