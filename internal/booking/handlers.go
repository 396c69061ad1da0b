package booking

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/ledger"
)

// SlotLister reports which time slots are taken on a date.
type SlotLister interface {
	BookedSlots(ctx context.Context, date string) ([]string, error)
}

// Handler exposes booking administration endpoints.
type Handler struct {
	Svc   *Service
	Slots SlotLister
}

type createRequest struct {
	ClientName      string  `json:"clientName" validate:"required,max=120"`
	ClientEmail     string  `json:"clientEmail" validate:"omitempty,email"`
	ClientPhone     string  `json:"clientPhone" validate:"omitempty,max=32"`
	ServiceName     string  `json:"serviceName" validate:"required,max=120"`
	Date            string  `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot        string  `json:"timeSlot" validate:"required,datetime=15:04"`
	OriginalPrice   int64   `json:"originalPrice" validate:"gte=0"`
	DiscountPercent float64 `json:"discount" validate:"gte=0,lte=100"`
	Deposit         int64   `json:"deposit" validate:"gte=0"`
	DepositMethod   string  `json:"depositMethod" validate:"omitempty,max=32"`
	WalkInFee       int64   `json:"walkInFee" validate:"gte=0"`
}

type paymentRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Method string `json:"method" validate:"required,oneof=cash mpesa card bank"`
}

type serviceRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Price int64  `json:"price" validate:"gt=0"`
}

type fineRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Reason string `json:"reason" validate:"required,max=240"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=240"`
}

type rescheduleRequest struct {
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot string `json:"timeSlot" validate:"required,datetime=15:04"`
	Notes    string `json:"notes" validate:"max=240"`
	Notify   *bool  `json:"notifyClient"`
}

type bookingView struct {
	ledger.Booking
	Balance    int64 `json:"balance"`
	MaxPayment int64 `json:"maxPayment"`
}

func view(b ledger.Booking) bookingView {
	return bookingView{Booking: b, Balance: ledger.Balance(b), MaxPayment: ledger.MaxPayment(b)}
}

// ErrorFor maps ledger and store errors to API errors.
func ErrorFor(err error) *common.AppError {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("NOT_FOUND", "booking not found", http.StatusNotFound, err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		return common.NewAppError("INVALID_AMOUNT", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, ledger.ErrLimitExceeded):
		return common.NewAppError("LIMIT_EXCEEDED", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, ledger.ErrAlreadyFined):
		return common.NewAppError("ALREADY_FINED", "booking already carries a fine", http.StatusConflict, err)
	case errors.Is(err, ledger.ErrInvalidSlot):
		return common.NewAppError("INVALID_SLOT", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, ledger.ErrUnauthorized):
		return common.NewAppError("UNAUTHORIZED", err.Error(), http.StatusConflict, err)
	case errors.Is(err, ledger.ErrInvalidInput):
		return common.NewAppError("BAD_REQUEST", err.Error(), http.StatusBadRequest, err)
	}
	return nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, walkIn bool) {
	var req createRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.Svc.Create(r.Context(), ledger.NewBookingInput{
		ClientName:      req.ClientName,
		ClientEmail:     req.ClientEmail,
		ClientPhone:     req.ClientPhone,
		ServiceName:     req.ServiceName,
		Date:            req.Date,
		TimeSlot:        req.TimeSlot,
		OriginalPrice:   req.OriginalPrice,
		DiscountPercent: req.DiscountPercent,
		Deposit:         req.Deposit,
		DepositMethod:   req.DepositMethod,
		WalkIn:          walkIn,
		WalkInFee:       req.WalkInFee,
	})
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	writeOutcome(w, http.StatusCreated, out)
}

// Create books a scheduled appointment.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) { h.create(w, r, false) }

// CreateWalkIn books a walk-in client who pays after the appointment.
func (h *Handler) CreateWalkIn(w http.ResponseWriter, r *http.Request) { h.create(w, r, true) }

// Get returns one booking with its balance.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view(b)})
}

// List returns the bookings for ?date=YYYY-MM-DD.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 50)
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	items, total, err := h.Svc.ListByDate(r.Context(), date, page, perPage)
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	views := make([]bookingView, 0, len(items))
	for _, b := range items {
		views = append(views, view(b))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// BookedSlots lists the taken slots for ?date=YYYY-MM-DD.
func (h *Handler) BookedSlots(w http.ResponseWriter, r *http.Request) {
	if h.Slots == nil {
		common.JSONError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "slot listing not configured", nil)
		return
	}
	slots, err := h.Slots.BookedSlots(r.Context(), strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": slots})
}

// RecordPayment applies a payment to the outstanding balance.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.Svc.RecordPayment(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Method)
	h.respond(w, out, err)
}

// AddService adds an extra service.
func (h *Handler) AddService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.Svc.AddService(r.Context(), chi.URLParam(r, "id"), req.Name, req.Price)
	h.respond(w, out, err)
}

// AddFine attaches a fine.
func (h *Handler) AddFine(w http.ResponseWriter, r *http.Request) {
	var req fineRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.Svc.AddFine(r.Context(), chi.URLParam(r, "id"), req.Reason, req.Amount)
	h.respond(w, out, err)
}

// Cancel cancels the booking on behalf of the caller.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	by, _ := common.UserID(r.Context())
	out, err := h.Svc.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, by)
	h.respond(w, out, err)
}

// Reschedule moves the booking. Clients are notified unless notifyClient is false.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	by, _ := common.UserID(r.Context())
	notify := req.Notify == nil || *req.Notify
	out, err := h.Svc.Reschedule(r.Context(), chi.URLParam(r, "id"), ledger.RescheduleInput{
		Date:     req.Date,
		TimeSlot: req.TimeSlot,
		By:       by,
		Notes:    req.Notes,
		Notify:   notify,
	})
	h.respond(w, out, err)
}

// Complete marks the booking done.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.Complete(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, out, err)
}

func (h *Handler) respond(w http.ResponseWriter, out Outcome, err error) {
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	writeOutcome(w, http.StatusOK, out)
}

func writeOutcome(w http.ResponseWriter, status int, out Outcome) {
	body := map[string]any{"data": view(out.Booking)}
	if len(out.Directives) > 0 {
		meta := map[string]any{"directives": out.Directives}
		if out.NotificationErr != nil {
			meta["notificationError"] = out.NotificationErr.Error()
		}
		body["meta"] = meta
	}
	common.JSON(w, status, body)
}
