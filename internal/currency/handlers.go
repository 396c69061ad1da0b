package currency

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/salon-labs/internal/common"
)

// Handler exposes display conversions of shilling amounts.
type Handler struct {
	Rates RateCache
}

type rateRequest struct {
	Rate float64 `json:"rate" validate:"gt=0"`
}

// Conversion is the response of a display conversion.
type Conversion struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Amount    int64   `json:"amount"`
	Converted float64 `json:"converted"`
	Display   string  `json:"display"`
}

// ErrorFor maps currency errors to API errors.
func ErrorFor(err error) *common.AppError {
	if errors.Is(err, ErrRateNotFound) {
		return common.NewAppError("RATE_NOT_FOUND", "no exchange rate for that currency", http.StatusNotFound, err)
	}
	return nil
}

// Convert handles GET /api/v1/fx/convert?amount=20000&to=USD.
func (h Handler) Convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseInt(strings.TrimSpace(q.Get("amount")), 10, 64)
	if err != nil || amount < 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "amount must be a non-negative integer", nil)
		return
	}
	to := normalise(q.Get("to"))
	if len(to) != 3 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "to must be an ISO 4217 code", nil)
		return
	}
	converted, err := h.Rates.ConvertCached(r.Context(), amount, Base, to)
	if err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": Conversion{
		From:      Base,
		To:        to,
		Amount:    amount,
		Converted: converted,
		Display:   FormatDecimal(converted, to),
	}})
}

// PutRate handles PUT /api/v1/admin/fx/{code}.
func (h Handler) PutRate(w http.ResponseWriter, r *http.Request) {
	to := normalise(chi.URLParam(r, "code"))
	if len(to) != 3 || to == Base {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "code must be a foreign ISO 4217 code", nil)
		return
	}
	var req rateRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Rates.Put(r.Context(), Base, to, req.Rate); err != nil {
		common.WriteError(w, err, ErrorFor)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
