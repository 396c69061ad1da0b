package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/obs"
)

// Webhook accepts provider callbacks and confirms the referenced charge.
type Webhook struct {
	Svc       *Service
	Replay    redis.Cmdable
	ReplayTTL time.Duration
}

// Handle processes POST /api/v1/payments/webhook/{provider}.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Svc.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	parser, ok := h.Svc.Gateway.(WebhookParser)
	if !ok || provider != h.Svc.Gateway.Name() {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	result := "error"
	defer func() { obs.Inc(obs.PaymentWebhookTotal, provider, result) }()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	reference, err := parser.ParseWebhook(r, body)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			result = "invalid_signature"
			common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
			return
		}
		result = "invalid"
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}

	ctx := r.Context()
	key := ""
	if h.Replay != nil && h.ReplayTTL > 0 {
		key = fmt.Sprintf("wh:%s:%s", provider, bodyDigest(body))
		fresh, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			result = "replay"
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}

	out, err := h.Svc.Confirm(ctx, reference)
	if err != nil {
		// let the provider's retry through
		if key != "" {
			_ = h.Replay.Del(context.WithoutCancel(ctx), key).Err()
		}
		common.WriteError(w, err, ErrorFor)
		return
	}
	result = string(out.Payment.Status)
	w.WriteHeader(http.StatusNoContent)
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
