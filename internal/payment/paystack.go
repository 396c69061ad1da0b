package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/salon-labs/internal/resilience"
)

const paystackDefaultBaseURL = "https://api.paystack.co"

// Paystack charges cards and mobile money through the Paystack transaction API.
type Paystack struct {
	SecretKey   string
	BaseURL     string
	Currency    string
	CallbackURL string
	HTTP        resilience.HTTPClient
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Name implements Gateway.
func (p *Paystack) Name() string { return "paystack" }

// Initiate opens a transaction and returns the hosted authorization URL.
// payerRef is the customer's email address.
func (p *Paystack) Initiate(ctx context.Context, amount int64, payerRef string) (Handle, error) {
	if amount <= 0 {
		return Handle{}, fmt.Errorf("%w: amount must be positive", ErrGateway)
	}
	email := strings.TrimSpace(payerRef)
	if email == "" {
		return Handle{}, fmt.Errorf("%w: payer email is required", ErrGateway)
	}
	reference := "psk_" + uuid.NewString()
	body := map[string]any{
		"email":     email,
		"amount":    amount * 100,
		"reference": reference,
		"currency":  p.currency(),
	}
	if p.CallbackURL != "" {
		body["callback_url"] = p.CallbackURL
	}
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	msg, err := p.call(ctx, http.MethodPost, "/transaction/initialize", body, &data)
	if err != nil {
		return Handle{}, err
	}
	if data.Reference != "" {
		reference = data.Reference
	}
	return Handle{Provider: p.Name(), Reference: reference, AuthorizationURL: data.AuthorizationURL, Message: msg}, nil
}

// Verify asks Paystack for the transaction's current state.
func (p *Paystack) Verify(ctx context.Context, handle Handle) (Result, error) {
	if strings.TrimSpace(handle.Reference) == "" {
		return Result{}, fmt.Errorf("%w: reference is required", ErrGateway)
	}
	var data struct {
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	raw := json.RawMessage{}
	if _, err := p.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(handle.Reference), nil, &raw); err != nil {
		return Result{}, err
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return Result{}, fmt.Errorf("%w: decode verify data: %v", ErrGateway, err)
	}
	return Result{
		Reference: handle.Reference,
		Status:    paystackStatus(data.Status),
		Amount:    data.Amount / 100,
		Raw:       raw,
	}, nil
}

// ParseWebhook checks x-paystack-signature, the hex HMAC-SHA512 of the body
// keyed with the secret, and returns the transaction reference.
func (p *Paystack) ParseWebhook(r *http.Request, body []byte) (string, error) {
	provided := strings.TrimSpace(r.Header.Get("x-paystack-signature"))
	if provided == "" || p.SecretKey == "" {
		return "", ErrInvalidSignature
	}
	if !hmac.Equal([]byte(p.sign(body)), []byte(strings.ToLower(provided))) {
		return "", ErrInvalidSignature
	}
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode webhook: %w", err)
	}
	if payload.Data.Reference == "" {
		return "", errors.New("webhook missing reference")
	}
	return payload.Data.Reference, nil
}

func (p *Paystack) sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(p.SecretKey))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *Paystack) call(ctx context.Context, method, path string, body any, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL()+path, reader)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.HTTP.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGateway, err)
	}
	defer resp.Body.Close()

	var env paystackEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrGateway, err)
	}
	if resp.StatusCode >= 300 || !env.Status {
		return "", fmt.Errorf("%w: paystack %d: %s", ErrGateway, resp.StatusCode, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("%w: decode data: %v", ErrGateway, err)
		}
	}
	return env.Message, nil
}

func (p *Paystack) baseURL() string {
	base := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if base == "" {
		return paystackDefaultBaseURL
	}
	return base
}

func (p *Paystack) currency() string {
	if p.Currency == "" {
		return "KES"
	}
	return p.Currency
}

func paystackStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return StatusSuccess
	case "failed", "abandoned", "reversed":
		return StatusFailure
	default:
		return StatusPending
	}
}
