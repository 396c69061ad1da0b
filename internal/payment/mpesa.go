package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/salon-labs/internal/resilience"
)

const mpesaDefaultBaseURL = "https://sandbox.safaricom.co.ke"

// MPesa charges Safaricom subscribers with a Daraja STK push.
type MPesa struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
	HTTP           resilience.HTTPClient
	Now            func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Name implements Gateway.
func (m *MPesa) Name() string { return "mpesa" }

// Initiate sends an STK push to payerRef, an MSISDN such as 2547XXXXXXXX.
// The push is sent once; a failed prompt is retried by the customer.
func (m *MPesa) Initiate(ctx context.Context, amount int64, payerRef string) (Handle, error) {
	if amount <= 0 {
		return Handle{}, fmt.Errorf("%w: amount must be positive", ErrGateway)
	}
	phone, err := normaliseMSISDN(payerRef)
	if err != nil {
		return Handle{}, err
	}
	stamp := m.timestamp()
	body := map[string]any{
		"BusinessShortCode": m.Shortcode,
		"Password":          m.password(stamp),
		"Timestamp":         stamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            m.Shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       m.CallbackURL,
		"AccountReference":  "SalonLabs",
		"TransactionDesc":   "Salon payment",
	}
	var out struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
		ResponseCode      string `json:"ResponseCode"`
		CustomerMessage   string `json:"CustomerMessage"`
		ErrorMessage      string `json:"errorMessage"`
	}
	client := m.HTTP
	client.MaxAttempts = 1
	status, err := m.post(ctx, client, "/mpesa/stkpush/v1/processrequest", body, &out)
	if err != nil {
		return Handle{}, err
	}
	if status >= 300 || out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		return Handle{}, fmt.Errorf("%w: stk push rejected: %s", ErrGateway, firstNonEmpty(out.ErrorMessage, out.CustomerMessage))
	}
	return Handle{Provider: m.Name(), Reference: out.CheckoutRequestID, Message: out.CustomerMessage}, nil
}

// Verify queries the STK push status. Daraja answers with a 5xx while the
// customer has not yet responded; that is reported as pending.
func (m *MPesa) Verify(ctx context.Context, handle Handle) (Result, error) {
	if strings.TrimSpace(handle.Reference) == "" {
		return Result{}, fmt.Errorf("%w: reference is required", ErrGateway)
	}
	stamp := m.timestamp()
	body := map[string]any{
		"BusinessShortCode": m.Shortcode,
		"Password":          m.password(stamp),
		"Timestamp":         stamp,
		"CheckoutRequestID": handle.Reference,
	}
	var out struct {
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	status, err := m.post(ctx, m.HTTP, "/mpesa/stkpushquery/v1/query", body, &out)
	if errors.Is(err, resilience.ErrUpstreamStatus) {
		return Result{Reference: handle.Reference, Status: StatusPending}, nil
	}
	if err != nil {
		return Result{}, err
	}
	raw, _ := json.Marshal(out)
	res := Result{Reference: handle.Reference, Raw: raw}
	switch {
	case out.ErrorCode != "" && strings.Contains(strings.ToLower(out.ErrorMessage), "being processed"):
		res.Status = StatusPending
	case status >= 300:
		return Result{}, fmt.Errorf("%w: stk query %d: %s", ErrGateway, status, out.ErrorMessage)
	case out.ResultCode == "0":
		res.Status = StatusSuccess
	case out.ResultCode == "":
		res.Status = StatusPending
	default:
		res.Status = StatusFailure
	}
	return res, nil
}

// ParseWebhook extracts the CheckoutRequestID from an STK callback. Daraja
// callbacks are unsigned, so the outcome is always re-read with Verify.
func (m *MPesa) ParseWebhook(_ *http.Request, body []byte) (string, error) {
	var payload struct {
		Body struct {
			StkCallback struct {
				CheckoutRequestID string `json:"CheckoutRequestID"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode webhook: %w", err)
	}
	ref := payload.Body.StkCallback.CheckoutRequestID
	if ref == "" {
		return "", errors.New("webhook missing CheckoutRequestID")
	}
	return ref, nil
}

func (m *MPesa) post(ctx context.Context, client resilience.HTTPClient, path string, body any, out any) (int, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return 0, err
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL()+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: decode response: %v", ErrGateway, err)
	}
	return resp.StatusCode, nil
}

func (m *MPesa) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && m.now().Before(m.tokenExpiry) {
		return m.token, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL()+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(m.ConsumerKey, m.ConsumerSecret)
	resp, err := m.HTTP.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: oauth: %v", ErrGateway, err)
	}
	defer resp.Body.Close()
	var out struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil || resp.StatusCode >= 300 || out.AccessToken == "" {
		return "", fmt.Errorf("%w: oauth status %d", ErrGateway, resp.StatusCode)
	}
	ttl, _ := out.ExpiresIn.Int64()
	if ttl <= 60 {
		ttl = 3599
	}
	m.token = out.AccessToken
	m.tokenExpiry = m.now().Add(time.Duration(ttl-60) * time.Second)
	return m.token, nil
}

func (m *MPesa) password(stamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(m.Shortcode + m.Passkey + stamp))
}

// timestamp is Daraja's yyyyMMddHHmmss in East Africa Time.
func (m *MPesa) timestamp() string {
	return m.now().In(eat).Format("20060102150405")
}

func (m *MPesa) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MPesa) baseURL() string {
	base := strings.TrimRight(strings.TrimSpace(m.BaseURL), "/")
	if base == "" {
		return mpesaDefaultBaseURL
	}
	return base
}

var eat = time.FixedZone("EAT", 3*60*60)

// normaliseMSISDN accepts 07XXXXXXXX, +2547XXXXXXXX and 2547XXXXXXXX forms.
func normaliseMSISDN(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "+")
	switch {
	case strings.HasPrefix(s, "0") && len(s) == 10:
		s = "254" + s[1:]
	case strings.HasPrefix(s, "254") && len(s) == 12:
	default:
		return "", fmt.Errorf("%w: invalid phone number %q", ErrGateway, raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: invalid phone number %q", ErrGateway, raw)
		}
	}
	return s, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
