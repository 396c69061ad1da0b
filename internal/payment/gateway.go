package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/salon-labs/internal/resilience"
)

var (
	// ErrNotFound is returned when no payment matches a reference.
	ErrNotFound = errors.New("payment not found")
	// ErrNothingDue is returned when an order has no outstanding balance.
	ErrNothingDue = errors.New("nothing due on order")
	// ErrGateway wraps failures reported by the upstream provider.
	ErrGateway = errors.New("payment gateway error")
	// ErrInvalidSignature is returned for webhooks that fail verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrAmountMismatch is returned when the provider settled a different amount.
	ErrAmountMismatch = errors.New("provider amount mismatch")
	// ErrChargeInProgress is returned while an earlier charge on the order is still open.
	ErrChargeInProgress = errors.New("payment already in progress")
)

// Status is the normalised outcome of a charge.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Handle identifies a charge opened with a gateway.
type Handle struct {
	Provider         string `json:"provider"`
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Result is what a gateway reports for a charge.
type Result struct {
	Reference string          `json:"reference"`
	Status    Status          `json:"status"`
	Amount    int64           `json:"amount"`
	Raw       json.RawMessage `json:"-"`
}

// Gateway charges a payer and reports the outcome. Amounts are whole currency units.
type Gateway interface {
	Name() string
	Initiate(ctx context.Context, amount int64, payerRef string) (Handle, error)
	Verify(ctx context.Context, handle Handle) (Result, error)
}

// WebhookParser authenticates a provider callback and extracts the charge reference.
type WebhookParser interface {
	ParseWebhook(r *http.Request, body []byte) (string, error)
}

// HTTPOptions tunes the resilient client shared by the HTTP gateways.
type HTTPOptions struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
}

// NewHTTPClient builds a traced, retrying client with its own breaker for target.
func NewHTTPClient(target string, opts HTTPOptions) resilience.HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		Breaker: resilience.New(resilience.Settings{
			MinRequests:  5,
			FailureRatio: 0.5,
			OpenFor:      30 * time.Second,
			Window:       time.Minute,
			Target:       target,
		}),
		Target:      target,
		BaseBackoff: opts.BaseBackoff,
		MaxBackoff:  5 * time.Second,
		MaxAttempts: opts.MaxAttempts,
		Jitter:      0.2,
	}
}
