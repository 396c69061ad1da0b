package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Sandbox settles charges locally for development. A payerRef beginning with
// "fail" declines and one beginning with "wait" stays pending; anything else succeeds.
type Sandbox struct {
	mu      sync.Mutex
	charges map[string]sandboxCharge
}

type sandboxCharge struct {
	amount int64
	status Status
}

// NewSandbox returns an empty sandbox gateway.
func NewSandbox() *Sandbox {
	return &Sandbox{charges: map[string]sandboxCharge{}}
}

// Name implements Gateway.
func (s *Sandbox) Name() string { return "sandbox" }

// Initiate implements Gateway.
func (s *Sandbox) Initiate(_ context.Context, amount int64, payerRef string) (Handle, error) {
	if amount <= 0 {
		return Handle{}, fmt.Errorf("%w: amount must be positive", ErrGateway)
	}
	ref := "sbx_" + uuid.NewString()
	status := StatusSuccess
	switch p := strings.ToLower(strings.TrimSpace(payerRef)); {
	case strings.HasPrefix(p, "fail"):
		status = StatusFailure
	case strings.HasPrefix(p, "wait"):
		status = StatusPending
	}
	s.mu.Lock()
	if s.charges == nil {
		s.charges = map[string]sandboxCharge{}
	}
	s.charges[ref] = sandboxCharge{amount: amount, status: status}
	s.mu.Unlock()
	return Handle{Provider: s.Name(), Reference: ref, Message: "sandbox charge created"}, nil
}

// Verify implements Gateway.
func (s *Sandbox) Verify(_ context.Context, handle Handle) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[handle.Reference]
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown sandbox reference %s", ErrGateway, handle.Reference)
	}
	return Result{Reference: handle.Reference, Status: c.status, Amount: c.amount}, nil
}
