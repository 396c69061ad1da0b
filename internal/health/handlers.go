// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/salon-labs/internal/common"
)

const defaultProbeTimeout = 500 * time.Millisecond

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe is one readiness dependency.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(ctx context.Context) error
}

// PingProbe checks p. A nil p always fails.
func PingProbe(name string, p Pinger, timeout time.Duration) Probe {
	return Probe{Name: name, Timeout: timeout, Check: func(ctx context.Context) error {
		if p == nil {
			return errors.New(name + " not configured")
		}
		return p.Ping(ctx)
	}}
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	Probes   []Probe
	draining atomic.Bool
}

// Drain makes Ready fail from now on so the load balancer stops routing
// here while in-flight requests finish.
func (h *Handler) Drain() { h.draining.Store(true) }

// Live only reports that the process is serving.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Ready runs every probe in parallel and answers 503 if any failed.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "draining"})
		return
	}
	if len(h.Probes) == 0 {
		common.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unconfigured"})
		return
	}

	results := make([]string, len(h.Probes))
	var wg sync.WaitGroup
	for i, probe := range h.Probes {
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()
			results[i] = run(r.Context(), probe)
		}(i, probe)
	}
	wg.Wait()

	checks := make(map[string]string, len(h.Probes))
	status, code := "ok", http.StatusOK
	for i, probe := range h.Probes {
		checks[probe.Name] = results[i]
		if results[i] != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	common.JSON(w, code, map[string]any{"status": status, "checks": checks})
}

func run(ctx context.Context, p Probe) string {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if p.Check == nil {
		return "no check"
	}
	if err := p.Check(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
