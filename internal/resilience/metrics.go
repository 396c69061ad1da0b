package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker collectors, labelled by gateway. They live on the default registry
// because breakers are created while wiring, before any handler exists.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "salon",
		Name:      "gateway_breaker_state",
		Help:      "Breaker position per payment gateway: 0 closed, 1 open, 2 half-open.",
	}, []string{"gateway"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "salon",
		Name:      "gateway_breaker_transitions_total",
		Help:      "Breaker state changes per payment gateway.",
	}, []string{"gateway", "from", "to"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "salon",
		Name:      "gateway_breaker_opened_total",
		Help:      "Times a payment gateway breaker tripped open.",
	}, []string{"gateway"})
	GatewayAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "salon",
		Name:      "gateway_http_attempts_total",
		Help:      "Outbound gateway HTTP attempts by outcome.",
	}, []string{"gateway", "outcome"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal, GatewayAttempts)
}
