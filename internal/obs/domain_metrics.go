package obs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// BookingPaymentsTotal counts recorded booking payments by method and outcome.
	BookingPaymentsTotal *prometheus.CounterVec
	// BookingTransitionsTotal counts booking status transitions by target status.
	BookingTransitionsTotal *prometheus.CounterVec
	// DiscountValidationsTotal counts discount code checks by result.
	DiscountValidationsTotal *prometheus.CounterVec
	// CheckoutOrdersTotal counts checkout attempts by result.
	CheckoutOrdersTotal *prometheus.CounterVec
	// PaymentInitiationsTotal counts gateway initiations by provider and result.
	PaymentInitiationsTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound gateway callbacks by provider and result.
	PaymentWebhookTotal *prometheus.CounterVec
	// NotificationsTotal counts notifier dispatches by topic and result.
	NotificationsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BookingPaymentsTotal = counterVec(reg, namespace, "booking_payments_total", "Count of booking payment recordings by outcome.", "method", "result")
		BookingTransitionsTotal = counterVec(reg, namespace, "booking_transitions_total", "Count of booking status transitions.", "to")
		DiscountValidationsTotal = counterVec(reg, namespace, "discount_validations_total", "Count of discount code validations by result.", "result")
		CheckoutOrdersTotal = counterVec(reg, namespace, "checkout_orders_total", "Count of checkout attempts by result.", "result")
		PaymentInitiationsTotal = counterVec(reg, namespace, "payment_initiations_total", "Count of payment gateway initiations.", "provider", "result")
		PaymentWebhookTotal = counterVec(reg, namespace, "payment_webhook_total", "Count of processed payment webhooks by outcome.", "provider", "result")
		NotificationsTotal = counterVec(reg, namespace, "notifications_total", "Count of notification dispatches by topic and result.", "topic", "result")
	})
}

func counterVec(reg prometheus.Registerer, namespace, name, help string, labels ...string) *prometheus.CounterVec {
	return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels))
}

// register adds c to reg. When an identical collector is already there the
// existing one is returned, so repeated wiring in tests shares series.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(fmt.Errorf("register metric: %w", err))
}

// Inc increments vec when metrics are registered. Packages call it so tests can run without a registry.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
