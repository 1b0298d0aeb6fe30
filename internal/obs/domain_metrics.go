package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutSubmitTotal counts order submission attempts by payment method and result.
	CheckoutSubmitTotal *prometheus.CounterVec
	// PaymentSessionTotal counts payment sessions by the terminal state they reached.
	PaymentSessionTotal *prometheus.CounterVec
	// PaymentPollTotal counts status poll ticks by outcome.
	PaymentPollTotal *prometheus.CounterVec
	// PaymentSessionsActive tracks sessions currently awaiting payment.
	PaymentSessionsActive prometheus.Gauge
	// VoucherDetachTotal counts vouchers silently detached during re-validation.
	VoucherDetachTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutSubmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_submit_total",
			Help:      "Count of checkout submission outcomes.",
		}, []string{"method", "result"})
		PaymentSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_session_total",
			Help:      "Count of payment sessions by terminal state.",
		}, []string{"state"})
		PaymentPollTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_poll_total",
			Help:      "Count of payment status poll ticks by outcome.",
		}, []string{"result"})
		PaymentSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payment_sessions_active",
			Help:      "Number of payment sessions currently awaiting payment.",
		})
		VoucherDetachTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_detach_total",
			Help:      "Count of vouchers detached during re-validation.",
		}, []string{"reason"})

		registerCounterVec(reg, &CheckoutSubmitTotal)
		registerCounterVec(reg, &PaymentSessionTotal)
		registerCounterVec(reg, &PaymentPollTotal)
		registerGauge(reg, &PaymentSessionsActive)
		registerCounterVec(reg, &VoucherDetachTotal)
	})
}
