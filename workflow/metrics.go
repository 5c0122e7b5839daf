package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts dispatch outcomes. A nil *Metrics records nothing.
type Metrics struct {
	notifications *prometheus.CounterVec
	steps         *prometheus.CounterVec
	ledgerAmount  *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "notifications_total",
			Help:      "Payment notifications by acknowledgement result.",
		}, []string{"result"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "steps_total",
			Help:      "Settlement step executions by step and outcome.",
		}, []string{"step", "outcome"}),
		ledgerAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "ledger_posted_amount_total",
			Help:      "Sum of amounts credited to tenant ledgers.",
		}, []string{"tenant_id"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "settlement",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one notification.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"branch"}),
	}
	if reg != nil {
		reg.MustRegister(m.notifications, m.steps, m.ledgerAmount, m.duration)
	}
	return m
}

func (m *Metrics) notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) step(step, outcome string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) posted(tenantId string, amount float64) {
	if m == nil {
		return
	}
	m.ledgerAmount.WithLabelValues(tenantId).Add(amount)
}

func (m *Metrics) observe(branch string, seconds float64) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(branch).Observe(seconds)
}
