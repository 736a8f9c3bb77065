package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the settlement counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	confirmations *prometheus.CounterVec
	conflicts     prometheus.Counter
	settled       *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		confirmations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashqueue_confirmations_total",
				Help: "Deposit confirmations by outcome",
			},
			[]string{"outcome"},
		),
		conflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cashqueue_confirm_conflicts_total",
				Help: "Confirmation attempts rolled back because a withdrawal changed underneath",
			},
		),
		settled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashqueue_settled_amount_total",
				Help: "Amount applied to withdrawals, by method",
			},
			[]string{"method"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashqueue_submissions_total",
				Help: "Accepted withdrawal and deposit submissions",
			},
			[]string{"kind", "method"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashqueue_http_requests_total",
				Help: "HTTP requests by route, method and status",
			},
			[]string{"path", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cashqueue_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}
	reg.MustRegister(m.confirmations, m.conflicts, m.settled, m.submissions, m.httpRequests, m.httpDuration)
	return m
}

func (m *Metrics) Confirmation(outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) Settled(method string, amount float64) {
	if m == nil {
		return
	}
	m.settled.WithLabelValues(method).Add(amount)
}

func (m *Metrics) Submission(kind, method string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind, method).Inc()
}

func (m *Metrics) HTTPRequest(path, method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(path, method).Observe(seconds)
}
