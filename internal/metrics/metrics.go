// Package metrics exposes Prometheus instrumentation for the pool service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pool service collectors.
type Metrics struct {
	Operations         *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	TotalLocked        *prometheus.GaugeVec
	FeesCollected      *prometheus.GaugeVec
	NullifiersConsumed *prometheus.CounterVec
	ProofRejections    *prometheus.CounterVec
	EventPublishErrors prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	RateLimited        prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shieldpool_operations_total",
			Help: "Pool operations by name and outcome code",
		}, []string{"op", "code"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shieldpool_operation_duration_seconds",
			Help:    "Duration of pool operations including proof verification",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
		TotalLocked: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shieldpool_total_locked",
			Help: "Value currently held in shielded form",
		}, []string{"pool"}),
		FeesCollected: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shieldpool_fees_collected",
			Help: "Fees retained in the vault",
		}, []string{"pool"}),
		NullifiersConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shieldpool_nullifiers_consumed_total",
			Help: "Nullifiers registered by successful unshields",
		}, []string{"pool"}),
		ProofRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shieldpool_proof_rejections_total",
			Help: "Proofs rejected by the verifier",
		}, []string{"op"}),
		EventPublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "shieldpool_event_publish_errors_total",
			Help: "Committed events that failed to publish",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shieldpool_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "shieldpool_rate_limited_total",
			Help: "Requests rejected by the per-caller rate limiter",
		}),
	}
}

// ObserveOperation records the outcome and duration of op.
// Call with time.Now() taken at the start of the operation.
func (m *Metrics) ObserveOperation(op, code string, start time.Time) {
	m.Operations.WithLabelValues(op, code).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SetPoolTotals publishes the pool aggregates after a commit.
func (m *Metrics) SetPoolTotals(pool string, totalLocked, fees uint64) {
	m.TotalLocked.WithLabelValues(pool).Set(float64(totalLocked))
	m.FeesCollected.WithLabelValues(pool).Set(float64(fees))
}

// IncNullifier counts a consumed nullifier.
func (m *Metrics) IncNullifier(pool string) {
	m.NullifiersConsumed.WithLabelValues(pool).Inc()
}

// IncProofRejected counts a rejected proof.
func (m *Metrics) IncProofRejected(op string) {
	m.ProofRejections.WithLabelValues(op).Inc()
}

// IncPublishError counts an event that failed to publish.
func (m *Metrics) IncPublishError() {
	m.EventPublishErrors.Inc()
}
