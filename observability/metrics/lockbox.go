package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LockboxMetrics struct {
	operations      *prometheus.CounterVec
	transferIntents *prometheus.CounterVec
	sequence        prometheus.Gauge
}

var (
	lockboxOnce     sync.Once
	lockboxRegistry *LockboxMetrics
)

// Lockbox returns the process-wide lockbox metric set, registering it on
// first use.
func Lockbox() *LockboxMetrics {
	lockboxOnce.Do(func() {
		lockboxRegistry = &LockboxMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lockbox_operations_total",
				Help: "Count of lifecycle operations by method and outcome.",
			}, []string{"method", "outcome"}),
			transferIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lockbox_transfer_intents_total",
				Help: "Count of settled transfer intents by funding mode.",
			}, []string{"mode"}),
			sequence: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lockbox_sequence",
				Help: "Latest allocated lockbox id.",
			}),
		}
		prometheus.MustRegister(
			lockboxRegistry.operations,
			lockboxRegistry.transferIntents,
			lockboxRegistry.sequence,
		)
	})
	return lockboxRegistry
}

// ObserveOperation records a lifecycle operation outcome.
func (m *LockboxMetrics) ObserveOperation(method string, success bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.operations.WithLabelValues(method, outcome).Inc()
}

// ObserveIntent records a settled transfer intent.
func (m *LockboxMetrics) ObserveIntent(mode string) {
	if m == nil {
		return
	}
	m.transferIntents.WithLabelValues(mode).Inc()
}

// SetSequence reports the latest allocated id.
func (m *LockboxMetrics) SetSequence(id uint64) {
	if m == nil {
		return
	}
	m.sequence.Set(float64(id))
}
