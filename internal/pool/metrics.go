package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered once at package load as label-vectored
// collectors keyed by pool name, rather than per-Pool. Registering a
// fresh promauto collector inside a constructor panics the second time
// an instance is created; keying by label sidesteps that while keeping
// the same promauto wiring style.
var (
	checkedOutGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_checked_out",
		Help: "Listeners currently checked out of the pool.",
	}, []string{"pool"})

	inventoryGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_inventory_size",
		Help: "Idle listeners currently sitting in inventory.",
	}, []string{"pool"})

	maxUsedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_max_used_connections",
		Help: "High-water mark of MaxSize minus available permits.",
	}, []string{"pool"})

	permitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "connpool_permit_wait_seconds",
		Help:    "Time spent blocked acquiring a permit in GetConnection.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pool"})

	destroyedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connpool_destroyed_total",
		Help: "Listeners destroyed, labeled by the reason they were destroyed.",
	}, []string{"pool", "reason"})

	createdTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connpool_created_total",
		Help: "Managed connections manufactured by the factory.",
	}, []string{"pool"})
)

const (
	reasonIdle          = "idle"
	reasonValidation    = "validation_failed"
	reasonFlush         = "flush"
	reasonMatchFailed   = "match_failed"
	reasonCleanupFailed = "cleanup_failed"
	reasonOverflow      = "overflow"
)

// poolMetrics binds the package-level vectors to one pool's name, so call
// sites don't repeat the label.
type poolMetrics struct {
	name string
}

func newPoolMetrics(name string) *poolMetrics {
	return &poolMetrics{name: name}
}

func (m *poolMetrics) setCheckedOut(n int)    { checkedOutGauge.WithLabelValues(m.name).Set(float64(n)) }
func (m *poolMetrics) setInventory(n int)     { inventoryGauge.WithLabelValues(m.name).Set(float64(n)) }
func (m *poolMetrics) setMaxUsed(n int)       { maxUsedGauge.WithLabelValues(m.name).Set(float64(n)) }
func (m *poolMetrics) observeWait(seconds float64) {
	permitWaitSeconds.WithLabelValues(m.name).Observe(seconds)
}
func (m *poolMetrics) incDestroyed(reason string) {
	destroyedTotal.WithLabelValues(m.name, reason).Inc()
}
func (m *poolMetrics) incCreated() { createdTotal.WithLabelValues(m.name).Inc() }
