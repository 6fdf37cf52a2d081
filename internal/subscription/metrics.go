package subscription

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: сколько sync-циклов прошло и с каким исходом
	SyncCycles *prometheus.CounterVec

	// Latency: длительность цикла (fetch + upsert + джобы)
	SyncDuration prometheus.Histogram

	// Saturation: сколько подписок заморожено политикой
	SuspendedSubscriptions prometheus.Gauge

	// Объем зеркалируемого контента за цикл
	MirroredItems prometheus.Counter

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge

	// Кэш допусков на hot path резолвера
	ClearanceCacheHits   prometheus.Counter
	ClearanceCacheMisses prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		SyncCycles: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kmesh_sync_cycles_total",
			Help: "Total number of subscription sync cycles by outcome.",
		}, []string{"outcome"}), // ok, error, suspended, skipped

		SyncDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "kmesh_sync_cycle_duration_seconds",
			Help:    "Histogram of sync cycle durations.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		SuspendedSubscriptions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "kmesh_subscriptions_suspended",
			Help: "Current number of policy-suspended subscriptions.",
		}),

		MirroredItems: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kmesh_mirrored_items_total",
			Help: "Total number of mirrored items upserted by sync.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "kmesh_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),

		ClearanceCacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kmesh_clearance_cache_hits_total",
			Help: "Clearance cache hits.",
		}),
		ClearanceCacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kmesh_clearance_cache_misses_total",
			Help: "Clearance cache misses.",
		}),
	}
}
