// Package observability holds the Prometheus collectors shared by the sync agent.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Cache read outcomes.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheExpired = "expired"
	CacheCorrupt = "corrupt"
)

var (
	cacheReadCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "cache",
		Name:      "reads_total",
		Help:      "Local cache reads grouped by outcome.",
	}, []string{"result"})

	cacheWriteErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "cache",
		Name:      "write_errors_total",
		Help:      "Local cache writes that failed to reach storage.",
	})

	onlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smartgrip",
		Subsystem: "sync",
		Name:      "online",
		Help:      "1 when the orchestrator believes the network is reachable.",
	})

	staleFallbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "sync",
		Name:      "stale_fallbacks_total",
		Help:      "Reads answered from cache after the network path was unavailable.",
	}, []string{"entity"})

	gatewayErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "gateway",
		Name:      "errors_total",
		Help:      "Remote gateway failures grouped by operation.",
	}, []string{"operation"})

	idRemapCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "sync",
		Name:      "id_remaps_total",
		Help:      "Offline ids replaced by server ids after replay.",
	}, []string{"collection"})
)

func init() {
	prometheus.MustRegister(cacheReadCounter, cacheWriteErrorCounter, onlineGauge, staleFallbackCounter, gatewayErrorCounter, idRemapCounter)
}

// RecordCacheRead counts a cache lookup by outcome.
func RecordCacheRead(result string) {
	cacheReadCounter.WithLabelValues(result).Inc()
}

// RecordCacheWriteError counts a failed cache write.
func RecordCacheWriteError() {
	cacheWriteErrorCounter.Inc()
}

// SetOnline records the connectivity state.
func SetOnline(online bool) {
	if online {
		onlineGauge.Set(1)
		return
	}
	onlineGauge.Set(0)
}

// RecordStaleFallback counts a read served from cache because the network path failed.
func RecordStaleFallback(entity string) {
	staleFallbackCounter.WithLabelValues(entity).Inc()
}

// RecordGatewayError counts a failed remote operation.
func RecordGatewayError(operation string) {
	gatewayErrorCounter.WithLabelValues(operation).Inc()
}

// RecordIDRemap counts a local id reconciled with its server id.
func RecordIDRemap(collection string) {
	idRemapCounter.WithLabelValues(collection).Inc()
}
