package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "offline_queue",
		Name:      "actions_enqueued_total",
		Help:      "Number of mutations queued while offline.",
	}, []string{"collection", "type"})

	replayedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "offline_queue",
		Name:      "actions_replayed_total",
		Help:      "Number of queued mutations successfully replayed against the backend.",
	}, []string{"collection", "type"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "offline_queue",
		Name:      "actions_failed_total",
		Help:      "Number of queued mutations whose replay failed and were routed to dead letters.",
	}, []string{"collection", "type"})

	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smartgrip",
		Subsystem: "offline_queue",
		Name:      "depth",
		Help:      "Current number of queued mutations.",
	})

	drainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "smartgrip",
		Subsystem: "offline_queue",
		Name:      "drain_duration_seconds",
		Help:      "Time spent replaying the offline queue.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqProcessedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "dead_letter",
		Name:      "actions_processed_total",
		Help:      "Number of dead letters successfully replayed.",
	}, []string{"collection", "type"})

	dlqQuarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "dead_letter",
		Name:      "actions_quarantined_total",
		Help:      "Number of dead letters quarantined after exhausting retries.",
	}, []string{"collection", "type"})

	dlqRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "dead_letter",
		Name:      "retry_scheduled_total",
		Help:      "Number of times a dead letter was scheduled for a future retry.",
	}, []string{"collection", "type"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smartgrip",
		Subsystem: "dead_letter",
		Name:      "queued_actions",
		Help:      "Current number of retryable dead letters.",
	})
)

func init() {
	prometheus.MustRegister(enqueuedCounter, replayedCounter, failedCounter, queueDepthGauge, drainDuration,
		dlqProcessedCounter, dlqQuarantinedCounter, dlqRetryCounter, dlqBacklogGauge)
}

func recordEnqueued(a Action) {
	enqueuedCounter.WithLabelValues(a.Collection, string(a.Type)).Inc()
}

// RecordReplayed counts a successful replay.
func RecordReplayed(a Action) {
	replayedCounter.WithLabelValues(a.Collection, string(a.Type)).Inc()
}

func recordDeadLettered(a Action) {
	failedCounter.WithLabelValues(a.Collection, string(a.Type)).Inc()
}

// ObserveDrain records how long a drain took.
func ObserveDrain(d time.Duration) {
	drainDuration.Observe(d.Seconds())
}

func setQueueDepth(n int) {
	queueDepthGauge.Set(float64(n))
}

func recordDLQProcessed(a Action) {
	dlqProcessedCounter.WithLabelValues(a.Collection, string(a.Type)).Inc()
}

func recordDLQQuarantined(a Action) {
	dlqQuarantinedCounter.WithLabelValues(a.Collection, string(a.Type)).Inc()
}

func recordDLQRetry(a Action) {
	dlqRetryCounter.WithLabelValues(a.Collection, string(a.Type)).Inc()
}

func updateBacklogGauge(entries []DeadLetter) {
	count := 0
	for _, entry := range entries {
		if !entry.Quarantined() {
			count++
		}
	}
	dlqBacklogGauge.Set(float64(count))
}
