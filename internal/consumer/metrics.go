package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "sync_consumer",
		Name:      "messages_processed_total",
		Help:      "Sync events successfully handled, by event type.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "sync_consumer",
		Name:      "handler_errors_total",
		Help:      "Handler failures, by event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "sync_consumer",
		Name:      "decode_errors_total",
		Help:      "Records that could not be decoded as sync events.",
	}, []string{"topic"})

	duplicateCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartgrip",
		Subsystem: "sync_consumer",
		Name:      "duplicates_total",
		Help:      "Redelivered records already present in the event log.",
	}, []string{"topic"})

	lagGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "smartgrip",
		Subsystem: "sync_consumer",
		Name:      "lag_seconds",
		Help:      "Delay between the event occurring on a device and being consumed.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, duplicateCounter, lagGauge)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	recordLag(msg.Topic, msg.OccurredAt, time.Now())
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordDuplicate(topic string) {
	duplicateCounter.WithLabelValues(topic).Inc()
}

func recordLag(topic string, occurredAt, now time.Time) {
	if occurredAt.IsZero() {
		return
	}
	lagGauge.WithLabelValues(topic).Set(now.Sub(occurredAt).Seconds())
}
