// Package metrics exposes Prometheus counters for the alarm store, the trigger
// scheduler and the confirmation flow. All recorders are no-ops until Init.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "pilld_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	remoteRequests *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec

	triggerOps     *prometheus.CounterVec
	triggersFired  prometheus.Counter
	pendingTrigger prometheus.Gauge

	confirmations *prometheus.CounterVec
	cachedAlarms  prometheus.Gauge
)

// Init registers all metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		remoteRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "remote_requests_total",
				Help: "Total alarm backend requests by operation and result",
			},
			[]string{"op", "result"},
		)
		remoteLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "remote_latency_seconds",
				Help:    "Alarm backend request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		)
		triggerOps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trigger_operations_total",
				Help: "Trigger registrations and cancellations by result",
			},
			[]string{"op", "result"},
		)
		triggersFired = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "triggers_fired_total",
				Help: "Total delivered notifications",
			},
		)
		pendingTrigger = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "pending_triggers",
				Help: "Pending notification requests",
			},
		)
		confirmations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "confirmation_actions_total",
				Help: "Confirmation flow actions by kind and result",
			},
			[]string{"action", "result"},
		)
		cachedAlarms = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "cached_alarms",
				Help: "Alarms in the local cache after the last refresh",
			},
		)

		prometheus.MustRegister(
			remoteRequests,
			remoteLatency,
			triggerOps,
			triggersFired,
			pendingTrigger,
			confirmations,
			cachedAlarms,
		)
	})
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// ObserveRemote records a backend request.
func ObserveRemote(op string, duration time.Duration, err error) {
	if remoteRequests != nil {
		remoteRequests.WithLabelValues(op, result(err)).Inc()
	}
	if remoteLatency != nil {
		remoteLatency.WithLabelValues(op).Observe(duration.Seconds())
	}
}

// IncTriggerOp counts a register or cancel call on the notification center.
func IncTriggerOp(op string, err error) {
	if triggerOps != nil {
		triggerOps.WithLabelValues(op, result(err)).Inc()
	}
}

// IncTriggerFired counts a delivered notification.
func IncTriggerFired() {
	if triggersFired != nil {
		triggersFired.Inc()
	}
}

// SetPendingTriggers sets the pending request gauge.
func SetPendingTriggers(n int) {
	if pendingTrigger != nil {
		pendingTrigger.Set(float64(n))
	}
}

// IncConfirmation counts a confirm or snooze.
func IncConfirmation(action string, err error) {
	if confirmations != nil {
		confirmations.WithLabelValues(action, result(err)).Inc()
	}
}

// SetCachedAlarms sets the cache size gauge.
func SetCachedAlarms(n int) {
	if cachedAlarms != nil {
		cachedAlarms.Set(float64(n))
	}
}
