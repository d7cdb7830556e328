package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/methics/musap-ios-sub000/pkg/errors"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	LinkMessages     *prometheus.CounterVec
	LinkLatency      *prometheus.HistogramVec
	PollAttempts     *prometheus.HistogramVec
	TaskResults      *prometheus.CounterVec
	CallbackFailures *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		LinkMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musap_link_messages_total",
				Help: "Total number of Link round-trips by message type and result.",
			},
			[]string{"type", "result"},
		),
		LinkLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "musap_link_latency_seconds",
				Help:    "Latency of Link round-trips.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		PollAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "musap_sign_poll_attempts",
				Help:    "Number of re-poll attempts until a pending signature reached a terminal status.",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
			[]string{"status"},
		),
		TaskResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musap_task_results_total",
				Help: "Total number of orchestration tasks by verb and error code.",
			},
			[]string{"task", "code"},
		),
		CallbackFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musap_callback_failures_total",
				Help: "Total number of Link callbacks that could not be delivered.",
			},
			[]string{"type"},
		),
	}
}

// RecordLinkMessage records one Link round-trip.
func (m *Metrics) RecordLinkMessage(msgType string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.LinkMessages.WithLabelValues(msgType, result).Inc()
	m.LinkLatency.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordPollAttempts records how many re-polls a pending signature needed.
func (m *Metrics) RecordPollAttempts(status string, attempts int) {
	if m == nil {
		return
	}
	m.PollAttempts.WithLabelValues(status).Observe(float64(attempts))
}

// RecordTask records the outcome of an orchestration task. Success is code "0".
func (m *Metrics) RecordTask(task string, err error) {
	if m == nil {
		return
	}
	code := "0"
	if err != nil {
		code = strconv.Itoa(int(errors.Translate(err).Code()))
	}
	m.TaskResults.WithLabelValues(task, code).Inc()
}

// RecordCallbackFailure records a dropped callback.
func (m *Metrics) RecordCallbackFailure(msgType string) {
	if m == nil {
		return
	}
	m.CallbackFailures.WithLabelValues(msgType).Inc()
}
