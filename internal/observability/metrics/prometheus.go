// Package metrics provides Prometheus metrics for the claims engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	DraftsCreated         prometheus.Counter
	SubmissionsSent       prometheus.Counter
	SubmissionsResolved   prometheus.Counter
	SubmissionsFailed     prometheus.Counter
	SubmissionsCancelled  prometheus.Counter
	PollsIssued           prometheus.Counter
	PollSweeps            prometheus.Counter
	ExchangeDuration      prometheus.Histogram
	QueuedSubmissions     prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		DraftsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submission_drafts_created_total",
			Help: "Total submission drafts created",
		}),
		SubmissionsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submissions_sent_total",
			Help: "Total submissions transmitted to the exchange",
		}),
		SubmissionsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submissions_resolved_total",
			Help: "Total submissions that reached a final adjudication",
		}),
		SubmissionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submissions_failed_total",
			Help: "Total failed exchange commands",
		}),
		SubmissionsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submissions_cancelled_total",
			Help: "Total submissions cancelled at the exchange",
		}),
		PollsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_polls_total",
			Help: "Total poll requests issued for queued submissions",
		}),
		PollSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poll_sweeps_total",
			Help: "Total background sweeps over queued submissions",
		}),
		ExchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exchange_request_duration_seconds",
			Help:    "Exchange request duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}),
		QueuedSubmissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "submissions_queued",
			Help: "Submissions currently awaiting asynchronous adjudication",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.DraftsCreated,
		m.SubmissionsSent,
		m.SubmissionsResolved,
		m.SubmissionsFailed,
		m.SubmissionsCancelled,
		m.PollsIssued,
		m.PollSweeps,
		m.ExchangeDuration,
		m.QueuedSubmissions,
		m.KafkaMessagesProduced,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// SetBreakerState records a circuit breaker state on the gauge.
func (m *Metrics) SetBreakerState(name, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
