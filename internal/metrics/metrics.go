package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenantorders"

// Metrics groups every collector the service exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Requests           *prometheus.CounterVec
	LatencyMS          *prometheus.HistogramVec
	IdempotencyOutcome *prometheus.CounterVec
	IdempotencySwept   prometheus.Counter
	Commits            *prometheus.CounterVec
	EventsReleased     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		IdempotencyOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_decisions_total",
			Help:      "Idempotency decisions by outcome.",
		}, []string{"outcome"}),
		IdempotencySwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_swept_total",
			Help:      "Expired idempotency records deleted by the sweeper.",
		}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uow_commits_total",
			Help:      "Unit of work commits by result.",
		}, []string{"result"}),
		EventsReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_released_total",
			Help:      "Domain events handed to the dispatcher after commit.",
		}, []string{"type", "result"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.IdempotencyOutcome, m.IdempotencySwept, m.Commits, m.EventsReleased)
	return m
}

func (m *Metrics) ObserveRequest(handler string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) IdempotencyDecision(outcome string) {
	if m == nil {
		return
	}
	m.IdempotencyOutcome.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.IdempotencySwept.Add(float64(n))
}

func (m *Metrics) Commit(result string) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(result).Inc()
}

func (m *Metrics) EventReleased(eventType, result string) {
	if m == nil {
		return
	}
	m.EventsReleased.WithLabelValues(eventType, result).Inc()
}

// Handler serves the registry the metrics were created on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
