// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payper"

// Metrics holds the service counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	challenges       *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	priceSource      *prometheus.CounterVec
	providerCreates  *prometheus.CounterVec
	providerPolls    *prometheus.CounterVec
	buybackBatches   *prometheus.CounterVec
	buybackEnqueued  prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDurationSecs *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_challenges_total",
			Help:      "Payment challenges issued, by model.",
		}, []string{"model"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_outcomes_total",
			Help:      "Settlement verification outcomes.",
		}, []string{"outcome"}),
		priceSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_quotes_total",
			Help:      "Token price quotes served, by source.",
		}, []string{"mint", "source"}),
		providerCreates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_task_creations_total",
			Help:      "Provider task creation attempts.",
		}, []string{"provider", "result"}),
		providerPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_task_polls_total",
			Help:      "Provider status polls, by normalized state.",
		}, []string{"provider", "state"}),
		buybackBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buyback_batches_total",
			Help:      "Buyback batches by final status.",
		}, []string{"status"}),
		buybackEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buyback_contributions_enqueued_total",
			Help:      "Buyback contributions accepted.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.challenges,
		m.settlements,
		m.priceSource,
		m.providerCreates,
		m.providerPolls,
		m.buybackBatches,
		m.buybackEnqueued,
		m.httpRequests,
		m.httpDurationSecs,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ChallengeIssued(model string) {
	if m == nil {
		return
	}
	m.challenges.WithLabelValues(model).Inc()
}

func (m *Metrics) SettlementOutcome(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PriceQuoted(mint, source string) {
	if m == nil {
		return
	}
	m.priceSource.WithLabelValues(mint, source).Inc()
}

func (m *Metrics) ProviderCreate(provider string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.providerCreates.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) ProviderPoll(provider, state string) {
	if m == nil {
		return
	}
	m.providerPolls.WithLabelValues(provider, state).Inc()
}

func (m *Metrics) BuybackBatch(status string) {
	if m == nil {
		return
	}
	m.buybackBatches.WithLabelValues(status).Inc()
}

func (m *Metrics) BuybackEnqueued() {
	if m == nil {
		return
	}
	m.buybackEnqueued.Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDurationSecs.WithLabelValues(method, route).Observe(seconds)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
