// Package metrics exposes Prometheus counters and gauges for the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Provider gateway
	ProviderRequestsTotal *prometheus.CounterVec
	ProviderTokensTotal   *prometheus.CounterVec
	ProviderCostUSDTotal  *prometheus.CounterVec

	// Intent classifier
	IntentClassifiedTotal *prometheus.CounterVec
	IntentCacheHitsTotal  prometheus.Counter
	IntentFallbackTotal   prometheus.Counter

	// Orchestrator
	ExecutionsActive       prometheus.Gauge
	ExecutionsStartedTotal *prometheus.CounterVec
	MessagesSentTotal      *prometheus.CounterVec
	MessagesReceivedTotal  prometheus.Counter
	SignalsTotal           *prometheus.CounterVec
	AdjustmentsTotal       *prometheus.CounterVec
	UsersCompletedTotal    *prometheus.CounterVec

	// HTTP API
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_provider_requests_total",
				Help: "Total chat completion calls by provider and result",
			},
			[]string{"provider", "result"},
		),
		ProviderTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_provider_tokens_total",
				Help: "Total tokens consumed by provider and kind (prompt, completion)",
			},
			[]string{"provider", "kind"},
		),
		ProviderCostUSDTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_provider_cost_usd_total",
				Help: "Estimated provider spend in USD",
			},
			[]string{"provider"},
		),
		IntentClassifiedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_intent_classified_total",
				Help: "Messages classified by intent category",
			},
			[]string{"category"},
		),
		IntentCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "convoflow_intent_cache_hits_total",
				Help: "Intent lookups served from cache",
			},
		),
		IntentFallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "convoflow_intent_fallback_total",
				Help: "Classifications served by the keyword fallback",
			},
		),
		ExecutionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "convoflow_executions_active",
				Help: "Executions not yet completed",
			},
		),
		ExecutionsStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_executions_started_total",
				Help: "Executions created by template category",
			},
			[]string{"category"},
		),
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_messages_sent_total",
				Help: "Outbound messages by role type",
			},
			[]string{"role_type"},
		),
		MessagesReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "convoflow_messages_received_total",
				Help: "Inbound replies from target users",
			},
		),
		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_signals_total",
				Help: "Conversion signals detected by tier",
			},
			[]string{"tier"},
		),
		AdjustmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_adjustments_total",
				Help: "Auto-adjustments applied by kind",
			},
			[]string{"kind"},
		),
		UsersCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_users_completed_total",
				Help: "Target users completed by result",
			},
			[]string{"result"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convoflow_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "convoflow_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.ProviderRequestsTotal,
		m.ProviderTokensTotal,
		m.ProviderCostUSDTotal,
		m.IntentClassifiedTotal,
		m.IntentCacheHitsTotal,
		m.IntentFallbackTotal,
		m.ExecutionsActive,
		m.ExecutionsStartedTotal,
		m.MessagesSentTotal,
		m.MessagesReceivedTotal,
		m.SignalsTotal,
		m.AdjustmentsTotal,
		m.UsersCompletedTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProviderCall records one gateway call.
func (m *Metrics) ObserveProviderCall(provider, result string, promptTokens, completionTokens int, costUSD float64) {
	if m == nil {
		return
	}
	m.ProviderRequestsTotal.WithLabelValues(provider, result).Inc()
	if promptTokens > 0 {
		m.ProviderTokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
	if costUSD > 0 {
		m.ProviderCostUSDTotal.WithLabelValues(provider).Add(costUSD)
	}
}

// ObserveIntent records one classification.
func (m *Metrics) ObserveIntent(category string, cached, fallback bool) {
	if m == nil {
		return
	}
	if cached {
		m.IntentCacheHitsTotal.Inc()
		return
	}
	m.IntentClassifiedTotal.WithLabelValues(category).Inc()
	if fallback {
		m.IntentFallbackTotal.Inc()
	}
}

// ExecutionStarted records a new execution.
func (m *Metrics) ExecutionStarted(category string) {
	if m == nil {
		return
	}
	m.ExecutionsStartedTotal.WithLabelValues(category).Inc()
	m.ExecutionsActive.Inc()
}

// ExecutionCompleted decrements the active gauge.
func (m *Metrics) ExecutionCompleted() {
	if m == nil {
		return
	}
	m.ExecutionsActive.Dec()
}

// MessageSent records an outbound message.
func (m *Metrics) MessageSent(roleType string) {
	if m == nil {
		return
	}
	m.MessagesSentTotal.WithLabelValues(roleType).Inc()
}

// MessageReceived records an inbound reply.
func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceivedTotal.Inc()
}

// SignalDetected records a conversion signal.
func (m *Metrics) SignalDetected(tier string) {
	if m == nil {
		return
	}
	m.SignalsTotal.WithLabelValues(tier).Inc()
}

// AdjustmentApplied records an auto-adjustment.
func (m *Metrics) AdjustmentApplied(kind string) {
	if m == nil {
		return
	}
	m.AdjustmentsTotal.WithLabelValues(kind).Inc()
}

// UserCompleted records a queue completion.
func (m *Metrics) UserCompleted(result string) {
	if m == nil {
		return
	}
	m.UsersCompletedTotal.WithLabelValues(result).Inc()
}
