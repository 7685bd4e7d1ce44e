// Package metrics holds the Prometheus collectors for authentication
// outcomes and identity provider latency.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for backchat_authentications_total.
const (
	OutcomeReused          = "reused"
	OutcomeMatchedIdentity = "matched_identity"
	OutcomeMatchedEmail    = "matched_email"
	OutcomeCreated         = "created"
	OutcomeInvalidProvider = "invalid_provider"
	OutcomeInvalidToken    = "invalid_token"
	OutcomeError           = "error"
)

// Metrics records authentication outcomes and provider call durations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	authentications *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backchat_authentications_total",
			Help: "Authentication requests by outcome.",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backchat_provider_request_duration_seconds",
			Help:    "Duration of identity provider lookups in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"provider"}),
	}

	for _, c := range []prometheus.Collector{
		m.authentications,
		m.providerLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: registering collector: %w", err)
		}
	}
	return m, nil
}

// Authentication counts one finished authentication with the given outcome.
func (m *Metrics) Authentication(outcome string) {
	if m == nil {
		return
	}
	m.authentications.WithLabelValues(outcome).Inc()
}

// ObserveProviderRequest records how long one provider lookup took.
func (m *Metrics) ObserveProviderRequest(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
