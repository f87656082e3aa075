// Package metrics exposes retrieval operational counters through
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks operational counters for one or more retrievals sharing
// a registry.
type Metrics struct {
	Registry *prometheus.Registry

	RetrievalsStarted prometheus.Counter
	RetriesTotal      *prometheus.CounterVec
	BytesDownloaded   prometheus.Counter
	CondemnedHosts    prometheus.Counter
	RetrievalsOK      prometheus.Counter
	RetrievalsFailed  *prometheus.CounterVec
}

// New creates a Metrics instance registered in a fresh Registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RetrievalsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "retriever_retrievals_started_total",
			Help: "Total number of retrievals started.",
		}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retriever_retries_total",
			Help: "Total number of retry slots consumed, by cause kind.",
		}, []string{"cause"}),
		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "retriever_bytes_downloaded_total",
			Help: "Total wire bytes (before content decoding) of successfully retrieved entities.",
		}),
		CondemnedHosts: factory.NewCounter(prometheus.CounterOpts{
			Name: "retriever_condemned_hosts_total",
			Help: "Total number of authorities condemned as unreachable.",
		}),
		RetrievalsOK: factory.NewCounter(prometheus.CounterOpts{
			Name: "retriever_retrievals_succeeded_total",
			Help: "Total number of retrievals that finished and were renamed into place.",
		}),
		RetrievalsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retriever_retrievals_failed_total",
			Help: "Total number of retrievals that failed fatally, by error kind.",
		}, []string{"kind"}),
	}
}

// Handler returns an http.Handler serving this registry's metrics in
// Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRetry records one consumed retry slot, labeled by the bounded
// cause kind the retry counter reports (failed, incomplete, encoding,
// restart, truncated) — never a free-form error string, which would be
// an unbounded label. Meant to be handed to retrieval.Options.OnRetry
// directly.
func (m *Metrics) ObserveRetry(kind string) {
	m.RetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveCondemnedHost records one newly condemned authority. It is
// meant to be handed to retrieval.Options.OnCondemn directly (the
// authority itself isn't a label here to keep cardinality bounded).
func (m *Metrics) ObserveCondemnedHost(authority string) {
	m.CondemnedHosts.Inc()
}
