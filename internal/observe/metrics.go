package observe

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Embedding sources recorded by Metrics.Embedding.
const (
	SourceCache    = "cache"
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// Metrics holds the counters exported by larder. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	path     string

	embeddings *prometheus.CounterVec
	operations *prometheus.CounterVec
}

// NewMetrics registers the larder collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "larder",
			Name:      "embeddings_total",
			Help:      "Embeddings produced, by source.",
		}, []string{"source"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "larder",
			Name:      "operations_total",
			Help:      "Engine operations, by kind and result.",
		}, []string{"op", "result"}),
	}
	m.registry.MustRegister(m.embeddings, m.operations)
	return m
}

// Embedding counts one embedding served from source.
func (m *Metrics) Embedding(source string) {
	if m == nil {
		return
	}
	m.embeddings.WithLabelValues(source).Inc()
}

// Operation counts one engine operation; err decides the result label.
func (m *Metrics) Operation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// EmbeddingCounter exposes the counter for one source, mainly for tests.
func (m *Metrics) EmbeddingCounter(source string) prometheus.Counter {
	return m.embeddings.WithLabelValues(source)
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTo makes Flush write the metrics in textfile-collector format to path.
func (m *Metrics) WriteTo(path string) {
	if m == nil {
		return
	}
	m.path = path
}

// Flush writes the textfile configured with WriteTo, if any.
func (m *Metrics) Flush() error {
	if m == nil || m.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
