package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "bookstore"

// Option configures behaviour of a Registry.
type Option func(*options)

type options struct {
	namespace string
}

// WithNamespace overrides the namespace applied to suite collectors. Blank
// values keep the default.
func WithNamespace(namespace string) Option {
	return func(o *options) {
		if ns := strings.TrimSpace(namespace); ns != "" {
			o.namespace = ns
		}
	}
}

// Registry wraps a Prometheus registry together with the collectors the suite
// and API client report into.
type Registry struct {
	registry *prometheus.Registry

	cases         *prometheus.CounterVec
	clientLatency *prometheus.HistogramVec
}

// NewRegistry creates a registry with the suite collectors registered.
func NewRegistry(opts ...Option) *Registry {
	settings := options{namespace: defaultNamespace}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		cases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: settings.namespace,
			Subsystem: "suite",
			Name:      "cases_total",
			Help:      "Suite cases executed, by case kind and outcome.",
		}, []string{"kind", "outcome"}),
		clientLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: settings.namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Latency of calls issued against the bookstore API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
	}
	reg.MustRegister(r.cases, r.clientLatency)

	return r
}

// ObserveCase counts a finished case.
func (r *Registry) ObserveCase(kind, outcome string) {
	if r == nil {
		return
	}
	r.cases.WithLabelValues(kind, outcome).Inc()
}

// ObserveRequest records the latency of a single API call. status is the HTTP
// status code, or "error" when no response was received.
func (r *Registry) ObserveRequest(endpoint, status string, seconds float64) {
	if r == nil {
		return
	}
	r.clientLatency.WithLabelValues(endpoint, status).Observe(seconds)
}

// WriteTextfile writes the current metric state in the text exposition format,
// suitable for the node_exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil || r.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
