// Package metrics exposes Prometheus collectors for service occupancy,
// connection counts, and command outcomes. It supplements, but never
// replaces, the §6 event-log lines written by internal/eventlog.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the service registers. Construct one
// per Registry so tests can use isolated registries instead of the
// global default.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	FilesUsed         prometheus.Gauge
	BytesUsed         prometheus.Gauge
	EvictionsTotal    prometheus.Counter
	CommandsTotal     *prometheus.CounterVec
}

// New registers all collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fsd",
			Name:      "connections_active",
			Help:      "Number of live client sessions.",
		}),
		FilesUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fsd",
			Name:      "files_used",
			Help:      "Current number of payload-bearing entries in the store.",
		}),
		BytesUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fsd",
			Name:      "bytes_used",
			Help:      "Current sum of stored payload sizes, in bytes.",
		}),
		EvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fsd",
			Name:      "evictions_total",
			Help:      "Number of eviction passes that removed at least one entry.",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fsd",
			Name:      "commands_total",
			Help:      "Dispatched commands, labeled by command name and response code.",
		}, []string{"command", "code"}),
	}
}

// NewForTesting builds a Metrics backed by a fresh, unregistered registry
// so package tests never collide with the process-wide default registry.
func NewForTesting() *Metrics {
	return New(prometheus.NewRegistry())
}
