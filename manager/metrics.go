package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace is the metrics namespace of the topology manager.
const namespace = "topod"

// metrics is the set of instruments tracking the manager's accept path.
type metrics struct {
	submissions      *prometheus.CounterVec // Submissions by outcome (accepted, stale, revoked)
	listenerFailures prometheus.Counter     // Listener invocations that errored or panicked
	activeTime       prometheus.Gauge       // Monotonic timestamp of the active snapshot
	activeDevices    prometheus.Gauge       // Device count of the active snapshot
	activeLinks      prometheus.Gauge       // Link count of the active snapshot
	activeClusters   prometheus.Gauge       // Cluster count of the active snapshot
	suppliers        prometheus.Gauge       // Number of registered suppliers
	listeners        prometheus.Gauge       // Number of registered listeners
}

// Submission outcomes used as label values.
const (
	outcomeAccepted = "accepted"
	outcomeStale    = "stale"
	outcomeRevoked  = "revoked"
)

// newMetrics creates the manager instruments, registering them into the given
// registerer if one is provided.
func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "manager",
			Name: "submissions_total", Help: "Number of topology submissions by outcome.",
		}, []string{"outcome"}),
		listenerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "manager",
			Name: "listener_failures_total", Help: "Number of failed topology listener invocations.",
		}),
		activeTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "topology",
			Name: "timestamp_nanoseconds", Help: "Construction timestamp of the active topology.",
		}),
		activeDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "topology",
			Name: "devices", Help: "Number of devices in the active topology.",
		}),
		activeLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "topology",
			Name: "links", Help: "Number of links in the active topology.",
		}),
		activeClusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "topology",
			Name: "clusters", Help: "Number of clusters in the active topology.",
		}),
		suppliers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "manager",
			Name: "suppliers", Help: "Number of registered topology suppliers.",
		}),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "manager",
			Name: "listeners", Help: "Number of registered topology listeners.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			m.submissions, m.listenerFailures,
			m.activeTime, m.activeDevices, m.activeLinks, m.activeClusters,
			m.suppliers, m.listeners,
		)
	}
	return m
}
