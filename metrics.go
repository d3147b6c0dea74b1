package retropricer

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the agent's Prometheus collectors. Collectors are
// created with the agent and only exported once RegisterMetrics is
// called.
type metrics struct {
	shellHits        prometheus.Counter
	shellMisses      prometheus.Counter
	networkForwards  prometheus.Counter
	offlineFallbacks prometheus.Counter
	installs         *prometheus.CounterVec
	sweptGenerations prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		shellHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retropricer",
			Subsystem: "agent",
			Name:      "shell_hits_total",
			Help:      "Shell requests served from the installed generation.",
		}),
		shellMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retropricer",
			Subsystem: "agent",
			Name:      "shell_misses_total",
			Help:      "Shell requests forwarded to the origin on cache miss.",
		}),
		networkForwards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retropricer",
			Subsystem: "agent",
			Name:      "network_forwards_total",
			Help:      "Data requests forwarded to the origin.",
		}),
		offlineFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retropricer",
			Subsystem: "agent",
			Name:      "offline_fallbacks_total",
			Help:      "Offline responses synthesized for data requests.",
		}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retropricer",
			Subsystem: "agent",
			Name:      "installs_total",
			Help:      "Install attempts by outcome.",
		}, []string{"outcome"}),
		sweptGenerations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retropricer",
			Subsystem: "agent",
			Name:      "swept_generations_total",
			Help:      "Stale cache generations deleted during activation.",
		}),
	}
}

// RegisterMetrics registers the agent's collectors with the given
// registry.
func (c *OfflineCache) RegisterMetrics(reg *prometheus.Registry) {
	reg.MustRegister(
		c.metrics.shellHits,
		c.metrics.shellMisses,
		c.metrics.networkForwards,
		c.metrics.offlineFallbacks,
		c.metrics.installs,
		c.metrics.sweptGenerations,
	)
}
